package edge

// Normalize sanitises text for protocol-safe embedding in an SSML frame.
//
// Control characters below code point 9, and 11–31 except carriage return,
// become a space. The two newline variants become a NUL placeholder that the
// turn chunker treats as an ordinary character. The markup metacharacters
// '&', '<' and '>' become a space rather than XML entities, keeping the SSML
// body free of markup.
//
// Every replaced character is a single ASCII byte, so the output has the same
// byte length as the input and multi-byte UTF-8 sequences pass through
// untouched. Normalize never fails and has no side effects; all cursor
// arithmetic in this package runs over the normalised string.
func Normalize(text string) string {
	out := []byte(text)
	for i := 0; i < len(out); i++ {
		switch c := out[i]; {
		case c == '\n' || c == '\r':
			out[i] = 0
		case c <= 8, c >= 11 && c <= 31:
			out[i] = ' '
		case c == '&' || c == '<' || c == '>':
			out[i] = ' '
		}
	}
	return string(out)
}
