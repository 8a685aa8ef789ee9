package edge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Frame codec for the streaming synthesis service.
//
// Two frame kinds travel over the socket:
//
//   - Text frames: "Key:Value\r\n...\r\n\r\n<body>". Used for speech.config,
//     SSML submission, and the service's control messages (turn.start,
//     turn.end, audio.metadata, response).
//   - Binary frames: a 2-byte big-endian header length, a text-frame header
//     block of that length, then the raw audio payload. The header block is
//     informational and discarded by this client.

var (
	// ErrMissingSeparator reports a text frame without the blank-line
	// separator between headers and body.
	ErrMissingSeparator = errors.New("edge: text frame missing header separator")

	// ErrShortBinaryFrame reports a binary frame shorter than the 2-byte
	// header-length prefix.
	ErrShortBinaryFrame = errors.New("edge: binary frame missing header length")

	// ErrTruncatedBinaryFrame reports a binary frame shorter than its
	// declared header block, i.e. one with no room for audio data.
	ErrTruncatedBinaryFrame = errors.New("edge: binary frame missing audio data")
)

const headerSeparator = "\r\n\r\n"

// textFrame is a decoded text frame: parsed headers plus the raw body.
type textFrame struct {
	headers map[string]string
	body    string
}

// path returns the frame's Path header, or "" when absent.
func (f textFrame) path() string {
	return f.headers["Path"]
}

// decodeTextFrame splits msg into headers and body. Header lines are split on
// the first colon with both sides trimmed; lines without a colon are ignored.
func decodeTextFrame(msg string) (textFrame, error) {
	head, body, ok := strings.Cut(msg, headerSeparator)
	if !ok {
		return textFrame{}, ErrMissingSeparator
	}

	headers := make(map[string]string)
	for _, line := range strings.Split(head, "\r\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return textFrame{headers: headers, body: body}, nil
}

// decodeBinaryFrame extracts the audio payload from a binary frame.
func decodeBinaryFrame(msg []byte) ([]byte, error) {
	if len(msg) < 2 {
		return nil, ErrShortBinaryFrame
	}
	headerLen := int(binary.BigEndian.Uint16(msg[:2]))
	if len(msg) < 2+headerLen {
		return nil, fmt.Errorf("%w: header length %d, frame length %d",
			ErrTruncatedBinaryFrame, headerLen, len(msg))
	}
	return msg[2+headerLen:], nil
}

// configFrame builds the speech.config text frame declaring the output format
// and word-boundary metadata the client expects.
func configFrame(timestamp string) string {
	return "X-Timestamp:" + timestamp + "\r\n" +
		"Content-Type:application/json; charset=utf-8\r\n" +
		"Path:speech.config\r\n\r\n" +
		`{"context":{"synthesis":{"audio":{"metadataoptions":{` +
		`"sentenceBoundaryEnabled":false,"wordBoundaryEnabled":true},` +
		`"outputFormat":"audio-24khz-48kbitrate-mono-mp3"}}}}` + "\r\n"
}

// ssmlFrame builds a per-turn SSML submission frame. The trailing "Z" on the
// X-Timestamp value is required by the service even though the timestamp
// already names its zone.
func ssmlFrame(requestID, timestamp, ssml string) string {
	return "X-RequestId:" + requestID + "\r\n" +
		"Content-Type:application/ssml+xml\r\n" +
		"X-Timestamp:" + timestamp + "Z\r\n" +
		"Path:ssml\r\n\r\n" +
		ssml
}

// mkssml wraps an escaped text slice in the service's speak/voice/prosody
// envelope. text must already be normalised; this function does no escaping.
func mkssml(text, voice, rate, volume, pitch string) string {
	return "<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='en-US'>" +
		"<voice name='" + voice + "'>" +
		"<prosody pitch='" + pitch + "' rate='" + rate + "' volume='" + volume + "'>" +
		text +
		"</prosody></voice></speak>"
}
