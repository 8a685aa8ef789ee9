package edge

import (
	"io"
	"sync"
)

const (
	// minBufferSize is the floor for the accumulator's pre-sized capacity.
	minBufferSize = 1 << 20

	// expansionFactor estimates audio bytes per byte of input text, used to
	// pre-size the accumulator so streaming never reallocates.
	expansionFactor = 500
)

// accumulator collects audio payload bytes as they arrive, at a monotonically
// advancing write offset, and serves a blocking prefix reader so playback can
// begin before synthesis completes.
//
// The buffer is allocated once, zero-filled, at max(minBufferSize,
// textLen*expansionFactor). The offset never exceeds the buffer length; in
// the unexpected case that the estimate is exceeded the buffer grows, keeping
// the invariant intact. Trailing zero padding is stripped before persistence.
type accumulator struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	off    int
	sealed bool
}

func newAccumulator(textLen int) *accumulator {
	size := textLen * expansionFactor
	if size < minBufferSize {
		size = minBufferSize
	}
	a := &accumulator{buf: make([]byte, size)}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// write copies p at the current offset and advances it.
func (a *accumulator) write(p []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.off+len(p) > len(a.buf) {
		grown := make([]byte, a.off+len(p))
		copy(grown, a.buf)
		a.buf = grown
	}
	copy(a.buf[a.off:], p)
	a.off += len(p)
	a.cond.Broadcast()
}

// offset returns the current write offset.
func (a *accumulator) offset() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.off
}

// seal marks the accumulator complete. Readers drain the written prefix and
// then see io.EOF.
func (a *accumulator) seal() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sealed = true
	a.cond.Broadcast()
}

// trimmed returns the buffer with trailing zero padding stripped.
func (a *accumulator) trimmed() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return trimTrailingZeros(a.buf)
}

// reader returns an io.Reader over the written prefix. Reads block until more
// bytes are written or the accumulator is sealed.
func (a *accumulator) reader() io.Reader {
	return &prefixReader{a: a}
}

type prefixReader struct {
	a   *accumulator
	pos int
}

func (r *prefixReader) Read(p []byte) (int, error) {
	a := r.a
	a.mu.Lock()
	defer a.mu.Unlock()

	for r.pos >= a.off {
		if a.sealed {
			return 0, io.EOF
		}
		a.cond.Wait()
	}
	n := copy(p, a.buf[r.pos:a.off])
	r.pos += n
	return n, nil
}

// trimTrailingZeros returns b without its trailing zero bytes.
func trimTrailingZeros(b []byte) []byte {
	n := len(b)
	for n > 0 && b[n-1] == 0 {
		n--
	}
	return b[:n]
}
