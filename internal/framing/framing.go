package framing

import "errors"

// Delimiter terminates every encoded frame on the wire. COBS stuffing
// guarantees it never appears inside an encoded payload.
const Delimiter byte = 0x00

// DefaultMaxFrameSize bounds pending bytes for a decoder that never sees
// a delimiter.
const DefaultMaxFrameSize = 4096

var (
	ErrMalformed = errors.New("framing: malformed frame")
	ErrOverflow  = errors.New("framing: frame exceeds size limit")
)

// Encode COBS-stuffs payload and appends the delimiter terminator.
func Encode(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+2+len(payload)/254)
	codeIdx := 0
	out = append(out, 0)
	code := byte(1)
	for _, b := range payload {
		if b == Delimiter {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0)
			code = 1
			continue
		}
		out = append(out, b)
		code++
		if code == 0xFF {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0)
			code = 1
		}
	}
	out[codeIdx] = code
	out = append(out, Delimiter)
	return out
}

// Result is one decoder output: a complete frame or a framing error.
// Exactly one of Frame/Err is set.
type Result struct {
	Frame []byte
	Err   error
}

// Decoder extracts frames from an arbitrarily-chunked byte stream.
// Feed may be called with partial frames; state carries across calls.
type Decoder struct {
	max     int
	buf     []byte
	discard bool
}

func NewDecoder(maxFrameSize int) *Decoder {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Decoder{max: maxFrameSize, buf: make([]byte, 0, 256)}
}

// Feed consumes a chunk of raw stream bytes and returns all frames and
// errors completed by it, in stream order. A delimiter with no pending
// bytes yields nothing (keep-alive). After a malformed run or overflow
// the decoder discards input through the next delimiter and resumes.
func (d *Decoder) Feed(chunk []byte) []Result {
	var out []Result
	for _, b := range chunk {
		if b == Delimiter {
			if d.discard {
				d.discard = false
				continue
			}
			if len(d.buf) == 0 {
				continue
			}
			frame, err := unstuff(d.buf)
			d.buf = d.buf[:0]
			if err != nil {
				out = append(out, Result{Err: err})
				continue
			}
			out = append(out, Result{Frame: frame})
			continue
		}
		if d.discard {
			continue
		}
		if len(d.buf) >= d.max {
			d.buf = d.buf[:0]
			d.discard = true
			out = append(out, Result{Err: ErrOverflow})
			continue
		}
		d.buf = append(d.buf, b)
	}
	return out
}

// Pending reports how many raw bytes are buffered awaiting a delimiter.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// unstuff reverses COBS stuffing over one delimiter-free run.
func unstuff(buf []byte) ([]byte, error) {
	out := make([]byte, 0, len(buf))
	i := 0
	for i < len(buf) {
		code := buf[i]
		i++
		n := int(code) - 1
		if i+n > len(buf) {
			return nil, ErrMalformed
		}
		out = append(out, buf[i:i+n]...)
		i += n
		if code != 0xFF && i < len(buf) {
			out = append(out, 0)
		}
	}
	return out, nil
}
