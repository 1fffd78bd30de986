package logcat

import (
	"bufio"
	"context"
	"fmt"
	"io"
)

// HeaderError reports a record header that cannot be valid.
type HeaderError struct {
	HeaderLen uint16
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("logcat: header length %d is less than the minimum %d", e.HeaderLen, HeaderSize)
}

// Decoder reads log records from a byte stream.
type Decoder struct {
	r   *bufio.Reader
	hdr [HeaderSize]byte
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next decodes one record. It returns io.EOF at a clean end of stream and
// io.ErrUnexpectedEOF when the stream ends inside a record.
func (d *Decoder) Next() (Entry, error) {
	if _, err := io.ReadFull(d.r, d.hdr[:]); err != nil {
		return Entry{}, err
	}
	h := parseHeader(&d.hdr)
	if h.HeaderLen < HeaderSize {
		return Entry{}, &HeaderError{HeaderLen: h.HeaderLen}
	}
	if extra := int64(h.HeaderLen) - HeaderSize; extra > 0 {
		if _, err := io.CopyN(io.Discard, d.r, extra); err != nil {
			return Entry{}, noEOF(err)
		}
	}
	payload := make([]byte, h.PayloadLen)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return Entry{}, noEOF(err)
	}
	return Entry{Header: h, Payload: ParsePayload(payload)}, nil
}

func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Stream decodes r into out until the stream ends, fails or ctx is done. It
// closes out before returning. A clean end of stream returns nil.
func Stream(ctx context.Context, r io.Reader, out chan<- Entry) error {
	defer close(out)
	dec := NewDecoder(r)
	for {
		e, err := dec.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case out <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
