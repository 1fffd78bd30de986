package adb

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Status words and sync tags.
const (
	statusOkay = "OKAY"
	statusFail = "FAIL"

	tagStat = "STAT"
	tagList = "LIST"
	tagDent = "DENT"
	tagSend = "SEND"
	tagData = "DATA"
	tagDone = "DONE"
	tagQuit = "QUIT"

	maxHex4 = 0xffff
)

const hexDigits = "0123456789abcdef"

// EncodeHex4 encodes n as four lowercase hex digits.
func EncodeHex4(n int) ([4]byte, error) {
	var out [4]byte
	if n < 0 || n > maxHex4 {
		return out, fmt.Errorf("%w: %d", ErrLengthOutOfRange, n)
	}
	for i := 3; i >= 0; i-- {
		out[i] = hexDigits[n&0xf]
		n >>= 4
	}
	return out, nil
}

// DecodeHex4 decodes four hex digits, accepting either case.
func DecodeHex4(b [4]byte) (int, error) {
	n := 0
	for _, c := range b {
		var d byte
		switch {
		case c >= '0' && c <= '9':
			d = c - '0'
		case c >= 'a' && c <= 'f':
			d = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			d = c - 'A' + 10
		default:
			return 0, &MalformedResponseError{Response: string(b[:])}
		}
		n = n<<4 | int(d)
	}
	return n, nil
}

func writeHex4Prefixed(w io.Writer, data []byte) error {
	prefix, err := EncodeHex4(len(data))
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(prefix)+len(data))
	buf = append(buf, prefix[:]...)
	buf = append(buf, data...)
	_, err = w.Write(buf)
	return err
}

func readHex4(r io.Reader) (int, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return DecodeHex4(b)
}

// readStatus consumes the 4-byte status that starts every host response.
func readStatus(r io.Reader) error {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	switch string(b[:]) {
	case statusOkay:
		return nil
	case statusFail:
		return ErrFailResponse
	default:
		return &MalformedResponseError{Response: string(b[:])}
	}
}

// writeSyncHeader writes a sync frame header: 4-byte tag, little-endian length.
func writeSyncHeader(w io.Writer, tag string, length uint32) error {
	var b [8]byte
	copy(b[:4], tag)
	binary.LittleEndian.PutUint32(b[4:], length)
	_, err := w.Write(b[:])
	return err
}

func readSyncHeader(r io.Reader) (string, uint32, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return "", 0, err
	}
	return string(b[:4]), binary.LittleEndian.Uint32(b[4:]), nil
}
