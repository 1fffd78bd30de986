// Package logcat decodes the binary record stream produced by
// "logcat --binary".
package logcat

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// HeaderSize is the size of the fixed logger_entry header. Newer devices may
// send a longer header; the extra bytes are skipped.
const HeaderSize = 28

// Priority is the severity byte at the start of a payload.
type Priority int

const (
	PriorityUnknown Priority = iota
	PriorityDefault
	PriorityVerbose
	PriorityDebug
	PriorityInfo
	PriorityWarn
	PriorityError
	PriorityFatal
	PrioritySilent
)

var priorityNames = [...]string{"UNKNOWN", "DEFAULT", "VERBOSE", "DEBUG", "INFO", "WARN", "ERROR", "FATAL", "SILENT"}

func (p Priority) String() string {
	if p >= 0 && int(p) < len(priorityNames) {
		return priorityNames[p]
	}
	return "UNKNOWN"
}

// Letter returns the single-letter form logcat prints (V, D, I, ...).
func (p Priority) Letter() byte {
	switch p {
	case PriorityVerbose:
		return 'V'
	case PriorityDebug:
		return 'D'
	case PriorityInfo:
		return 'I'
	case PriorityWarn:
		return 'W'
	case PriorityError:
		return 'E'
	case PriorityFatal:
		return 'F'
	case PrioritySilent:
		return 'S'
	}
	return '?'
}

// Header is the fixed part of a log record.
type Header struct {
	PayloadLen uint16
	HeaderLen  uint16
	PID        int32
	TID        uint32
	Sec        uint32
	Nsec       uint32
	LogID      uint32
	UID        uint32
}

func parseHeader(b *[HeaderSize]byte) Header {
	le := binary.LittleEndian
	return Header{
		PayloadLen: le.Uint16(b[0:]),
		HeaderLen:  le.Uint16(b[2:]),
		PID:        int32(le.Uint32(b[4:])),
		TID:        le.Uint32(b[8:]),
		Sec:        le.Uint32(b[12:]),
		Nsec:       le.Uint32(b[16:]),
		LogID:      le.Uint32(b[20:]),
		UID:        le.Uint32(b[24:]),
	}
}

// Time returns the record timestamp.
func (h Header) Time() time.Time {
	return time.Unix(int64(h.Sec), int64(h.Nsec))
}

// Before reports whether h was logged strictly before o.
func (h Header) Before(o Header) bool {
	if h.Sec != o.Sec {
		return h.Sec < o.Sec
	}
	return h.Nsec < o.Nsec
}

func (h Header) String() string {
	return fmt.Sprintf("[%s %d:%d lid=%d uid=%d header=%d payload=%d]",
		h.Time().UTC().Format(time.RFC3339Nano), h.PID, h.TID, h.LogID, h.UID, h.HeaderLen, h.PayloadLen)
}

// Payload is the variable part of a log record: priority, tag and message.
type Payload struct {
	Priority Priority
	Tag      string
	Message  string
}

// ParsePayload splits raw payload bytes. The tag runs to the first NUL or the
// end of the buffer; a trailing NUL on the message is dropped.
func ParsePayload(data []byte) Payload {
	if len(data) == 0 {
		return Payload{}
	}
	p := Payload{Priority: PriorityUnknown}
	if int(data[0]) < len(priorityNames) {
		p.Priority = Priority(data[0])
	}
	rest := data[1:]
	tagEnd := len(rest)
	for i, c := range rest {
		if c == 0 {
			tagEnd = i
			break
		}
	}
	p.Tag = string(rest[:tagEnd])
	if tagEnd+1 >= len(rest) {
		return p
	}
	msg := rest[tagEnd+1:]
	if msg[len(msg)-1] == 0 {
		msg = msg[:len(msg)-1]
	}
	p.Message = string(msg)
	return p
}

// TagSum is a stable hash of the tag, used to pick a display colour.
func (p Payload) TagSum() uint64 {
	sum := blake3.Sum256([]byte(p.Tag))
	return binary.BigEndian.Uint64(sum[:8])
}

func (p Payload) String() string {
	return fmt.Sprintf("%s/%s: %s", p.Priority, p.Tag, p.Message)
}

// Entry is one decoded log record.
type Entry struct {
	Header  Header
	Payload Payload
}

func (e Entry) String() string {
	return e.Header.String() + "\n\t" + e.Payload.String()
}
