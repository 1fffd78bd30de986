package adb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"time"
)

// maxSyncData is the largest DATA frame the server accepts.
const maxSyncData = 64 * 1024

// SyncSession speaks the file-transfer sub-protocol on a connection that
// has entered sync mode. One request at a time.
type SyncSession struct {
	rw io.ReadWriter
}

// StatResult is the reply to STAT.
type StatResult struct {
	Mode  uint32
	Size  uint32
	Mtime uint32
}

// Exists reports whether the server found the path. A missing file comes
// back as all zeroes.
func (s StatResult) Exists() bool {
	return s.Mode != 0 || s.Size != 0 || s.Mtime != 0
}

// DirEntry is one DENT record of a LIST reply.
type DirEntry struct {
	Name  string
	Mode  uint32
	Size  uint32
	Mtime uint32
}

func (s *SyncSession) request(tag, path string) error {
	if err := writeSyncHeader(s.rw, tag, uint32(len(path))); err != nil {
		return err
	}
	_, err := io.WriteString(s.rw, path)
	return err
}

// Stat returns the mode, size and mtime of path.
func (s *SyncSession) Stat(path string) (StatResult, error) {
	if err := s.request(tagStat, path); err != nil {
		return StatResult{}, fmt.Errorf("stat %s: %w", path, err)
	}
	var b [16]byte
	if _, err := io.ReadFull(s.rw, b[:]); err != nil {
		return StatResult{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if tag := string(b[:4]); tag != tagStat {
		return StatResult{}, &MalformedResponseError{Response: tag}
	}
	return StatResult{
		Mode:  binary.LittleEndian.Uint32(b[4:]),
		Size:  binary.LittleEndian.Uint32(b[8:]),
		Mtime: binary.LittleEndian.Uint32(b[12:]),
	}, nil
}

// List returns the entries of the directory at path.
func (s *SyncSession) List(path string) ([]DirEntry, error) {
	if err := s.request(tagList, path); err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	var entries []DirEntry
	for {
		tag, n, err := readSyncHeader(s.rw)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", path, err)
		}
		switch tag {
		case tagDent:
			var b [12]byte
			if _, err := io.ReadFull(s.rw, b[:]); err != nil {
				return nil, fmt.Errorf("list %s: %w", path, err)
			}
			name := make([]byte, binary.LittleEndian.Uint32(b[8:]))
			if _, err := io.ReadFull(s.rw, name); err != nil {
				return nil, fmt.Errorf("list %s: %w", path, err)
			}
			entries = append(entries, DirEntry{
				Name:  string(name),
				Mode:  n,
				Size:  binary.LittleEndian.Uint32(b[0:]),
				Mtime: binary.LittleEndian.Uint32(b[4:]),
			})
		case tagDone:
			// DONE is padded like a DENT without a name.
			var pad [12]byte
			if _, err := io.ReadFull(s.rw, pad[:]); err != nil {
				return nil, fmt.Errorf("list %s: %w", path, err)
			}
			return entries, nil
		case statusFail:
			return nil, s.readFail(n)
		default:
			return nil, &MalformedResponseError{Response: tag}
		}
	}
}

// Send uploads r to path with the given permission bits and modification time.
func (s *SyncSession) Send(path string, mode fs.FileMode, r io.Reader, mtime time.Time) error {
	target := path + "," + strconv.FormatUint(uint64(mode.Perm()), 10)
	if err := s.request(tagSend, target); err != nil {
		return fmt.Errorf("send %s: %w", path, err)
	}
	buf := make([]byte, maxSyncData)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if werr := writeSyncHeader(s.rw, tagData, uint32(n)); werr != nil {
				return fmt.Errorf("send %s: %w", path, werr)
			}
			if _, werr := s.rw.Write(buf[:n]); werr != nil {
				return fmt.Errorf("send %s: %w", path, werr)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("send %s: read source: %w", path, err)
		}
	}
	if err := writeSyncHeader(s.rw, tagDone, uint32(mtime.Unix())); err != nil {
		return fmt.Errorf("send %s: %w", path, err)
	}
	tag, n, err := readSyncHeader(s.rw)
	if err != nil {
		return fmt.Errorf("send %s: %w", path, err)
	}
	switch tag {
	case statusOkay:
		return nil
	case statusFail:
		return s.readFail(n)
	default:
		return &MalformedResponseError{Response: tag}
	}
}

// Quit ends sync mode. The server sends no reply.
func (s *SyncSession) Quit() error {
	return writeSyncHeader(s.rw, tagQuit, 0)
}

func (s *SyncSession) readFail(n uint32) error {
	msg := make([]byte, n)
	if _, err := io.ReadFull(s.rw, msg); err != nil {
		return fmt.Errorf("read FAIL message: %w", err)
	}
	return &SyncFailError{Message: string(msg)}
}
