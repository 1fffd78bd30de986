package adb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

type rwPair struct {
	io.Reader
	io.Writer
}

func syncFrame(tag string, n uint32, extra ...[]byte) []byte {
	b := append([]byte(tag), binary.LittleEndian.AppendUint32(nil, n)...)
	for _, e := range extra {
		b = append(b, e...)
	}
	return b
}

func u32s(vs ...uint32) []byte {
	var b []byte
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	return b
}

func TestStatExists(t *testing.T) {
	tests := []struct {
		mode, size, mtime uint32
		want              bool
	}{
		{0, 0, 0, false},
		{0o100644, 0, 0, true},
		{0, 12, 0, true},
		{0, 0, 1700000000, true},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		s := &SyncSession{rw: rwPair{bytes.NewReader(syncFrame(tagStat, tt.mode, u32s(tt.size, tt.mtime))), &out}}
		st, err := s.Stat("/data/local/tmp/x")
		if err != nil {
			t.Fatalf("Stat: %v", err)
		}
		if st.Exists() != tt.want {
			t.Errorf("Exists(%+v) = %v, want %v", st, st.Exists(), tt.want)
		}
		if want := syncFrame(tagStat, 17, []byte("/data/local/tmp/x")); !bytes.Equal(out.Bytes(), want) {
			t.Errorf("request = %q, want %q", out.Bytes(), want)
		}
	}
}

func TestStatUnexpectedTag(t *testing.T) {
	s := &SyncSession{rw: rwPair{bytes.NewReader(syncFrame("DENT", 0, u32s(0, 0))), io.Discard}}
	var malformed *MalformedResponseError
	if _, err := s.Stat("/x"); !errors.As(err, &malformed) {
		t.Errorf("err = %v, want *MalformedResponseError", err)
	}
}

func TestListConsumesDonePadding(t *testing.T) {
	var in bytes.Buffer
	in.Write(syncFrame(tagDent, 0o100644, u32s(10, 1000, 5), []byte("a.txt")))
	in.Write(syncFrame(tagDent, 0o40755, u32s(0, 2000, 3), []byte("dir")))
	in.Write(syncFrame(tagDone, 0, make([]byte, 12)))
	// The next reply must parse, so the padding after DONE has to be gone.
	in.Write(syncFrame(tagStat, 1, u32s(2, 3)))
	s := &SyncSession{rw: rwPair{&in, io.Discard}}

	entries, err := s.List("/sdcard")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []DirEntry{
		{Name: "a.txt", Mode: 0o100644, Size: 10, Mtime: 1000},
		{Name: "dir", Mode: 0o40755, Size: 0, Mtime: 2000},
	}
	if len(entries) != len(want) {
		t.Fatalf("entries = %+v", entries)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, entries[i], want[i])
		}
	}
	st, err := s.Stat("/x")
	if err != nil || st != (StatResult{Mode: 1, Size: 2, Mtime: 3}) {
		t.Errorf("Stat after List = %+v, %v", st, err)
	}
}

func TestSendFrames(t *testing.T) {
	payload := bytes.Repeat([]byte{7}, maxSyncData+10)
	mtime := time.Unix(1700000000, 0)
	var out bytes.Buffer
	s := &SyncSession{rw: rwPair{bytes.NewReader(syncFrame(statusOkay, 0)), &out}}
	if err := s.Send("/data/local/tmp/h.dex", 0o777, bytes.NewReader(payload), mtime); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var want bytes.Buffer
	want.Write(syncFrame(tagSend, uint32(len("/data/local/tmp/h.dex,511")), []byte("/data/local/tmp/h.dex,511")))
	want.Write(syncFrame(tagData, maxSyncData, payload[:maxSyncData]))
	want.Write(syncFrame(tagData, 10, payload[maxSyncData:]))
	want.Write(syncFrame(tagDone, 1700000000))
	if !bytes.Equal(out.Bytes(), want.Bytes()) {
		t.Errorf("frames differ: got %d bytes, want %d", out.Len(), want.Len())
	}
}

func TestSendFail(t *testing.T) {
	reply := syncFrame(statusFail, 8, []byte("no space"))
	s := &SyncSession{rw: rwPair{bytes.NewReader(reply), io.Discard}}
	err := s.Send("/x", 0o644, strings.NewReader("data"), time.Now())
	var fail *SyncFailError
	if !errors.As(err, &fail) || fail.Message != "no space" {
		t.Fatalf("err = %v, want SyncFailError(no space)", err)
	}
	if !errors.Is(err, ErrFailResponse) {
		t.Error("SyncFailError does not match ErrFailResponse")
	}
}

func TestQuitDoesNotRead(t *testing.T) {
	var out bytes.Buffer
	s := &SyncSession{rw: rwPair{iotestBlockingReader{t}, &out}}
	if err := s.Quit(); err != nil {
		t.Fatalf("Quit: %v", err)
	}
	if !bytes.Equal(out.Bytes(), syncFrame(tagQuit, 0)) {
		t.Errorf("Quit wrote %q", out.Bytes())
	}
}

type iotestBlockingReader struct{ t *testing.T }

func (r iotestBlockingReader) Read([]byte) (int, error) {
	r.t.Error("Quit waited for a reply")
	return 0, io.EOF
}
