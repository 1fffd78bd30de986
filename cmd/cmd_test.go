package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/FluidXR/droidtail/internal/adb"
	"github.com/FluidXR/droidtail/internal/logcat"
)

func TestFormatEntry(t *testing.T) {
	ts := time.Date(2024, 3, 7, 9, 5, 1, 250_000_000, time.Local)
	e := logcat.Entry{
		Header: logcat.Header{PID: 123, TID: 456, Sec: uint32(ts.Unix()), Nsec: uint32(ts.Nanosecond())},
		Payload: logcat.Payload{
			Priority: logcat.PriorityWarn,
			Tag:      "Net",
			Message:  "first\nsecond\n",
		},
	}
	want := "03-07 09:05:01.250   123   456 W Net: first\n" +
		"03-07 09:05:01.250   123   456 W Net: second\n"
	if got := formatEntry(e, false); got != want {
		t.Errorf("formatEntry =\n%q\nwant\n%q", got, want)
	}
}

func TestFormatEntryColorsTag(t *testing.T) {
	entry := func(tag string) logcat.Entry {
		return logcat.Entry{Payload: logcat.Payload{Priority: logcat.PriorityInfo, Tag: tag, Message: "x"}}
	}
	tests := []string{"Net", "ActivityManager", ""}
	for _, tag := range tests {
		e := entry(tag)
		code := 31 + e.Payload.TagSum()%6
		want := fmt.Sprintf(" I \x1b[%dm%s\x1b[0m: x\n", code, tag)
		got := formatEntry(e, true)
		if !strings.HasSuffix(got, want) {
			t.Errorf("formatEntry(%q) = %q, want suffix %q", tag, got, want)
		}
		if again := formatEntry(entry(tag), true); again != got {
			t.Errorf("formatEntry(%q) not stable: %q vs %q", tag, got, again)
		}
	}
}

func TestFormatPIDs(t *testing.T) {
	if got := formatPIDs(nil); got != "not running" {
		t.Errorf("formatPIDs(nil) = %q", got)
	}
	if got := formatPIDs([]int{12, 345}); got != "12 345" {
		t.Errorf("formatPIDs = %q", got)
	}
}

func TestMatchDevice(t *testing.T) {
	online := adb.NewDevice("serial:R58M", adb.TCP, 3, "10.0.0.5:5555", "samsung", "SM-G991B")
	offline := adb.NewOfflineDevice(adb.USB, adb.StateOffline, 4, "emulator-5554", "")

	tests := []struct {
		d    adb.Descriptor
		arg  string
		want bool
	}{
		{online, "serial:R58M", true},
		{online, "R58M", true},
		{online, "10.0.0.5:5555", true},
		{online, "R58", false},
		{offline, "emulator-5554", true},
		{offline, "", false},
	}
	for _, tt := range tests {
		if got := matchDevice(tt.d, tt.arg); got != tt.want {
			t.Errorf("matchDevice(%v, %q) = %v, want %v", tt.d, tt.arg, got, tt.want)
		}
	}
}

func TestOpenOutputCompresses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.zst")
	w, err := openOutput(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(w, "hello log\n"); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	data, err := io.ReadAll(dec)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello log\n" {
		t.Errorf("decompressed = %q", data)
	}
}

func TestOpenOutputPlain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	w, err := openOutput(path)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(w, "plain\n")
	w.Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "plain\n" {
		t.Errorf("content = %q", data)
	}
}
