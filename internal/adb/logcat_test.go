package adb

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/FluidXR/droidtail/internal/logcat"
	"github.com/FluidXR/droidtail/internal/testutil"
)

func logRecord(sec, nsec uint32, tag, msg string) []byte {
	payload := append([]byte{byte(logcat.PriorityInfo)}, tag...)
	payload = append(payload, 0)
	payload = append(payload, msg...)
	payload = append(payload, 0)

	le := binary.LittleEndian
	b := le.AppendUint16(nil, uint16(len(payload)))
	b = le.AppendUint16(b, logcat.HeaderSize)
	for _, v := range []uint32{100, 101, sec, nsec, 0, 10001} {
		b = le.AppendUint32(b, v)
	}
	return append(b, payload...)
}

func TestLogcatStart(t *testing.T) {
	if got := logcatStart(nil); got != "0.0" {
		t.Errorf("first start = %s", got)
	}
	if got := logcatStart(&logcat.Header{Sec: 1700000000, Nsec: 5}); got != "1700000000.000000005" {
		t.Errorf("resume start = %s", got)
	}
}

func TestLogcatResumesAfterReconnect(t *testing.T) {
	s := newFakeServer(t)
	s.setProp("a", propSerialNo, "A")
	starts := make(chan string, 4)
	s.setShell(func(serial, command string, conn net.Conn) bool {
		rest, ok := strings.CutPrefix(command, `"logcat" "--binary" "-T" "`)
		if !ok {
			return false
		}
		start := strings.TrimSuffix(rest, `"`)
		starts <- start
		if start == "0.0" {
			conn.Write(logRecord(100, 5, "first", "one"))
			conn.Write(logRecord(101, 6, "second", "two"))
		} else {
			// logcat -T includes the entry at the boundary time.
			conn.Write(logRecord(101, 6, "second", "two"))
			conn.Write(logRecord(102, 0, "third", "three"))
		}
		io.Copy(io.Discard, conn)
		return true
	})
	s.pushDevices(usbDevice("a", 1))
	c := NewClient(s.config())
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := c.Logcat(ctx, "serial:A")

	ev := testutil.RequireReceive(t, events, wait, "initial event")
	if ev.Kind != LogcatInitial || ev.Device == nil || ev.Device.ID() != "serial:A" {
		t.Fatalf("event = %+v", ev)
	}
	if start := testutil.RequireReceive(t, starts, wait, "first -T"); start != "0.0" {
		t.Errorf("first -T = %s", start)
	}
	for _, want := range []string{"first", "second"} {
		e := testutil.RequireReceive(t, ev.Entries, wait, "entry")
		if e.Payload.Tag != want {
			t.Errorf("tag = %s, want %s", e.Payload.Tag, want)
		}
	}

	s.pushDevices()
	testutil.RequireClosed(t, ev.Entries, wait, "entries after device loss")
	gone := testutil.RequireReceive(t, events, wait, "disconnect event")
	if gone.Kind != LogcatDisconnected || gone.DisconnectedAt.IsZero() {
		t.Fatalf("event = %+v", gone)
	}

	s.pushDevices(usbDevice("a", 2))
	back := testutil.RequireReceive(t, events, wait, "reconnect event")
	if back.Kind != LogcatReconnect || !back.DisconnectedAt.Equal(gone.DisconnectedAt) || back.Device.TransportID() != 2 {
		t.Fatalf("event = %+v", back)
	}
	if start := testutil.RequireReceive(t, starts, wait, "resume -T"); start != "101.000000006" {
		t.Errorf("resume -T = %s", start)
	}
	if e := testutil.RequireReceive(t, back.Entries, wait, "resumed entry"); e.Payload.Tag != "third" {
		t.Errorf("first resumed entry = %s, want third (boundary entry dropped)", e.Payload.Tag)
	}
}

func TestLogcatResumeKeepsBoundarySiblings(t *testing.T) {
	s := newFakeServer(t)
	s.setProp("a", propSerialNo, "A")
	s.setShell(func(serial, command string, conn net.Conn) bool {
		rest, ok := strings.CutPrefix(command, `"logcat" "--binary" "-T" "`)
		if !ok {
			return false
		}
		if strings.TrimSuffix(rest, `"`) == "0.0" {
			conn.Write(logRecord(100, 5, "first", "one"))
			conn.Write(logRecord(101, 6, "second", "two"))
			conn.Write(logRecord(101, 6, "twin", "two"))
		} else {
			conn.Write(logRecord(101, 6, "second", "two"))
			conn.Write(logRecord(101, 6, "sibling", "late"))
			conn.Write(logRecord(101, 6, "twin", "two"))
			conn.Write(logRecord(102, 0, "third", "three"))
		}
		io.Copy(io.Discard, conn)
		return true
	})
	s.pushDevices(usbDevice("a", 1))
	c := NewClient(s.config())
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := c.Logcat(ctx, "serial:A")

	ev := testutil.RequireReceive(t, events, wait, "initial event")
	for _, want := range []string{"first", "second", "twin"} {
		if e := testutil.RequireReceive(t, ev.Entries, wait, "entry"); e.Payload.Tag != want {
			t.Errorf("tag = %s, want %s", e.Payload.Tag, want)
		}
	}

	s.pushDevices()
	testutil.RequireClosed(t, ev.Entries, wait, "entries after device loss")
	testutil.RequireReceive(t, events, wait, "disconnect event")

	s.pushDevices(usbDevice("a", 2))
	back := testutil.RequireReceive(t, events, wait, "reconnect event")
	for _, want := range []string{"sibling", "third"} {
		if e := testutil.RequireReceive(t, back.Entries, wait, "resumed entry"); e.Payload.Tag != want {
			t.Errorf("resumed tag = %s, want %s", e.Payload.Tag, want)
		}
	}
}

func TestLogResumeSkipper(t *testing.T) {
	at := func(sec, nsec uint32, tag string) logcat.Entry {
		return logcat.Entry{
			Header:  logcat.Header{Sec: sec, Nsec: nsec},
			Payload: logcat.Payload{Priority: logcat.PriorityInfo, Tag: tag, Message: "m"},
		}
	}
	var r logResume
	r.record(at(100, 0, "old"))
	r.record(at(101, 6, "a"))
	r.record(at(101, 6, "b"))

	tests := []struct {
		e    logcat.Entry
		skip bool
	}{
		{at(100, 0, "old"), true},
		{at(101, 6, "a"), true},
		{at(101, 6, "c"), false},
		{at(101, 6, "a"), false},
		{at(101, 6, "b"), true},
		{at(101, 7, "d"), false},
		{at(100, 0, "late"), false},
	}
	skip := r.skipper()
	for i, tt := range tests {
		if got := skip(tt.e); got != tt.skip {
			t.Errorf("%d: skip(%s) = %v, want %v", i, tt.e.Payload.Tag, got, tt.skip)
		}
	}
	if r.last.Sec != 101 || r.last.Nsec != 6 || len(r.delivered) != 2 {
		t.Errorf("resume = %+v, %d delivered", r.last, len(r.delivered))
	}

	var empty logResume
	if empty.skipper()(at(0, 0, "x")) {
		t.Error("fresh resume skipped an entry")
	}
}
