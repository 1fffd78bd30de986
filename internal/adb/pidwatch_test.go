package adb

import (
	"context"
	"fmt"
	"io"
	"net"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/FluidXR/droidtail/internal/testutil"
)

func TestParsePIDLine(t *testing.T) {
	tests := []struct {
		line string
		want []int
		ok   bool
	}{
		{"pids:", nil, true},
		{"pids:1234", []int{1234}, true},
		{"pids:1234 5678\r", []int{1234, 5678}, true},
		{"hello", nil, false},
		{"pids:12x", nil, false},
	}
	for _, tt := range tests {
		got, ok := parsePIDLine(tt.line)
		if ok != tt.ok || !slices.Equal(got, tt.want) {
			t.Errorf("parsePIDLine(%q) = %v, %v; want %v, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestWatchPIDRejectsBadPackage(t *testing.T) {
	c := NewClient(DefaultConfig())
	defer c.Close()
	if _, err := c.WatchPID(context.Background(), "serial:A", "com.x; reboot"); Classify(err) != ClassArgument {
		t.Errorf("err = %v, want argument error", err)
	}
}

func TestWatchPIDEmitsChanges(t *testing.T) {
	s := newFakeServer(t)
	s.setProp("a", propSerialNo, "A")
	s.pushDevices(usbDevice("a", 1))
	s.setShell(func(serial, command string, conn net.Conn) bool {
		if !strings.Contains(command, "pidof com.example.app") {
			return false
		}
		for _, line := range []string{"pids:", "pids:", "pids:4242", "pids:4242", "pids:4242 4243"} {
			fmt.Fprintln(conn, line)
			time.Sleep(20 * time.Millisecond)
		}
		io.Copy(io.Discard, conn)
		return true
	})
	c := NewClient(s.config())
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := c.WatchPID(ctx, "serial:A", "com.example.app")
	if err != nil {
		t.Fatal(err)
	}
	got := testutil.ReceiveUntil(t, ch, wait, "both pids", func(p []int) bool { return len(p) == 2 })
	if !slices.Equal(got, []int{4242, 4243}) {
		t.Errorf("pids = %v", got)
	}
	testutil.RequireNoReceive(t, ch, 100*time.Millisecond, "repeated value")
}
