// Package testutil has channel helpers for tests that exercise background
// goroutines. Every wait is bounded so a broken test fails instead of hanging.
package testutil

import (
	"fmt"
	"time"
)

// T is the subset of testing.TB the helpers need.
type T interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive waits for a value on ch, failing the test if ch closes or
// nothing arrives within timeout.
func RequireReceive[V any](t T, ch <-chan V, timeout time.Duration, what string) V {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("%s: channel closed", what)
		}
		return v
	case <-time.After(timeout):
		t.Fatalf("%s: nothing received after %v", what, timeout)
	}
	panic("unreachable")
}

// ReceiveUntil drains ch until match returns true and returns that value.
func ReceiveUntil[V any](t T, ch <-chan V, timeout time.Duration, what string, match func(V) bool) V {
	t.Helper()
	deadline := time.After(timeout)
	var last any = "nothing"
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				t.Fatalf("%s: channel closed, last value %v", what, last)
			}
			if match(v) {
				return v
			}
			last = v
		case <-deadline:
			t.Fatalf("%s: no match after %v, last value %s", what, timeout, fmt.Sprint(last))
		}
	}
}

// RequireClosed waits for ch to be closed, discarding any values sent first.
func RequireClosed[V any](t T, ch <-chan V, timeout time.Duration, what string) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("%s: channel still open after %v", what, timeout)
		}
	}
}

// RequireNoReceive fails if ch yields a value within wait.
func RequireNoReceive[V any](t T, ch <-chan V, wait time.Duration, what string) {
	t.Helper()
	select {
	case v, ok := <-ch:
		if ok {
			t.Fatalf("%s: unexpected value %v", what, v)
		}
	case <-time.After(wait):
	}
}
