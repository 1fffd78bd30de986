package adb

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/FluidXR/droidtail/internal/logcat"
)

// LogcatEventKind tells a connection event apart from a disconnection.
type LogcatEventKind int

const (
	LogcatDisconnected LogcatEventKind = iota
	// LogcatInitial is the first connection of a Logcat stream.
	LogcatInitial
	// LogcatReconnect follows a disconnection; DisconnectedAt is set.
	LogcatReconnect
)

func (k LogcatEventKind) String() string {
	switch k {
	case LogcatDisconnected:
		return "disconnected"
	case LogcatInitial:
		return "initial"
	case LogcatReconnect:
		return "reconnect"
	}
	return "unknown"
}

// LogcatEvent reports a change in the device connection behind a Logcat
// stream. Connected events carry the entries read on that connection; the
// channel closes when the device goes away.
type LogcatEvent struct {
	Kind           LogcatEventKind
	Device         *Device
	DisconnectedAt time.Time
	ConnectedAt    time.Time
	Entries        <-chan logcat.Entry
}

// logcatRetryDelay spaces restarts of a logcat session that failed while
// the device is still listed as online.
const logcatRetryDelay = time.Second

// Logcat follows the log of device id across disconnections. After a
// reconnect the log resumes right after the last entry delivered.
func (c *Client) Logcat(ctx context.Context, id string) <-chan LogcatEvent {
	events := make(chan LogcatEvent)
	go func() {
		defer close(events)
		log := c.log.With().Str("component", "logcat").Str("device_id", id).Logger()

		var (
			resume         logResume
			disconnectedAt time.Time
			stopSession    context.CancelFunc
			sessionDone    chan struct{}
		)
		endSession := func() {
			if stopSession == nil {
				return
			}
			stopSession()
			<-sessionDone
			stopSession = nil
			disconnectedAt = time.Now()
		}
		defer endSession()

		send := func(ev LogcatEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for d := range c.Device(ctx, id) {
			endSession()
			device, ok := d.(*Device)
			if !ok {
				if disconnectedAt.IsZero() {
					disconnectedAt = time.Now()
				}
				if !send(LogcatEvent{Kind: LogcatDisconnected, DisconnectedAt: disconnectedAt}) {
					return
				}
				continue
			}

			entries := make(chan logcat.Entry, 256)
			ev := LogcatEvent{Kind: LogcatInitial, Device: device, ConnectedAt: time.Now(), Entries: entries}
			if !disconnectedAt.IsZero() {
				ev.Kind = LogcatReconnect
				ev.DisconnectedAt = disconnectedAt
			}
			if !send(ev) {
				close(entries)
				return
			}

			var sessionCtx context.Context
			sessionCtx, stopSession = context.WithCancel(ctx)
			sessionDone = make(chan struct{})
			go func(done chan struct{}) {
				defer close(done)
				defer close(entries)
				for sessionCtx.Err() == nil {
					err := c.streamLog(sessionCtx, device.Serial(), &resume, entries)
					if sessionCtx.Err() != nil {
						return
					}
					log.Debug().Err(err).Msg("logcat session ended, restarting")
					if !sleepCtx(sessionCtx, logcatRetryDelay) {
						return
					}
				}
			}(sessionDone)
		}
	}()
	return events
}

// logResume remembers where a followed log stopped. Entries sharing the
// last timestamp are kept because "logcat -T" repeats all of them.
type logResume struct {
	last      *logcat.Header
	delivered []logcat.Entry
}

func (r *logResume) record(e logcat.Entry) {
	if r.last != nil && !r.last.Before(e.Header) && !e.Header.Before(*r.last) {
		r.delivered = append(r.delivered, e)
		return
	}
	h := e.Header
	r.last = &h
	r.delivered = []logcat.Entry{e}
}

// skipper returns a filter that drops what a resumed session repeats:
// entries older than the boundary and exact copies of those already
// delivered at it. Filtering stops at the first entry past the boundary.
func (r *logResume) skipper() func(logcat.Entry) bool {
	if r.last == nil {
		return func(logcat.Entry) bool { return false }
	}
	boundary := *r.last
	pending := slices.Clone(r.delivered)
	done := false
	return func(e logcat.Entry) bool {
		switch {
		case done:
			return false
		case e.Header.Before(boundary):
			return true
		case boundary.Before(e.Header):
			done = true
			return false
		}
		if i := slices.Index(pending, e); i >= 0 {
			pending = slices.Delete(pending, i, i+1)
			return true
		}
		return false
	}
}

// logcatStart formats the -T argument that resumes at last.
func logcatStart(last *logcat.Header) string {
	if last == nil {
		return "0.0"
	}
	return fmt.Sprintf("%d.%09d", last.Sec, last.Nsec)
}

// streamLog runs one "logcat --binary" session and forwards its entries,
// dropping the ones a previous session already delivered.
func (c *Client) streamLog(ctx context.Context, serial string, resume *logResume, out chan<- logcat.Entry) error {
	skip := resume.skipper()
	return c.RunShell(ctx, serial, 0, func(ctx context.Context, rw io.ReadWriter) error {
		decoded := make(chan logcat.Entry)
		errc := make(chan error, 1)
		go func() { errc <- logcat.Stream(ctx, rw, decoded) }()
		for e := range decoded {
			if skip(e) {
				continue
			}
			select {
			case out <- e:
				resume.record(e)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return <-errc
	}, "logcat", "--binary", "-T", logcatStart(resume.last))
}
