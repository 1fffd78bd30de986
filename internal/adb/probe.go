package adb

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type liveness int

const (
	// livenessUnprobed: not subject to probing; the server state is used.
	livenessUnprobed liveness = iota
	// livenessUnknown: probing, no verdict yet.
	livenessUnknown
	livenessAlive
	livenessDead
)

// probe tracks whether one non-USB transport is really reachable.
type probe struct {
	transportID uint64
	serial      string
	cancel      context.CancelFunc

	mu    sync.Mutex
	state liveness
}

func newProbe(transportID uint64, serial string, cancel context.CancelFunc) *probe {
	return &probe{transportID: transportID, serial: serial, cancel: cancel, state: livenessUnknown}
}

func (p *probe) verdict() liveness {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// set records a verdict and reports whether it changed.
func (p *probe) set(l liveness) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == l {
		return false
	}
	p.state = l
	return true
}

func (p *probe) stop() { p.cancel() }

// runProbe keeps a shell loop printing a line every probe interval running
// on the device. A read that exceeds the probe timeout or fails marks the
// device dead until the next byte arrives. notify is called on every
// verdict change. It returns when ctx is done.
func (c *Client) runProbe(ctx context.Context, p *probe, log zerolog.Logger, notify func()) {
	log = log.With().Str("serial", p.serial).Uint64("transport_id", p.transportID).Logger()

	// With no verdict after one timeout the device counts as offline.
	firstVerdict := time.AfterFunc(c.cfg.ProbeTimeout, func() {
		p.mu.Lock()
		changed := p.state == livenessUnknown
		if changed {
			p.state = livenessDead
		}
		p.mu.Unlock()
		if changed && ctx.Err() == nil {
			notify()
		}
	})
	defer firstVerdict.Stop()

	script := probeScript(c.cfg.ProbeInterval)
	for ctx.Err() == nil {
		received := false
		err := c.RunShell(ctx, p.serial, c.cfg.ProbeTimeout, func(ctx context.Context, rw io.ReadWriter) error {
			buf := make([]byte, 64)
			for {
				n, err := rw.Read(buf)
				if n > 0 && !received {
					received = true
					if p.set(livenessAlive) {
						log.Debug().Msg("device reachable")
						notify()
					}
				}
				if err != nil {
					return err
				}
			}
		}, "sh", "-c", script)
		if ctx.Err() != nil {
			return
		}
		if received || p.verdict() != livenessUnknown {
			if p.set(livenessDead) {
				log.Info().Err(err).Str("reason", probeFailure(err)).Msg("device unreachable")
				notify()
			}
		}
		if !received {
			log.Debug().Err(err).Msg("probe session produced no output")
			if !sleepCtx(ctx, c.cfg.ProbeInterval) {
				return
			}
		}
	}
}

// probeFailure names why a probe session ended, for the log.
func probeFailure(err error) string {
	switch {
	case isTimeout(err):
		return "timeout"
	case isExpectedClose(err):
		return "closed"
	}
	return "error"
}

// probeScript prints an empty line every interval. Sub-second intervals are
// passed as fractions; toybox sleep accepts them.
func probeScript(interval time.Duration) string {
	return fmt.Sprintf("while true; do echo; sleep %s; done", strconv.FormatFloat(interval.Seconds(), 'f', -1, 64))
}
