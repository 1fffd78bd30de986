package adb

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	propSerialNo = "ro.serialno"
	propBrand    = "ro.product.brand"

	unknownBrand = "Unknown Brand"
)

var errTrackingEnded = errors.New("device tracking stream ended")

// track is the producer behind Devices. It reconnects forever and publishes
// an empty list whenever the server connection is lost.
func (c *Client) track(ctx context.Context, publish func([]Descriptor)) {
	log := c.log.With().Str("component", "discovery").Logger()
	for {
		err := c.trackOnce(ctx, log, publish)
		publish([]Descriptor{})
		if ctx.Err() != nil {
			return
		}
		if Classify(err) == ClassProtocol {
			log.Error().Err(err).Msg("device tracking failed")
		} else {
			log.Warn().Err(err).Dur("retry_in", c.cfg.ReconnectInterval).Msg("device tracking interrupted")
		}
		if !sleepCtx(ctx, c.cfg.ReconnectInterval) {
			return
		}
	}
}

func (c *Client) trackOnce(ctx context.Context, log zerolog.Logger, publish func([]Descriptor)) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	snapshots, err := conn.TrackDevices(ctx)
	if err != nil {
		return err
	}
	log.Debug().Str("addr", c.cfg.Dial.addr()).Msg("tracking devices")

	// Probes are cancelled before the wait.
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	probes := make(map[uint64]*probe)
	wake := make(chan struct{}, 1)
	notify := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
	var current []RawDevice
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-snapshots:
			if !ok {
				if err := conn.Err(); err != nil {
					return err
				}
				return errTrackingEnded
			}
			current = raw
			c.reconcileProbes(ctx, &wg, log, probes, current, notify)
		case <-wake:
		}
		publish(c.normalizeAll(ctx, current, probes))
	}
}

// needsProbe reports whether the server's own state for d is not trusted.
func needsProbe(d RawDevice) bool {
	return d.Type != USB && d.State == ServerDevice
}

// reconcileProbes keeps exactly one probe per probed transport id in current.
func (c *Client) reconcileProbes(ctx context.Context, wg *sync.WaitGroup, log zerolog.Logger, probes map[uint64]*probe, current []RawDevice, notify func()) {
	want := make(map[uint64]RawDevice)
	for _, d := range current {
		if needsProbe(d) {
			want[d.TransportID] = d
		}
	}
	for id, p := range probes {
		if _, ok := want[id]; !ok {
			p.stop()
			delete(probes, id)
		}
	}
	for id, d := range want {
		if _, ok := probes[id]; ok {
			continue
		}
		pctx, cancel := context.WithCancel(ctx)
		p := newProbe(d.TransportID, d.Serial, cancel)
		probes[id] = p
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel()
			c.runProbe(pctx, p, log, notify)
		}()
	}
}

// normalizeAll maps every raw entry to a descriptor. Entries whose probe has
// no verdict yet are left out.
func (c *Client) normalizeAll(ctx context.Context, current []RawDevice, probes map[uint64]*probe) []Descriptor {
	results := make([]Descriptor, len(current))
	var wg sync.WaitGroup
	for i, raw := range current {
		live := livenessUnprobed
		if p, ok := probes[raw.TransportID]; ok && needsProbe(raw) {
			live = p.verdict()
			if live == livenessUnknown {
				continue
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.normalize(ctx, raw, live)
		}()
	}
	wg.Wait()

	list := make([]Descriptor, 0, len(results))
	for _, d := range results {
		if d != nil {
			list = append(list, d)
		}
	}
	slices.SortFunc(list, Compare)
	return list
}

func (c *Client) normalize(ctx context.Context, raw RawDevice, live liveness) Descriptor {
	state := serverStateToState(raw.State)
	if live == livenessDead {
		state = StateOffline
	}
	if state.Kind != Online {
		estimated := ""
		if v, ok := c.props.Get(raw.Serial, propSerialNo); ok && v != "" {
			estimated = "serial:" + v
		}
		return NewOfflineDevice(raw.Type, state, raw.TransportID, raw.Serial, estimated)
	}

	serialNo, err := c.GetProp(ctx, raw.Serial, propSerialNo, true)
	if err != nil || serialNo == "" {
		c.log.Debug().Err(err).Str("serial", raw.Serial).Uint64("transport_id", raw.TransportID).
			Msg("could not resolve device identity")
		return NewOfflineDevice(raw.Type, StateOther("unresolved identity"), raw.TransportID, raw.Serial, "")
	}
	brand, err := c.GetProp(ctx, raw.Serial, propBrand, true)
	if err != nil || brand == "" {
		brand = unknownBrand
	}
	return NewDevice("serial:"+serialNo, raw.Type, raw.TransportID, raw.Serial, brand, raw.Model)
}

func serverStateToState(s ServerState) State {
	switch s {
	case ServerDevice:
		return StateOnline
	case ServerOffline:
		return StateOffline
	default:
		return StateOther(s.String())
	}
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
