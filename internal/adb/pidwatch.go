package adb

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var packageIDPattern = regexp.MustCompile(`^[A-Za-z0-9._]+$`)

// pidWatchBackoff is the minimum spacing between PID watch sessions.
const pidWatchBackoff = time.Second

// WatchPID reports the process ids of packageID on device id: the first
// value as soon as it is known, then only changes. A nil slice means the
// package is not running. The channel closes when ctx is done.
func (c *Client) WatchPID(ctx context.Context, id, packageID string) (<-chan []int, error) {
	if !packageIDPattern.MatchString(packageID) {
		return nil, &IllegalArgumentError{Argument: packageID}
	}
	out := make(chan []int, 1)
	go func() {
		defer close(out)
		log := c.log.With().Str("component", "pidwatch").Str("device_id", id).Str("package", packageID).Logger()
		script := fmt.Sprintf("while true; do echo pids:$(pidof %s); sleep 1; done", packageID)
		limiter := rate.NewLimiter(rate.Every(pidWatchBackoff), 1)

		var last []int
		first := true
		emit := func(pids []int) {
			if !first && slices.Equal(last, pids) {
				return
			}
			first = false
			last = pids
			conflate(out, pids)
		}

		for {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			device, err := c.CurrentDevice(ctx, id)
			if err != nil {
				log.Debug().Err(err).Msg("device not available")
				continue
			}
			err = c.RunShell(ctx, device.Serial(), c.cfg.ProbeTimeout, func(_ context.Context, rw io.ReadWriter) error {
				sc := bufio.NewScanner(rw)
				for sc.Scan() {
					if pids, ok := parsePIDLine(sc.Text()); ok {
						emit(pids)
					}
				}
				if err := sc.Err(); err != nil {
					return err
				}
				return io.EOF
			}, "sh", "-c", script)
			if ctx.Err() != nil {
				return
			}
			log.Debug().Err(err).Msg("pid watch session ended")
		}
	}()
	return out, nil
}

// parsePIDLine parses "pids:1 2 3". An empty list yields nil.
func parsePIDLine(line string) ([]int, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), "pids:")
	if !ok {
		return nil, false
	}
	var pids []int
	for _, f := range strings.Fields(rest) {
		pid, err := strconv.Atoi(f)
		if err != nil {
			return nil, false
		}
		pids = append(pids, pid)
	}
	return pids, true
}
