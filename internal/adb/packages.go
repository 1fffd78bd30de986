package adb

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
)

// AppPackage is one installed package.
type AppPackage struct {
	ID    string
	UID   uint32
	Flags []string
}

// HasFlag reports whether flag is set on the package.
func (p AppPackage) HasFlag(flag string) bool {
	return slices.Contains(p.Flags, flag)
}

// Debuggable reports whether the package is marked debuggable.
func (p AppPackage) Debuggable() bool {
	return p.HasFlag("DEBUGGABLE")
}

const listPackagesScript = `dumpsys package packages | grep -E '^ *Package \[|^ *userId=|^ *flags=\['`

// ListPackages returns every package installed on the online device id.
func (c *Client) ListPackages(ctx context.Context, id string) ([]AppPackage, error) {
	device, err := c.CurrentDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	var packages []AppPackage
	// dumpsys output reaches grep in blocks, so there is no read timeout.
	err = c.RunShell(ctx, device.Serial(), 0, func(_ context.Context, rw io.ReadWriter) error {
		var err error
		packages, err = ParsePackages(rw)
		return err
	}, "sh", "-c", listPackagesScript)
	if err != nil {
		return nil, fmt.Errorf("list packages on %s: %w", id, err)
	}
	return packages, nil
}

// ParsePackages reads the filtered "dumpsys package packages" output. A
// package is emitted once its id and uid are known, at the next "Package ["
// line or at end of input.
func ParsePackages(r io.Reader) ([]AppPackage, error) {
	var (
		packages []AppPackage
		cur      AppPackage
		haveID   bool
		haveUID  bool
	)
	flush := func() {
		if haveID && haveUID {
			packages = append(packages, cur)
		}
		cur, haveID, haveUID = AppPackage{}, false, false
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "Package ["):
			flush()
			if inner, ok := bracketed(line); ok {
				cur.ID, haveID = inner, true
			}
		case !haveID:
		case strings.HasPrefix(line, "userId="):
			uid, err := strconv.ParseUint(strings.TrimPrefix(line, "userId="), 10, 32)
			if err == nil {
				cur.UID, haveUID = uint32(uid), true
			}
		case strings.HasPrefix(line, "flags="):
			if inner, ok := bracketed(line); ok {
				for _, f := range strings.Fields(inner) {
					if !slices.Contains(cur.Flags, f) {
						cur.Flags = append(cur.Flags, f)
					}
				}
			}
		}
	}
	flush()
	if err := sc.Err(); err != nil {
		return packages, err
	}
	return packages, nil
}

// bracketed returns the text between the first '[' and the first ']'.
func bracketed(line string) (string, bool) {
	start := strings.IndexByte(line, '[')
	end := strings.IndexByte(line, ']')
	if start < 0 || end <= start {
		return "", false
	}
	return line[start+1 : end], true
}
