package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/FluidXR/droidtail/internal/adb"
	"github.com/FluidXR/droidtail/internal/logcat"
)

var (
	logcatPackage string
	logcatFilter  string
	logcatOut     string
)

var logcatCmd = &cobra.Command{
	Use:   "logcat <device>",
	Short: "Follow a device log across reconnects",
	Long: `Streams the device log. When the device drops off and comes back, the log
resumes right after the last line printed.

Filter terms: tag:NAME -tag:NAME tag.contains:TEXT -tag.contains:TEXT
priority:w,e -priority:v

Example: droidtail logcat serial:R58M12345 --package com.example.app --out app.log.zst`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		ctx := cmd.Context()
		dev, err := findDevice(ctx, e, args[0])
		if err != nil {
			return err
		}

		out, err := openOutput(logcatOut)
		if err != nil {
			return err
		}
		defer out.Close()
		w := bufio.NewWriter(out)
		defer w.Flush()
		color := colorOutput(logcatOut)

		filter := logcat.ParseFilter(logcatFilter)
		var pids atomic.Pointer[map[int32]bool]
		if logcatPackage != "" {
			empty := map[int32]bool{}
			pids.Store(&empty)
			changes, err := e.client.WatchPID(ctx, dev.ID(), logcatPackage)
			if err != nil {
				return err
			}
			go func() {
				for list := range changes {
					set := make(map[int32]bool, len(list))
					for _, pid := range list {
						set[int32(pid)] = true
					}
					pids.Store(&set)
					if len(list) == 0 {
						fmt.Fprintf(os.Stderr, "-- %s is not running\n", logcatPackage)
					} else {
						fmt.Fprintf(os.Stderr, "-- %s running as %v\n", logcatPackage, list)
					}
				}
			}()
		}

		for ev := range e.client.Logcat(ctx, dev.ID()) {
			switch ev.Kind {
			case adb.LogcatDisconnected:
				fmt.Fprintf(os.Stderr, "-- disconnected at %s\n", ev.DisconnectedAt.Format(time.TimeOnly))
			case adb.LogcatReconnect:
				fmt.Fprintf(os.Stderr, "-- %s reconnected after %s\n", ev.Device.Label(), ev.ConnectedAt.Sub(ev.DisconnectedAt).Round(time.Second))
			case adb.LogcatInitial:
				fmt.Fprintf(os.Stderr, "-- connected to %s\n", ev.Device)
			}
			for entry := range ev.Entries {
				if set := pids.Load(); set != nil && !(*set)[entry.Header.PID] {
					continue
				}
				if !filter.Match(entry.Payload.Priority, entry.Payload.Tag) {
					continue
				}
				if _, err := io.WriteString(w, formatEntry(entry, color)); err != nil {
					return fmt.Errorf("write log: %w", err)
				}
				if len(ev.Entries) == 0 {
					w.Flush()
				}
			}
			w.Flush()
		}
		return nil
	},
}

// colorOutput reports whether log lines go to a terminal.
func colorOutput(path string) bool {
	if path != "" && path != "-" {
		return false
	}
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// formatEntry renders an entry the way "logcat -v threadtime" does. With
// color set, each tag keeps one ANSI color picked from its hash.
func formatEntry(e logcat.Entry, color bool) string {
	msg := strings.TrimRight(e.Payload.Message, "\n")
	tag := e.Payload.Tag
	if color {
		tag = fmt.Sprintf("\x1b[%dm%s\x1b[0m", 31+e.Payload.TagSum()%6, tag)
	}
	prefix := fmt.Sprintf("%s %5d %5d %c %s: ",
		e.Header.Time().Format("01-02 15:04:05.000"), e.Header.PID, e.Header.TID,
		e.Payload.Priority.Letter(), tag)
	var b strings.Builder
	for _, line := range strings.Split(msg, "\n") {
		b.WriteString(prefix)
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

type zstdFile struct {
	*zstd.Encoder
	f *os.File
}

func (z zstdFile) Close() error {
	if err := z.Encoder.Close(); err != nil {
		z.f.Close()
		return err
	}
	return z.f.Close()
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// openOutput returns stdout for "" or "-", a zstd stream for *.zst, else a
// plain file.
func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if !strings.HasSuffix(path, ".zst") {
		return f, nil
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return zstdFile{Encoder: enc, f: f}, nil
}

func init() {
	logcatCmd.Flags().StringVarP(&logcatPackage, "package", "p", "", "Only show lines from this package's processes")
	logcatCmd.Flags().StringVarP(&logcatFilter, "filter", "f", "", "Filter expression")
	logcatCmd.Flags().StringVarP(&logcatOut, "out", "o", "", "Write to a file instead of stdout (.zst compresses)")
	rootCmd.AddCommand(logcatCmd)
}
