package adb

import (
	"context"
	"fmt"
	"io"
	"time"
)

// HelperDir is where helper payloads are pushed.
const HelperDir = "/data/local/tmp"

// Helper is a dex payload run on the device through app_process.
type Helper struct {
	// EntryPoint is the main class.
	EntryPoint string
	// Hash identifies the content; it is part of the remote file name.
	Hash string
	// Open returns the payload bytes.
	Open func() (io.ReadCloser, error)
}

// RemotePath is the content-addressed location of the payload on the device.
func (h Helper) RemotePath() string {
	return fmt.Sprintf("%s/%s-%s.dex", HelperDir, h.EntryPoint, h.Hash)
}

// Command is the shell command line that starts the helper.
func (h Helper) Command() string {
	return fmt.Sprintf("CLASSPATH=%s app_process / %s", h.RemotePath(), h.EntryPoint)
}

// DeployHelper makes sure the helper is present on the device with serial
// and returns the command that runs it. A payload already at its remote
// path is not sent again.
func (c *Client) DeployHelper(ctx context.Context, serial string, h Helper) (string, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	stop := conn.closeOnDone(ctx)
	defer stop()

	if err := conn.Transport(serial); err != nil {
		return "", ctxErr(ctx, err)
	}
	sync, err := conn.Sync(c.cfg.Dial.ReadTimeout)
	if err != nil {
		return "", ctxErr(ctx, err)
	}
	path := h.RemotePath()
	st, err := sync.Stat(path)
	if err != nil {
		return "", ctxErr(ctx, err)
	}
	if !st.Exists() {
		c.log.Info().Str("serial", serial).Str("path", path).Msg("pushing helper")
		if err := sendHelper(sync, h, path); err != nil {
			return "", ctxErr(ctx, err)
		}
	}
	if err := sync.Quit(); err != nil {
		return "", ctxErr(ctx, err)
	}
	return h.Command(), nil
}

func sendHelper(sync *SyncSession, h Helper, path string) error {
	r, err := h.Open()
	if err != nil {
		return fmt.Errorf("open helper: %w", err)
	}
	defer r.Close()
	return sync.Send(path, 0o777, r, time.Now())
}
