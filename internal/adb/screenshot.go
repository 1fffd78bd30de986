package adb

import (
	"bytes"
	"context"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// Screenshot captures the screen of the online device id as PNG.
func (c *Client) Screenshot(ctx context.Context, id string) ([]byte, error) {
	device, err := c.CurrentDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	out, err := c.ShellOutput(ctx, device.Serial(), "screencap", "-p")
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(out, pngMagic) {
		return nil, &MalformedResponseError{Response: string(out[:min(len(out), 32)])}
	}
	return out, nil
}
