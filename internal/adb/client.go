package adb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/FluidXR/droidtail/internal/pubsub"
)

// Config controls how the client reaches the server and how often it
// retries.
type Config struct {
	Dial DialConfig
	// ReconnectInterval is the wait between attempts to (re)open device tracking.
	ReconnectInterval time.Duration
	// ProbeInterval is how often the liveness probe prints a line.
	ProbeInterval time.Duration
	// ProbeTimeout is how long the probe may stay silent before the device counts as offline.
	ProbeTimeout time.Duration
	// StopGrace keeps device tracking alive after the last subscriber leaves.
	StopGrace time.Duration
}

// DefaultConfig returns the stock server address and timings.
func DefaultConfig() Config {
	return Config{
		Dial: DialConfig{
			Host:        DefaultHost,
			Port:        DefaultPort,
			DialTimeout: 5 * time.Second,
			ReadTimeout: DefaultReadTimeout,
		},
		ReconnectInterval: 10 * time.Second,
		ProbeInterval:     3 * time.Second,
		ProbeTimeout:      6 * time.Second,
		StopGrace:         10 * time.Second,
	}
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for background loops.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithPropertyCache replaces the default never-expiring property cache.
func WithPropertyCache(cache PropertyCache) Option {
	return func(c *Client) { c.props = cache }
}

// Client talks to one ADB server.
type Client struct {
	cfg     Config
	log     zerolog.Logger
	props   PropertyCache
	devices *pubsub.Hub[[]Descriptor]
}

// NewClient creates a client. Nothing connects until a method needs it.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:   cfg,
		log:   zerolog.Nop(),
		props: NewPropertyCache(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.devices = pubsub.New(c.track, cfg.StopGrace)
	return c
}

// Close stops device tracking and ends every Devices subscription.
func (c *Client) Close() {
	c.devices.Close()
}

// Devices returns the sorted device list: the latest list right away, if one
// is known, then every update. Tracking runs while at least one subscriber
// is listening and stops a grace period after the last one leaves.
func (c *Client) Devices(ctx context.Context) <-chan []Descriptor {
	return c.devices.Subscribe(ctx)
}

// CurrentDevices returns the next available device list.
func (c *Client) CurrentDevices(ctx context.Context) ([]Descriptor, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	select {
	case list, ok := <-c.Devices(ctx):
		if !ok {
			return nil, ErrClientClosed
		}
		return list, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CurrentDevice returns the online device with the given id, or a
// *DeviceOfflineError.
func (c *Client) CurrentDevice(ctx context.Context, id string) (*Device, error) {
	list, err := c.CurrentDevices(ctx)
	if err != nil {
		return nil, err
	}
	if d, ok := FindDevice(list, id).(*Device); ok {
		return d, nil
	}
	return nil, &DeviceOfflineError{DeviceID: id}
}

// FindDevice returns the online device with id, else an offline entry whose
// estimated id matches, else nil.
func FindDevice(list []Descriptor, id string) Descriptor {
	for _, d := range list {
		if dev, ok := d.(*Device); ok && dev.ID() == id {
			return dev
		}
	}
	for _, d := range list {
		if d.EstimatedID() == id {
			return d
		}
	}
	return nil
}

// Device follows one device through the list. It emits the current entry
// (nil when absent) and then only when presence, transport id or state
// changes.
func (c *Client) Device(ctx context.Context, id string) <-chan Descriptor {
	lists := c.Devices(ctx)
	out := make(chan Descriptor, 1)
	go func() {
		defer close(out)
		first := true
		var last Descriptor
		for list := range lists {
			d := FindDevice(list, id)
			if !first && sameDescriptor(last, d) {
				continue
			}
			first = false
			last = d
			conflate(out, d)
		}
	}()
	return out
}

func sameDescriptor(a, b Descriptor) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return IsOnline(a) == IsOnline(b) && a.TransportID() == b.TransportID() && a.State() == b.State()
}

func (c *Client) dial(ctx context.Context) (*Conn, error) {
	return Dial(ctx, c.cfg.Dial)
}

// ShellHandler consumes a running shell command. rw writes to the command's
// stdin and reads its output.
type ShellHandler func(ctx context.Context, rw io.ReadWriter) error

// RunShell runs args on the device with serial over a fresh connection and
// hands the stream to handler. readTimeout bounds every read; zero waits
// forever. Cancelling ctx closes the connection.
func (c *Client) RunShell(ctx context.Context, serial string, readTimeout time.Duration, handler ShellHandler, args ...string) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := conn.closeOnDone(ctx)
	defer stop()

	if err := conn.Transport(serial); err != nil {
		return ctxErr(ctx, err)
	}
	rw, err := conn.Shell(readTimeout, args...)
	if err != nil {
		return ctxErr(ctx, err)
	}
	return ctxErr(ctx, handler(ctx, rw))
}

// ctxErr prefers the context error over the I/O error its cancellation caused.
func ctxErr(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// ShellOutput runs a one-shot command and returns everything it printed.
// Reads have no timeout: commands such as screencap may stay silent for a
// while before producing output. Cancel ctx to give up.
func (c *Client) ShellOutput(ctx context.Context, serial string, args ...string) ([]byte, error) {
	return c.shellOutput(ctx, serial, 0, args...)
}

func (c *Client) shellOutput(ctx context.Context, serial string, readTimeout time.Duration, args ...string) ([]byte, error) {
	var buf bytes.Buffer
	err := c.RunShell(ctx, serial, readTimeout, func(_ context.Context, rw io.ReadWriter) error {
		_, err := buf.ReadFrom(rw)
		return err
	}, args...)
	if err != nil {
		return nil, fmt.Errorf("shell %s: %w", strings.Join(args, " "), err)
	}
	return buf.Bytes(), nil
}

// GetProp reads a system property. With cached set the value is served from
// and stored in the property cache.
func (c *Client) GetProp(ctx context.Context, serial, prop string, cached bool) (string, error) {
	if cached {
		if v, ok := c.props.Get(serial, prop); ok {
			return v, nil
		}
	}
	// Discovery resolves properties inline, so a silent device must not stall it.
	out, err := c.shellOutput(ctx, serial, c.cfg.Dial.ReadTimeout, "getprop", prop)
	if err != nil {
		return "", err
	}
	v := strings.TrimSpace(string(out))
	if cached {
		c.props.Put(serial, prop, v)
	}
	return v, nil
}
