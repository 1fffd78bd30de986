package adb

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Default server address and socket timeout.
const (
	DefaultHost        = "localhost"
	DefaultPort        = 5037
	DefaultReadTimeout = 6 * time.Second
)

// DialConfig describes how to reach the ADB server.
type DialConfig struct {
	Host string
	Port int
	// TLS, when non-nil, wraps the TCP connection.
	TLS         *tls.Config
	DialTimeout time.Duration
	// ReadTimeout bounds reads of status words and replies. Zero disables it.
	ReadTimeout time.Duration
}

func (c DialConfig) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Conn is one session with the ADB server. It owns its socket exclusively
// and is not safe for concurrent use, except that Close may be called
// from any goroutine.
type Conn struct {
	conn        net.Conn
	readTimeout time.Duration

	closeOnce sync.Once
	wg        sync.WaitGroup

	mu  sync.Mutex
	err error
}

// Dial opens a connection to the ADB server.
func Dial(ctx context.Context, cfg DialConfig) (*Conn, error) {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, &ConnectError{Kind: ConnectInvalidPort, Host: cfg.Host, Port: cfg.Port}
	}
	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", cfg.addr())
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, &ConnectError{Kind: ConnectUnknownHost, Host: cfg.Host, Port: cfg.Port, Err: err}
		}
		return nil, &ConnectError{Kind: ConnectIO, Host: cfg.Host, Port: cfg.Port, Err: err}
	}
	if cfg.TLS != nil {
		tlsConfig := cfg.TLS.Clone()
		if tlsConfig.ServerName == "" {
			tlsConfig.ServerName = cfg.Host
		}
		tc := tls.Client(nc, tlsConfig)
		if err := tc.HandshakeContext(ctx); err != nil {
			nc.Close()
			return nil, &ConnectError{Kind: ConnectIO, Host: cfg.Host, Port: cfg.Port, Err: fmt.Errorf("tls handshake: %w", err)}
		}
		nc = tc
	}
	return &Conn{conn: nc, readTimeout: cfg.ReadTimeout}, nil
}

// Close releases the socket and waits for any background reader to exit.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	c.wg.Wait()
	return err
}

// closeOnDone closes c when ctx is done. The returned func detaches the hook.
func (c *Conn) closeOnDone(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		c.closeOnce.Do(func() { c.conn.Close() })
	})
}

// Err returns the error that ended a background stream, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// Read implements io.Reader, arming the read timeout before every call.
func (c *Conn) Read(p []byte) (int, error) {
	if c.readTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}
	return c.conn.Read(p)
}

// Write implements io.Writer.
func (c *Conn) Write(p []byte) (int, error) {
	return c.conn.Write(p)
}

// request sends a host command and waits for its status.
func (c *Conn) request(command string) error {
	if err := writeHex4Prefixed(c, []byte(command)); err != nil {
		return fmt.Errorf("send %q: %w", command, err)
	}
	if err := readStatus(c); err != nil {
		return fmt.Errorf("%s: %w", command, err)
	}
	return nil
}

// TrackDevices subscribes to device-list snapshots. Snapshots are delivered
// through a single-slot conflating queue, so a slow consumer only sees the
// newest. The channel closes when the stream ends; Err reports why.
func (c *Conn) TrackDevices(ctx context.Context) (<-chan []RawDevice, error) {
	if err := c.request("host:track-devices-proto-binary"); err != nil {
		return nil, err
	}
	c.readTimeout = 0
	out := make(chan []RawDevice, 1)
	stop := c.closeOnDone(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer stop()
		defer close(out)
		buf := make([]byte, 4096)
		for {
			n, err := readHex4(c)
			if err != nil {
				c.setErr(fmt.Errorf("track devices: %w", err))
				return
			}
			if n > cap(buf) {
				buf = make([]byte, max(n, 2*cap(buf)))
			}
			buf = buf[:n]
			if _, err := io.ReadFull(c, buf); err != nil {
				c.setErr(fmt.Errorf("track devices: %w", err))
				return
			}
			devices, err := decodeDevices(buf)
			if err != nil {
				c.setErr(err)
				return
			}
			conflate(out, devices)
		}
	}()
	return out, nil
}

// conflate replaces any pending value in a one-slot channel. It must only
// be called by the channel's single producer.
func conflate[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- v
}

// Transport binds the rest of this connection to the device with serial.
func (c *Conn) Transport(serial string) error {
	return c.request("host:transport:" + serial)
}

// QuoteArgs quotes every argument for the shell service. The transport has no
// escaping, so an argument containing a double quote is rejected.
func QuoteArgs(args []string) (string, error) {
	quoted := make([]string, len(args))
	for i, arg := range args {
		if strings.ContainsRune(arg, '"') {
			return "", &IllegalArgumentError{Argument: arg}
		}
		quoted[i] = `"` + arg + `"`
	}
	return strings.Join(quoted, " "), nil
}

// Shell starts a remote command and returns the raw byte stream to it.
// readTimeout bounds every read from the stream; zero blocks indefinitely.
func (c *Conn) Shell(readTimeout time.Duration, args ...string) (io.ReadWriter, error) {
	quoted, err := QuoteArgs(args)
	if err != nil {
		return nil, err
	}
	if err := c.request("shell:command " + quoted); err != nil {
		return nil, err
	}
	c.readTimeout = readTimeout
	return c, nil
}

// Sync enters the sync sub-protocol.
func (c *Conn) Sync(readTimeout time.Duration) (*SyncSession, error) {
	if err := c.request("sync:"); err != nil {
		return nil, err
	}
	c.readTimeout = readTimeout
	return &SyncSession{rw: c}, nil
}
