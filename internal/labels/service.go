// Package labels resolves package ids to the application names shown in the
// launcher. It runs a helper on the device and multiplexes every lookup over
// one long-lived session per device.
package labels

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/FluidXR/droidtail/internal/adb"
)

// ErrClosed is returned by calls on a closed Service.
var ErrClosed = errors.New("labels: service closed")

// Client is the part of *adb.Client the service needs.
type Client interface {
	Device(ctx context.Context, id string) <-chan adb.Descriptor
	DeployHelper(ctx context.Context, serial string, h adb.Helper) (string, error)
	RunShell(ctx context.Context, serial string, readTimeout time.Duration, handler adb.ShellHandler, args ...string) error
}

// Store persists resolved labels between runs.
type Store interface {
	Load(deviceID string) (map[string]string, error)
	Put(deviceID, packageID, label string) error
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithRetryDelay sets the minimum spacing between helper deploy attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Service) { s.retryDelay = d }
}

// WithReadTimeout bounds each read from the helper session.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Service) { s.readTimeout = d }
}

// WithStore warms the cache from store and writes every resolved label to it.
func WithStore(store Store) Option {
	return func(s *Service) { s.store = store }
}

type request struct {
	packageID string // empty for list-all
}

func (r request) line() string {
	if r.packageID == "" {
		return "list-all\n"
	}
	return "find:" + r.packageID + "\n"
}

// Service resolves labels for one device.
type Service struct {
	client      Client
	deviceID    string
	helper      adb.Helper
	log         zerolog.Logger
	retryDelay  time.Duration
	readTimeout time.Duration
	store       Store

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu sync.Mutex
	// cache holds every label seen, never evicted.
	cache map[string]string
	// waiters are Get calls blocked on a package id.
	waiters map[string][]chan string
	// outstanding ids were requested and not answered yet. They are sent
	// again on every new session.
	outstanding map[string]bool
	// queue is what the current session has not written yet.
	queue []request
	wake  chan struct{}
}

// New starts a service for device id. The helper is deployed and started
// whenever the device is online.
func New(client Client, deviceID string, helper adb.Helper, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		client:      client,
		deviceID:    deviceID,
		helper:      helper,
		log:         zerolog.Nop(),
		retryDelay:  5 * time.Millisecond,
		readTimeout: adb.DefaultReadTimeout,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		cache:       make(map[string]string),
		waiters:     make(map[string][]chan string),
		outstanding: make(map[string]bool),
		wake:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "labels").Str("device_id", deviceID).Logger()
	if s.store != nil {
		stored, err := s.store.Load(deviceID)
		if err != nil {
			s.log.Warn().Err(err).Msg("could not load stored labels")
		}
		for pkg, label := range stored {
			s.cache[pkg] = label
		}
	}
	go s.run()
	return s
}

// Get returns the label of packageID, asking the device if it is not
// cached. Concurrent calls for the same id share one request.
func (s *Service) Get(ctx context.Context, packageID string) (string, error) {
	if packageID == "" || strings.ContainsAny(packageID, "\n:") {
		return "", &adb.IllegalArgumentError{Argument: packageID}
	}
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return "", ErrClosed
	}
	if label, ok := s.cache[packageID]; ok {
		s.mu.Unlock()
		return label, nil
	}
	ch := make(chan string, 1)
	s.waiters[packageID] = append(s.waiters[packageID], ch)
	if !s.outstanding[packageID] {
		s.outstanding[packageID] = true
		s.enqueueLocked(request{packageID: packageID})
	}
	s.mu.Unlock()

	select {
	case label := <-ch:
		return label, nil
	case <-ctx.Done():
		s.dropWaiter(packageID, ch)
		return "", ctx.Err()
	case <-s.ctx.Done():
		return "", ErrClosed
	}
}

// Cached returns a label without asking the device.
func (s *Service) Cached(packageID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	label, ok := s.cache[packageID]
	return label, ok
}

// CacheAll asks the helper for the labels of every installed package. It
// returns once the request is queued.
func (s *Service) CacheAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	s.enqueueLocked(request{})
	return nil
}

// Close stops the session and fails pending Get calls with ErrClosed.
func (s *Service) Close() error {
	s.mu.Lock()
	s.cancel()
	s.queue = nil
	s.mu.Unlock()
	<-s.done
	return nil
}

func (s *Service) enqueueLocked(r request) {
	s.queue = append(s.queue, r)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) dropWaiter(packageID string, ch chan string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiters[packageID] = slices.DeleteFunc(s.waiters[packageID], func(c chan string) bool { return c == ch })
	if len(s.waiters[packageID]) == 0 {
		delete(s.waiters, packageID)
	}
}

// resolve records a label and hands it to every waiter before a new Get can
// see it in the cache. The store is written first.
func (s *Service) resolve(packageID, label string) {
	if s.store != nil {
		if err := s.store.Put(s.deviceID, packageID, label); err != nil {
			s.log.Warn().Err(err).Str("package", packageID).Msg("could not store label")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[packageID] = label
	delete(s.outstanding, packageID)
	for _, ch := range s.waiters[packageID] {
		ch <- label
	}
	delete(s.waiters, packageID)
}

// run follows the device and keeps one session alive while it is online.
func (s *Service) run() {
	defer close(s.done)
	// The device stream also ends when the client is closed; pending Gets
	// must not outlive it.
	defer s.cancel()
	var (
		stop context.CancelFunc
		done chan struct{}
	)
	end := func() {
		if stop != nil {
			stop()
			<-done
			stop = nil
		}
	}
	defer end()

	for d := range s.client.Device(s.ctx, s.deviceID) {
		end()
		device, ok := d.(*adb.Device)
		if !ok {
			continue
		}
		ctx, cancel := context.WithCancel(s.ctx)
		stop, done = cancel, make(chan struct{})
		go func(done chan struct{}) {
			defer close(done)
			s.supervise(ctx, device)
		}(done)
	}
}

// supervise deploys and runs the helper until ctx is done.
func (s *Service) supervise(ctx context.Context, device *adb.Device) {
	log := s.log.With().Str("serial", device.Serial()).Logger()
	limiter := rate.NewLimiter(rate.Every(s.retryDelay), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		command, err := s.client.DeployHelper(ctx, device.Serial(), s.helper)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Debug().Err(err).Msg("helper deploy failed")
			continue
		}
		session := uuid.NewString()
		sessionLog := log.With().Str("session", session).Logger()
		sessionLog.Debug().Msg("starting label session")
		err = s.client.RunShell(ctx, device.Serial(), s.readTimeout, func(ctx context.Context, rw io.ReadWriter) error {
			return s.serve(ctx, rw, sessionLog)
		}, "sh", "-c", command+" --serve")
		if ctx.Err() != nil {
			return
		}
		if adb.Classify(err) == adb.ClassProtocol {
			sessionLog.Error().Err(err).Msg("label session failed")
		} else {
			sessionLog.Debug().Err(err).Msg("label session ended")
		}
	}
}

// serve drives one helper session. The writer and the reader share a
// context: whichever fails first ends both.
func (s *Service) serve(ctx context.Context, rw io.ReadWriter, log zerolog.Logger) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if c, ok := rw.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}
	s.replayOutstanding()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.writeRequests(ctx, rw); err != nil {
			cancel(fmt.Errorf("write request: %w", err))
		}
	}()

	err := s.readResponses(bufio.NewReader(rw), log)
	cancel(err)
	wg.Wait()
	return context.Cause(ctx)
}

// replayOutstanding queues every unanswered id the queue does not already
// hold, ahead of the rest.
func (s *Service) replayOutstanding() {
	s.mu.Lock()
	defer s.mu.Unlock()
	queued := make(map[string]bool, len(s.queue))
	for _, r := range s.queue {
		queued[r.packageID] = true
	}
	var replay []request
	for pkg := range s.outstanding {
		if !queued[pkg] {
			replay = append(replay, request{packageID: pkg})
		}
	}
	slices.SortFunc(replay, func(a, b request) int { return strings.Compare(a.packageID, b.packageID) })
	if len(replay) > 0 {
		s.queue = append(replay, s.queue...)
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

func (s *Service) writeRequests(ctx context.Context, w io.Writer) error {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-ctx.Done():
				return nil
			}
		}
		r := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if _, err := io.WriteString(w, r.line()); err != nil {
			if r.packageID == "" {
				// Ids are replayed from outstanding; list-all has to be requeued.
				s.mu.Lock()
				s.queue = append([]request{r}, s.queue...)
				s.mu.Unlock()
			}
			return err
		}
	}
}

func (s *Service) readResponses(r *bufio.Reader, log zerolog.Logger) error {
	for {
		line, err := readLine(r)
		if err != nil {
			return err
		}
		switch {
		case line == "listing":
			n := 0
			for {
				entry, err := readLine(r)
				if err != nil {
					return err
				}
				if entry == "" {
					break
				}
				pkg, label, ok := strings.Cut(entry, ":")
				if !ok {
					return &adb.MalformedResponseError{Response: entry}
				}
				s.resolve(pkg, label)
				n++
			}
			log.Debug().Int("count", n).Msg("received label listing")
		case strings.HasPrefix(line, "package:"):
			parts := strings.SplitN(line, ":", 3)
			if len(parts) != 3 {
				return &adb.MalformedResponseError{Response: line}
			}
			s.resolve(parts[1], parts[2])
		case strings.HasPrefix(line, "ping:"):
		case strings.HasPrefix(line, "error:not-found:"):
			pkg := strings.TrimPrefix(line, "error:not-found:")
			s.resolve(pkg, pkg)
		default:
			return &adb.MalformedResponseError{Response: line}
		}
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
