// Package fanout delivers room snapshots to the connections subscribed to a
// room. Delivery is best effort: a connection that fails or times out is
// dropped and nothing is retried or queued.
package fanout

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/planning-poker/internal/engine"
)

const (
	DefaultWriteTimeout   = 3 * time.Second
	DefaultMaxConcurrency = 32
)

// Conn is one live client connection. Send must be safe to call from any
// goroutine and must honor ctx.
type Conn interface {
	ID() string
	Send(ctx context.Context, payload []byte) error
}

type Options struct {
	WriteTimeout   time.Duration
	MaxConcurrency int
	Logger         *zap.Logger
}

type Fanout struct {
	mu           sync.Mutex
	conns        map[string]Conn
	writeTimeout time.Duration
	concurrency  int
	logger       *zap.Logger
}

func New(opts Options) *Fanout {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Fanout{
		conns:        make(map[string]Conn),
		writeTimeout: opts.WriteTimeout,
		concurrency:  opts.MaxConcurrency,
		logger:       opts.Logger,
	}
}

// Subscribe adds c to the set. It reports false if a connection with the same
// id was already present, in which case the set is unchanged.
func (f *Fanout) Subscribe(c Conn) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.conns[c.ID()]; ok {
		return false
	}
	f.conns[c.ID()] = c
	return true
}

func (f *Fanout) Unsubscribe(c Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conns, c.ID())
}

func (f *Fanout) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// Clear drops every subscriber and returns them.
func (f *Fanout) Clear() []Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Conn, 0, len(f.conns))
	for _, c := range f.conns {
		out = append(out, c)
	}
	clear(f.conns)
	return out
}

// Send writes payload to a single connection under the write timeout.
func (f *Fanout) Send(ctx context.Context, c Conn, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, f.writeTimeout)
	defer cancel()
	return c.Send(ctx, payload)
}

// Broadcast encodes s once and sends it to every current subscriber in
// parallel. Failed connections are unsubscribed. It returns the number of
// successful deliveries and never fails the caller.
func (f *Fanout) Broadcast(ctx context.Context, s engine.Snapshot) int {
	payload, err := engine.Encode(s)
	if err != nil {
		f.logger.Error("encode snapshot", zap.Error(err))
		return 0
	}
	return f.BroadcastPayload(ctx, payload)
}

func (f *Fanout) BroadcastPayload(ctx context.Context, payload []byte) int {
	f.mu.Lock()
	targets := make([]Conn, 0, len(f.conns))
	for _, c := range f.conns {
		targets = append(targets, c)
	}
	f.mu.Unlock()

	if len(targets) == 0 {
		return 0
	}

	var (
		failedMu sync.Mutex
		failed   []Conn
	)
	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for _, c := range targets {
		g.Go(func() error {
			if err := f.Send(ctx, c, payload); err != nil {
				f.logger.Warn("dropping connection after failed send",
					zap.String("conn", c.ID()), zap.Error(err))
				failedMu.Lock()
				failed = append(failed, c)
				failedMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		f.mu.Lock()
		for _, c := range failed {
			// The id may have been reused by a fresh subscription meanwhile.
			if cur, ok := f.conns[c.ID()]; ok && cur == c {
				delete(f.conns, c.ID())
			}
		}
		f.mu.Unlock()
	}
	return len(targets) - len(failed)
}
