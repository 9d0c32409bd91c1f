package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker/internal/room"
	"github.com/DoyleJ11/planning-poker/internal/store"
)

var ErrClosed = errors.New("hub closed")

type HubMsg interface{ isHubMsg() }

// EnsureRoom returns the coordinator for ID, starting one on first use.
type EnsureRoom struct {
	ID    string
	Reply chan *room.Coordinator
}

// GetRoom replies nil when no coordinator is running for ID.
type GetRoom struct {
	ID    string
	Reply chan *room.Coordinator
}

type RemoveRoom struct {
	ID string
}

type ShutdownHub struct{}

// roomStopped is posted by the goroutine that closed a removed coordinator.
type roomStopped struct {
	ID string
	C  *room.Coordinator
}

func (EnsureRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (RemoveRoom) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}
func (roomStopped) isHubMsg() {}

// Hub routes every caller for a room id to the same coordinator. The loop
// never waits on a coordinator: removed rooms drain in their own goroutine,
// and callers asking for that id again are parked until it has exited.
type Hub struct {
	inbox   chan HubMsg
	rooms   map[string]*room.Coordinator
	closing map[string]*room.Coordinator
	waiting map[string][]chan *room.Coordinator
	opts    room.Options
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewHub(parent context.Context, opts room.Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = room.DefaultStoreTimeout
	}
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		rooms:   make(map[string]*room.Coordinator),
		closing: make(map[string]*room.Coordinator),
		waiting: make(map[string][]chan *room.Coordinator),
		opts:    opts,
		logger:  opts.Logger.Named("hub"),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func sweepInterval(idle time.Duration) time.Duration {
	return max(idle/2, time.Millisecond)
}

func (h *Hub) loop() {
	defer close(h.done)

	var sweep <-chan time.Time
	if h.opts.IdleTimeout > 0 {
		t := time.NewTicker(sweepInterval(h.opts.IdleTimeout))
		defer t.Stop()
		sweep = t.C
	}

	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case now := <-sweep:
			h.evictIdle(now)

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureRoom:
				if c := h.rooms[msg.ID]; c != nil {
					c.Touch()
					msg.Reply <- c
					break
				}
				if _, ok := h.closing[msg.ID]; ok {
					h.waiting[msg.ID] = append(h.waiting[msg.ID], msg.Reply)
					break
				}
				msg.Reply <- h.start(msg.ID)

			case GetRoom:
				msg.Reply <- h.rooms[msg.ID] // May be nil

			case RemoveRoom:
				h.stop(msg.ID)

			case roomStopped:
				if h.closing[msg.ID] == msg.C {
					delete(h.closing, msg.ID)
				}
				if waiters := h.waiting[msg.ID]; len(waiters) > 0 {
					delete(h.waiting, msg.ID)
					c := h.start(msg.ID)
					for _, reply := range waiters {
						reply <- c
					}
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) start(id string) *room.Coordinator {
	c := room.New(h.ctx, id, h.opts)
	h.rooms[id] = c
	h.logger.Debug("room coordinator started", zap.String("room", id))
	return c
}

// stop unregisters the coordinator for id and closes it off the loop. The
// id stays in closing until the old loop has exited, so a second writer for
// the room is never started early.
func (h *Hub) stop(id string) {
	c := h.rooms[id]
	if c == nil {
		return
	}
	delete(h.rooms, id)
	h.closing[id] = c
	go func() {
		c.Close()
		select {
		case h.inbox <- roomStopped{ID: id, C: c}:
		case <-h.done:
		}
	}()
}

func (h *Hub) evictIdle(now time.Time) {
	for id, c := range h.rooms {
		if c.Subscribers() > 0 || now.Sub(c.LastActive()) < h.opts.IdleTimeout {
			continue
		}
		h.logger.Debug("evicting idle room coordinator", zap.String("room", id))
		h.stop(id)
	}
}

func (h *Hub) shutdown() {
	for _, c := range h.rooms {
		go c.Close()
	}
	for _, c := range h.rooms {
		<-c.Done()
	}
	for _, c := range h.closing {
		<-c.Done()
	}
	h.logger.Info("hub stopped", zap.Int("rooms", len(h.rooms)))
	clear(h.rooms)
	clear(h.closing)
	h.cancel()
}

func (h *Hub) ask(ctx context.Context, msg HubMsg, reply chan *room.Coordinator) (*room.Coordinator, error) {
	select {
	case h.inbox <- msg:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrClosed
	}
	select {
	case c := <-reply:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrClosed
	}
}

// Room returns the coordinator for id, creating it lazily.
func (h *Hub) Room(ctx context.Context, id string) (*room.Coordinator, error) {
	reply := make(chan *room.Coordinator, 1)
	return h.ask(ctx, EnsureRoom{ID: id, Reply: reply}, reply)
}

// Existing returns the coordinator for a room that is running or has a
// persisted snapshot. Unknown ids get room.ErrNotFound and no coordinator.
func (h *Hub) Existing(ctx context.Context, id string) (*room.Coordinator, error) {
	c, err := h.Lookup(ctx, id)
	if err != nil || c != nil {
		return c, err
	}

	loadCtx, cancel := context.WithTimeout(ctx, h.opts.StoreTimeout)
	defer cancel()
	_, err = h.opts.Store.Load(loadCtx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", room.ErrNotFound, id)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", room.ErrStorage, err)
	}
	return h.Room(ctx, id)
}

// Lookup returns nil without error when no coordinator is running for id.
func (h *Hub) Lookup(ctx context.Context, id string) (*room.Coordinator, error) {
	reply := make(chan *room.Coordinator, 1)
	return h.ask(ctx, GetRoom{ID: id, Reply: reply}, reply)
}

// Remove stops the coordinator for id without waiting for it to drain. Later
// calls to Room get a new coordinator once the old one has exited.
func (h *Hub) Remove(ctx context.Context, id string) error {
	select {
	case h.inbox <- RemoveRoom{ID: id}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrClosed
	}
}

// Shutdown stops every coordinator and waits for the hub loop to exit.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.done:
	}
	<-h.done
}
