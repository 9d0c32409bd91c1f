package room

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker/internal/engine"
	"github.com/DoyleJ11/planning-poker/internal/fanout"
	"github.com/DoyleJ11/planning-poker/internal/store"
)

var ErrNotFound = errors.New("room not found")
var ErrStorage = errors.New("room storage failure")
var ErrRoomReplaced = errors.New("room already existed and was replaced")
var ErrClosed = errors.New("room coordinator closed")

const DefaultStoreTimeout = 5 * time.Second

const tracerName = "github.com/DoyleJ11/planning-poker/internal/room"

type Msg interface{ isRoomMsg() }

type Create struct {
	Founder engine.Player
	Reply   chan Reply
	link    trace.Link
}

func (Create) isRoomMsg() {}

type FromClient struct {
	Event engine.Event
	Reply chan Reply
	link  trace.Link
}

func (FromClient) isRoomMsg() {}

type GetState struct {
	Reply chan Reply
}

func (GetState) isRoomMsg() {}

// Connect sends the current snapshot to Conn and then subscribes it. Both
// happen in the room loop, so no broadcast can reach Conn ahead of its baseline.
type Connect struct {
	Conn  fanout.Conn
	Reply chan Reply
}

func (Connect) isRoomMsg() {}

type Delete struct {
	Reply chan Reply
}

func (Delete) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

type Reply struct {
	Result Result
	Found  bool
	Err    error
}

// Result is the outcome of a mutation. Warning is set when the request was
// accepted but had no effect or overwrote existing state.
type Result struct {
	Snapshot engine.Snapshot
	Changed  bool
	Warning  error
}

type Options struct {
	Store        store.Store
	Fanout       fanout.Options
	StoreTimeout time.Duration
	// IdleTimeout is how long a coordinator with no subscribers and no
	// traffic stays registered with the hub. Zero keeps it forever.
	IdleTimeout  time.Duration
	Logger       *zap.Logger
}

// Coordinator is the single writer for one room. All reads and writes of the
// room's persisted snapshot go through its loop.
type Coordinator struct {
	id           string
	inbox        chan Msg
	store        store.Store
	fanout       *fanout.Fanout
	storeTimeout time.Duration
	logger       *zap.Logger
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	lastActive   atomic.Int64
}

func New(parent context.Context, id string, opts Options) *Coordinator {
	ctx, cancel := context.WithCancel(parent)

	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.With(zap.String("room", id))
	fo := opts.Fanout
	fo.Logger = logger.Named("fanout")

	c := &Coordinator{
		id:           id,
		inbox:        make(chan Msg, 64),
		store:        opts.Store,
		fanout:       fanout.New(fo),
		storeTimeout: opts.StoreTimeout,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	c.Touch()
	go c.loop()
	return c
}

func (c *Coordinator) ID() string { return c.id }

// Inbox exposes the loop's queue to callers that build messages themselves.
func (c *Coordinator) Inbox() chan<- Msg { return c.inbox }

// Done is closed once the loop has exited.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

func (c *Coordinator) Subscribers() int { return c.fanout.Len() }

// Touch marks the coordinator as in use.
func (c *Coordinator) Touch() { c.lastActive.Store(time.Now().UnixNano()) }

// LastActive is the later of the last Touch and the last message taken off
// the inbox.
func (c *Coordinator) LastActive() time.Time { return time.Unix(0, c.lastActive.Load()) }

func (c *Coordinator) loop() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return

		case m := <-c.inbox:
			c.Touch()
			switch msg := m.(type) {
			case Create:
				res, err := c.create(msg.Founder, msg.link)
				msg.Reply <- Reply{Result: res, Found: err == nil, Err: err}

			case FromClient:
				res, err := c.apply(msg.Event, msg.link)
				msg.Reply <- Reply{Result: res, Found: !errors.Is(err, ErrNotFound), Err: err}

			case GetState:
				s, found, err := c.load("room.Snapshot")
				msg.Reply <- Reply{Result: Result{Snapshot: s}, Found: found, Err: err}

			case Connect:
				msg.Reply <- Reply{Err: c.connect(msg.Conn)}

			case Delete:
				msg.Reply <- Reply{Err: c.delete()}

			case Shutdown:
				c.shutdown()
				return
			}
		}
	}
}

func (c *Coordinator) shutdown() {
	dropped := c.fanout.Clear()
	if len(dropped) > 0 {
		c.logger.Info("room closed", zap.Int("dropped_connections", len(dropped)))
	}
	c.cancel()
}

// storeCtx bounds one storage call. It derives from the coordinator rather
// than the caller, so an accepted event is finished even if its caller left.
func (c *Coordinator) storeCtx(name string, link trace.Link, attrs ...attribute.KeyValue) (context.Context, trace.Span, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(c.ctx, c.storeTimeout)
	attrs = append(attrs, attribute.String("room.id", c.id))
	opts := []trace.SpanStartOption{trace.WithAttributes(attrs...)}
	if link.SpanContext.IsValid() {
		opts = append(opts, trace.WithLinks(link))
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, opts...)
	return ctx, span, cancel
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (c *Coordinator) create(founder engine.Player, link trace.Link) (Result, error) {
	ctx, span, cancel := c.storeCtx("room.Create", link)
	defer cancel()
	defer span.End()

	s, err := engine.Apply(engine.NewSnapshot(), engine.Event{
		Type:     engine.EvtPlayerJoin,
		PlayerID: founder.ID,
		Name:     founder.Name,
	})
	if err != nil {
		return Result{}, fail(span, err)
	}

	var warning error
	_, err = c.store.Load(ctx, c.id)
	switch {
	case err == nil:
		warning = ErrRoomReplaced
		c.logger.Warn("overwriting existing room")
	case errors.Is(err, store.ErrNotFound):
	default:
		c.logger.Error("load before create", zap.Error(err))
		return Result{}, fail(span, fmt.Errorf("%w: %w", ErrStorage, err))
	}

	if err := c.persist(ctx, s); err != nil {
		return Result{}, fail(span, err)
	}
	c.fanout.Broadcast(c.ctx, s)
	c.logger.Info("room created", zap.String("founder", founder.ID))
	return Result{Snapshot: s, Changed: true, Warning: warning}, nil
}

func (c *Coordinator) apply(ev engine.Event, link trace.Link) (Result, error) {
	ctx, span, cancel := c.storeCtx("room.ApplyEvent", link, attribute.String("event.type", string(ev.Type)))
	defer cancel()
	defer span.End()

	if err := ev.Validate(); err != nil {
		return Result{}, fail(span, err)
	}

	cur, found, err := c.loadCtx(ctx)
	if err != nil {
		return Result{}, fail(span, err)
	}
	if !found {
		return Result{}, fail(span, fmt.Errorf("%w: %s", ErrNotFound, c.id))
	}

	next, err := engine.Apply(cur, ev)
	var terr *engine.TransitionError
	if errors.As(err, &terr) {
		c.logger.Info("event rejected",
			zap.String("event", string(ev.Type)),
			zap.String("player", ev.PlayerID),
			zap.String("reason", terr.Reason))
		span.SetAttributes(attribute.String("transition.rejected", terr.Reason))
		return Result{Snapshot: cur, Warning: err}, nil
	}
	if err != nil {
		return Result{}, fail(span, err)
	}

	if next.Equal(cur) {
		return Result{Snapshot: cur}, nil
	}

	if err := c.persist(ctx, next); err != nil {
		return Result{}, fail(span, err)
	}
	delivered := c.fanout.Broadcast(c.ctx, next)
	c.logger.Debug("event applied",
		zap.String("event", string(ev.Type)),
		zap.String("phase", string(next.Phase)),
		zap.Int("delivered", delivered))
	return Result{Snapshot: next, Changed: true}, nil
}

func (c *Coordinator) persist(ctx context.Context, s engine.Snapshot) error {
	data, err := engine.Encode(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.store.Save(ctx, c.id, data); err != nil {
		c.logger.Error("persist snapshot", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}

func (c *Coordinator) load(name string) (engine.Snapshot, bool, error) {
	ctx, span, cancel := c.storeCtx(name, trace.Link{})
	defer cancel()
	defer span.End()

	s, found, err := c.loadCtx(ctx)
	if err != nil {
		return s, found, fail(span, err)
	}
	return s, found, nil
}

func (c *Coordinator) loadCtx(ctx context.Context) (engine.Snapshot, bool, error) {
	data, err := c.store.Load(ctx, c.id)
	if errors.Is(err, store.ErrNotFound) {
		return engine.Snapshot{}, false, nil
	}
	if err != nil {
		c.logger.Error("load snapshot", zap.Error(err))
		return engine.Snapshot{}, false, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	s, err := engine.Decode(data)
	if err != nil {
		c.logger.Error("decode stored snapshot", zap.Error(err))
		return engine.Snapshot{}, false, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return s, true, nil
}

func (c *Coordinator) delete() error {
	ctx, span, cancel := c.storeCtx("room.Delete", trace.Link{})
	defer cancel()
	defer span.End()

	if err := c.store.Delete(ctx, c.id); err != nil {
		c.logger.Error("delete snapshot", zap.Error(err))
		return fail(span, fmt.Errorf("%w: %w", ErrStorage, err))
	}
	dropped := c.fanout.Clear()
	c.logger.Info("room deleted", zap.Int("dropped_connections", len(dropped)))
	return nil
}

func (c *Coordinator) connect(conn fanout.Conn) error {
	s, found, err := c.load("room.Connect")
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, c.id)
	}
	payload, err := engine.Encode(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.fanout.Send(c.ctx, conn, payload); err != nil {
		return fmt.Errorf("send baseline: %w", err)
	}
	c.fanout.Subscribe(conn)
	c.logger.Debug("connection subscribed", zap.String("conn", conn.ID()))
	return nil
}
