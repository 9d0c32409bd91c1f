package room

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/DoyleJ11/planning-poker/internal/engine"
	"github.com/DoyleJ11/planning-poker/internal/fanout"
)

func (c *Coordinator) submit(ctx context.Context, msg Msg) error {
	select {
	case c.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// call hands msg to the loop and waits for its reply. Once the loop has taken
// the message, giving up on ctx does not cancel the work.
func (c *Coordinator) call(ctx context.Context, msg Msg, reply chan Reply) (Reply, error) {
	if err := c.submit(ctx, msg); err != nil {
		return Reply{}, err
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	case <-c.done:
		return Reply{}, ErrClosed
	}
}

// CreateRoom persists a fresh round with founder joined. An existing snapshot
// for the room is overwritten and reported through Result.Warning.
func (c *Coordinator) CreateRoom(ctx context.Context, founder engine.Player) (Result, error) {
	reply := make(chan Reply, 1)
	r, err := c.call(ctx, Create{Founder: founder, Reply: reply, link: trace.LinkFromContext(ctx)}, reply)
	if err != nil {
		return Result{}, err
	}
	return r.Result, r.Err
}

// ApplyEvent runs ev against the persisted snapshot, persists the result and
// broadcasts it. Rejected transitions come back as Result.Warning with the
// unchanged snapshot.
func (c *Coordinator) ApplyEvent(ctx context.Context, ev engine.Event) (Result, error) {
	reply := make(chan Reply, 1)
	r, err := c.call(ctx, FromClient{Event: ev, Reply: reply, link: trace.LinkFromContext(ctx)}, reply)
	if err != nil {
		return Result{}, err
	}
	return r.Result, r.Err
}

// Snapshot reports false when the room has no persisted state.
func (c *Coordinator) Snapshot(ctx context.Context) (engine.Snapshot, bool, error) {
	reply := make(chan Reply, 1)
	r, err := c.call(ctx, GetState{Reply: reply}, reply)
	if err != nil {
		return engine.Snapshot{}, false, err
	}
	return r.Result.Snapshot, r.Found, r.Err
}

func (c *Coordinator) Connect(ctx context.Context, conn fanout.Conn) error {
	reply := make(chan Reply, 1)
	r, err := c.call(ctx, Connect{Conn: conn, Reply: reply}, reply)
	if err != nil {
		return err
	}
	return r.Err
}

// Disconnect is safe to call after the coordinator has stopped.
func (c *Coordinator) Disconnect(conn fanout.Conn) {
	c.fanout.Unsubscribe(conn)
}

// DeleteRoom removes the persisted snapshot and drops every subscriber.
func (c *Coordinator) DeleteRoom(ctx context.Context) error {
	reply := make(chan Reply, 1)
	r, err := c.call(ctx, Delete{Reply: reply}, reply)
	if err != nil {
		return err
	}
	return r.Err
}

// Close lets the loop finish the messages queued ahead of it, then waits for
// it to exit.
func (c *Coordinator) Close() {
	select {
	case c.inbox <- Shutdown{}:
	case <-c.done:
	}
	<-c.done
}
