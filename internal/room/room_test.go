package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/planning-poker/internal/engine"
	"github.com/DoyleJ11/planning-poker/internal/store"
)

// chanConn records every payload it is sent on a buffered channel.
type chanConn struct {
	id  string
	out chan []byte
}

func newChanConn(id string) *chanConn {
	return &chanConn{id: id, out: make(chan []byte, 64)}
}

func (c *chanConn) ID() string { return c.id }

func (c *chanConn) Send(ctx context.Context, payload []byte) error {
	select {
	case c.out <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// scriptedStore wraps a memory store with injectable failures and delays.
type scriptedStore struct {
	*store.Memory

	mu      sync.Mutex
	saves   int
	saveErr error
	delay   time.Duration
}

func newScriptedStore() *scriptedStore {
	return &scriptedStore{Memory: store.NewMemory()}
}

func (s *scriptedStore) Save(ctx context.Context, roomID string, data []byte) error {
	s.mu.Lock()
	s.saves++
	err, delay := s.saveErr, s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	return s.Memory.Save(ctx, roomID, data)
}

func (s *scriptedStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *scriptedStore) set(fn func(s *scriptedStore)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func recvSnapshot(t *testing.T, c *chanConn, within time.Duration) engine.Snapshot {
	t.Helper()
	select {
	case payload := <-c.out:
		s, err := engine.Decode(payload)
		require.NoError(t, err)
		return s
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot on %s", c.id)
		return engine.Snapshot{}
	}
}

func recvNoSnapshot(t *testing.T, c *chanConn, within time.Duration) {
	t.Helper()
	select {
	case payload := <-c.out:
		t.Fatalf("expected no snapshot within %v, got %s", within, payload)
	case <-time.After(within):
	}
}

func newCoordinator(t *testing.T, st store.Store, opts ...func(*Options)) *Coordinator {
	t.Helper()
	o := Options{Store: st, StoreTimeout: time.Second}
	for _, fn := range opts {
		fn(&o)
	}
	c := New(context.Background(), "ROOM1", o)
	t.Cleanup(c.Close)
	return c
}

var ada = engine.Player{ID: "u1", Name: "Ada"}

func ev(typ engine.EventType, id string, choice engine.Option) engine.Event {
	return engine.Event{Type: typ, PlayerID: id, Choice: choice}
}

func TestApplyEventUnknownRoomIsNotFound(t *testing.T) {
	st := newScriptedStore()
	c := newCoordinator(t, st)

	_, err := c.ApplyEvent(context.Background(), engine.Event{Type: engine.EvtPlayerJoin, PlayerID: "u1", Name: "Ada"})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = st.Load(context.Background(), "ROOM1")
	require.ErrorIs(t, err, store.ErrNotFound, "no snapshot may be created implicitly")
	assert.Equal(t, 0, st.saveCount())

	_, found, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCreateRoomPersistsFounder(t *testing.T) {
	st := newScriptedStore()
	c := newCoordinator(t, st)

	res, err := c.CreateRoom(context.Background(), ada)
	require.NoError(t, err)
	assert.NoError(t, res.Warning)
	assert.Equal(t, engine.PhaseChoosing, res.Snapshot.Phase)
	assert.Equal(t, []engine.Player{{ID: "u1", Name: "Ada", State: engine.PlayerChoosing}}, res.Snapshot.Context.Players)

	got, found, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, res.Snapshot.Equal(got))
}

func TestCreateRoomTwiceWarns(t *testing.T) {
	c := newCoordinator(t, newScriptedStore())
	ctx := context.Background()

	_, err := c.CreateRoom(ctx, ada)
	require.NoError(t, err)
	_, err = c.ApplyEvent(ctx, ev(engine.EvtPlayerChoose, "u1", engine.OptionHeChonk))
	require.NoError(t, err)

	res, err := c.CreateRoom(ctx, engine.Player{ID: "u9", Name: "Linus"})
	require.NoError(t, err)
	require.ErrorIs(t, res.Warning, ErrRoomReplaced)
	assert.Equal(t, "u9", res.Snapshot.Context.Players[0].ID)
	assert.Len(t, res.Snapshot.Context.Players, 1)
}

func TestCreateRoomRejectsMalformedFounder(t *testing.T) {
	st := newScriptedStore()
	c := newCoordinator(t, st)

	_, err := c.CreateRoom(context.Background(), engine.Player{ID: "", Name: "Ada"})
	require.ErrorIs(t, err, engine.ErrMalformedEvent)
	assert.Equal(t, 0, st.saveCount())
}

func TestEventsAreBroadcastAfterBaseline(t *testing.T) {
	c := newCoordinator(t, newScriptedStore())
	ctx := context.Background()
	_, err := c.CreateRoom(ctx, ada)
	require.NoError(t, err)

	conn := newChanConn("c1")
	require.NoError(t, c.Connect(ctx, conn))
	assert.Equal(t, 1, c.Subscribers())

	baseline := recvSnapshot(t, conn, time.Second)
	assert.Equal(t, engine.PhaseChoosing, baseline.Phase)
	assert.Equal(t, engine.PlayerChoosing, baseline.Context.Players[0].State)

	res, err := c.ApplyEvent(ctx, ev(engine.EvtPlayerChoose, "u1", engine.OptionHeChonk))
	require.NoError(t, err)
	require.True(t, res.Changed)
	got := recvSnapshot(t, conn, time.Second)
	assert.Equal(t, engine.OptionHeChonk, got.Context.Players[0].Choice)

	_, err = c.ApplyEvent(ctx, ev(engine.EvtPlayerLock, "u1", ""))
	require.NoError(t, err)
	got = recvSnapshot(t, conn, time.Second)
	assert.Equal(t, engine.PhaseLockedIn, got.Phase)
	assert.Equal(t, 1, got.Context.LockedInCount)

	_, err = c.ApplyEvent(ctx, engine.Event{Type: engine.EvtGameReveal})
	require.NoError(t, err)
	got = recvSnapshot(t, conn, time.Second)
	assert.Equal(t, engine.PhaseRevealed, got.Phase)

	c.Disconnect(conn)
	assert.Equal(t, 0, c.Subscribers())
}

func TestRejectedEventIsNotPersistedOrBroadcast(t *testing.T) {
	st := newScriptedStore()
	c := newCoordinator(t, st)
	ctx := context.Background()
	_, err := c.CreateRoom(ctx, ada)
	require.NoError(t, err)

	conn := newChanConn("c1")
	require.NoError(t, c.Connect(ctx, conn))
	recvSnapshot(t, conn, time.Second)
	saves := st.saveCount()

	res, err := c.ApplyEvent(ctx, ev(engine.EvtPlayerLock, "u1", ""))
	require.NoError(t, err)
	require.ErrorIs(t, res.Warning, engine.ErrInvalidTransition)
	assert.False(t, res.Changed)
	assert.Equal(t, engine.PhaseChoosing, res.Snapshot.Phase)

	assert.Equal(t, saves, st.saveCount())
	recvNoSnapshot(t, conn, 50*time.Millisecond)
}

func TestIdenticalSnapshotIsNotPersistedAgain(t *testing.T) {
	st := newScriptedStore()
	c := newCoordinator(t, st)
	ctx := context.Background()
	_, err := c.CreateRoom(ctx, ada)
	require.NoError(t, err)
	_, err = c.ApplyEvent(ctx, ev(engine.EvtPlayerChoose, "u1", engine.OptionHeChonk))
	require.NoError(t, err)
	saves := st.saveCount()

	res, err := c.ApplyEvent(ctx, ev(engine.EvtPlayerChoose, "u1", engine.OptionHeChonk))
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.NoError(t, res.Warning)
	assert.Equal(t, saves, st.saveCount())
}

func TestMalformedEventIsHardError(t *testing.T) {
	c := newCoordinator(t, newScriptedStore())
	ctx := context.Background()
	_, err := c.CreateRoom(ctx, ada)
	require.NoError(t, err)

	_, err = c.ApplyEvent(ctx, ev(engine.EvtPlayerChoose, "u1", "enormous"))
	require.ErrorIs(t, err, engine.ErrMalformedEvent)
}

func TestStorageFailureSkipsBroadcast(t *testing.T) {
	st := newScriptedStore()
	c := newCoordinator(t, st)
	ctx := context.Background()
	_, err := c.CreateRoom(ctx, ada)
	require.NoError(t, err)

	conn := newChanConn("c1")
	require.NoError(t, c.Connect(ctx, conn))
	recvSnapshot(t, conn, time.Second)

	boom := errors.New("disk full")
	st.set(func(s *scriptedStore) { s.saveErr = boom })

	_, err = c.ApplyEvent(ctx, ev(engine.EvtPlayerChoose, "u1", engine.OptionHeChonk))
	require.ErrorIs(t, err, ErrStorage)
	require.ErrorIs(t, err, boom)
	recvNoSnapshot(t, conn, 50*time.Millisecond)

	got, found, err := c.Snapshot(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, engine.OptionNone, got.Context.Players[0].Choice)
}

func TestStoreCallsAreBounded(t *testing.T) {
	st := newScriptedStore()
	c := newCoordinator(t, st, func(o *Options) { o.StoreTimeout = 20 * time.Millisecond })
	ctx := context.Background()
	_, err := c.CreateRoom(ctx, ada)
	require.NoError(t, err)

	st.set(func(s *scriptedStore) { s.delay = time.Second })

	start := time.Now()
	_, err = c.ApplyEvent(ctx, ev(engine.EvtPlayerChoose, "u1", engine.OptionHeChonk))
	require.ErrorIs(t, err, ErrStorage)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestAcceptedEventCompletesAfterCallerLeaves(t *testing.T) {
	st := newScriptedStore()
	c := newCoordinator(t, st)
	_, err := c.CreateRoom(context.Background(), ada)
	require.NoError(t, err)

	st.set(func(s *scriptedStore) { s.delay = 100 * time.Millisecond })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = c.ApplyEvent(ctx, ev(engine.EvtPlayerChoose, "u1", engine.OptionMegaChonker))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool {
		s, found, err := c.Snapshot(context.Background())
		return err == nil && found && s.Context.Players[0].Choice == engine.OptionMegaChonker
	}, 2*time.Second, 20*time.Millisecond)
}

func TestConcurrentEventsMatchASequentialOrder(t *testing.T) {
	c := newCoordinator(t, newScriptedStore())
	ctx := context.Background()
	_, err := c.CreateRoom(ctx, ada)
	require.NoError(t, err)

	conn := newChanConn("watcher")
	require.NoError(t, c.Connect(ctx, conn))
	recvSnapshot(t, conn, time.Second)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("p%02d", i)
			_, err := c.ApplyEvent(ctx, engine.Event{Type: engine.EvtPlayerJoin, PlayerID: id, Name: id})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Each broadcast adds exactly one player to the previous one.
	prev := 1
	for i := 0; i < n; i++ {
		s := recvSnapshot(t, conn, time.Second)
		require.Len(t, s.Context.Players, prev+1)
		prev++
	}

	final, found, err := c.Snapshot(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, final.Context.Players, n+1)
	require.NoError(t, final.Validate())
}

func TestConnectUnknownRoom(t *testing.T) {
	c := newCoordinator(t, newScriptedStore())
	err := c.Connect(context.Background(), newChanConn("c1"))
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, c.Subscribers())
}

func TestClosedCoordinator(t *testing.T) {
	c := New(context.Background(), "ROOM1", Options{Store: newScriptedStore()})
	c.Inbox() <- Shutdown{}
	<-c.Done()

	_, err := c.ApplyEvent(context.Background(), ev(engine.EvtPlayerLock, "u1", ""))
	require.ErrorIs(t, err, ErrClosed)
}

func TestDeleteRoomDropsSnapshotAndSubscribers(t *testing.T) {
	st := newScriptedStore()
	c := newCoordinator(t, st)
	ctx := context.Background()
	_, err := c.CreateRoom(ctx, ada)
	require.NoError(t, err)
	require.NoError(t, c.Connect(ctx, newChanConn("c1")))

	require.NoError(t, c.DeleteRoom(ctx))
	assert.Equal(t, 0, c.Subscribers())

	_, err = c.ApplyEvent(ctx, ev(engine.EvtPlayerChoose, "u1", engine.OptionHeChonk))
	require.ErrorIs(t, err, ErrNotFound)
}
