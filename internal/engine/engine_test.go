package engine

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func join(id, name string) Event { return Event{Type: EvtPlayerJoin, PlayerID: id, Name: name} }
func choose(id string, o Option) Event {
	return Event{Type: EvtPlayerChoose, PlayerID: id, Choice: o}
}
func lock(id string) Event { return Event{Type: EvtPlayerLock, PlayerID: id} }

var reveal = Event{Type: EvtGameReveal}

// mustApply folds events that are all expected to be accepted.
func mustApply(t *testing.T, s Snapshot, events ...Event) Snapshot {
	t.Helper()
	for _, ev := range events {
		var err error
		s, err = Apply(s, ev)
		require.NoError(t, err, "event %+v", ev)
	}
	return s
}

func requireRejected(t *testing.T, before Snapshot, ev Event) {
	t.Helper()
	after, err := Apply(before, ev)
	require.ErrorIs(t, err, ErrInvalidTransition)
	var terr *TransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, ev.Type, terr.Event)
	assert.Equal(t, before.Phase, terr.Phase)
	assert.True(t, before.Equal(after), "rejected event must not change the snapshot")
}

func TestLockWithoutChoiceIsNoop(t *testing.T) {
	s := mustApply(t, NewSnapshot(), join("u1", "Ada"))
	require.Equal(t, PhaseChoosing, s.Phase)
	require.Equal(t, []Player{{ID: "u1", Name: "Ada", State: PlayerChoosing}}, s.Context.Players)

	requireRejected(t, s, lock("u1"))
}

func TestSoloLockAutoTransitions(t *testing.T) {
	s := mustApply(t, NewSnapshot(), join("u1", "Ada"), choose("u1", OptionHeChonk), lock("u1"))

	assert.Equal(t, PhaseLockedIn, s.Phase)
	assert.Equal(t, 1, s.Context.LockedInCount)
	assert.Equal(t, []Player{{ID: "u1", Name: "Ada", Choice: OptionHeChonk, State: PlayerLockedIn}}, s.Context.Players)
}

func TestPhaseWaitsForEveryPlayer(t *testing.T) {
	s := mustApply(t, NewSnapshot(),
		join("u1", "Ada"), join("u2", "Grace"),
		choose("u1", OptionFineBoi), choose("u2", OptionMegaChonker),
		lock("u1"),
	)
	assert.Equal(t, PhaseChoosing, s.Phase)
	assert.Equal(t, 1, s.Context.LockedInCount)

	s = mustApply(t, s, lock("u2"))
	assert.Equal(t, PhaseLockedIn, s.Phase)
	assert.Equal(t, 2, s.Context.LockedInCount)
}

func TestRevealedIsTerminal(t *testing.T) {
	s := mustApply(t, NewSnapshot(), join("u1", "Ada"), choose("u1", OptionHeChonk), lock("u1"), reveal)
	require.Equal(t, PhaseRevealed, s.Phase)

	for _, ev := range []Event{join("u2", "Grace"), choose("u1", OptionFineBoi), lock("u1"), reveal} {
		requireRejected(t, s, ev)
	}
}

func TestRejectedTransitions(t *testing.T) {
	empty := NewSnapshot()
	one := mustApply(t, empty, join("u1", "Ada"))
	locked := mustApply(t, NewSnapshot(),
		join("u1", "Ada"), join("u2", "Grace"), choose("u1", OptionHeChonk), lock("u1"))
	lockedIn := mustApply(t, one, choose("u1", OptionHeChonk), lock("u1"))

	cases := []struct {
		name string
		s    Snapshot
		ev   Event
	}{
		{name: "choose unknown player", s: one, ev: choose("ghost", OptionHeChonk)},
		{name: "lock unknown player", s: one, ev: lock("ghost")},
		{name: "lock in empty room", s: empty, ev: lock("u1")},
		{name: "lock twice", s: locked, ev: lock("u1")},
		{name: "reveal while choosing", s: one, ev: reveal},
		{name: "reset while choosing", s: one, ev: Event{Type: EvtGameReset}},
		{name: "join after lock in", s: lockedIn, ev: join("u2", "Grace")},
		{name: "choose after lock in", s: lockedIn, ev: choose("u1", OptionFineBoi)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			requireRejected(t, tc.s, tc.ev)
		})
	}
}

func TestMalformedEvents(t *testing.T) {
	s := mustApply(t, NewSnapshot(), join("u1", "Ada"))

	cases := []struct {
		name string
		ev   Event
	}{
		{name: "unknown type", ev: Event{Type: "player.leave", PlayerID: "u1"}},
		{name: "join without id", ev: join("", "Ada")},
		{name: "join without name", ev: join("u2", "  ")},
		{name: "choose unknown option", ev: choose("u1", "huge")},
		{name: "choose empty option", ev: choose("u1", OptionNone)},
		{name: "lock without id", ev: lock("")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			after, err := Apply(s, tc.ev)
			require.ErrorIs(t, err, ErrMalformedEvent)
			assert.NotErrorIs(t, err, ErrInvalidTransition)
			assert.True(t, s.Equal(after))
		})
	}
}

func TestJoinUpsertKeepsPosition(t *testing.T) {
	s := mustApply(t, NewSnapshot(),
		join("u1", "Ada"), join("u2", "Grace"),
		choose("u1", OptionHeftyChonk), choose("u2", OptionHeChonk), lock("u1"),
	)
	require.Equal(t, 1, s.Context.LockedInCount)

	s = mustApply(t, s, join("u1", "Ada L."))

	require.Len(t, s.Context.Players, 2)
	assert.Equal(t, Player{ID: "u1", Name: "Ada L.", State: PlayerChoosing}, s.Context.Players[0])
	assert.Equal(t, "u2", s.Context.Players[1].ID)
	assert.Equal(t, 0, s.Context.LockedInCount)
	assert.Equal(t, PhaseChoosing, s.Phase)
}

func TestChooseChangesChoiceOfLockedPlayer(t *testing.T) {
	s := mustApply(t, NewSnapshot(),
		join("u1", "Ada"), join("u2", "Grace"), choose("u1", OptionHeChonk), lock("u1"),
		choose("u1", OptionOhLawdHeComin),
	)
	p, ok := s.Player("u1")
	require.True(t, ok)
	assert.Equal(t, OptionOhLawdHeComin, p.Choice)
	assert.Equal(t, PlayerLockedIn, p.State)
	assert.Equal(t, 1, s.Context.LockedInCount)
}

func TestApplyDoesNotAliasInput(t *testing.T) {
	before := mustApply(t, NewSnapshot(), join("u1", "Ada"), join("u2", "Grace"))
	kept := before.Clone()

	_ = mustApply(t, before, choose("u1", OptionHeChonk), lock("u1"), join("u3", "Linus"))

	assert.True(t, kept.Equal(before))
}

func TestReset(t *testing.T) {
	lockedIn := mustApply(t, NewSnapshot(),
		join("u1", "Ada"), join("u2", "Grace"),
		choose("u1", OptionHeChonk), choose("u2", OptionFineBoi), lock("u1"), lock("u2"),
	)
	revealed := mustApply(t, lockedIn, reveal)

	want := Snapshot{
		Phase: PhaseChoosing,
		Context: Context{Players: []Player{
			{ID: "u1", Name: "Ada", State: PlayerChoosing},
			{ID: "u2", Name: "Grace", State: PlayerChoosing},
		}},
	}

	for name, s := range map[string]Snapshot{"lockedIn": lockedIn, "revealed": revealed} {
		t.Run(name, func(t *testing.T) {
			got := mustApply(t, s, Event{Type: EvtGameReset})
			assert.True(t, want.Equal(got), "got %+v", got)
		})
	}
}

func TestLockedInCountInvariantUnderRandomEvents(t *testing.T) {
	ids := []string{"u1", "u2", "u3", "u4"}
	rng := rand.New(rand.NewPCG(7, 11))

	randomEvent := func() Event {
		id := ids[rng.IntN(len(ids))]
		switch rng.IntN(6) {
		case 0:
			return join(id, "player "+id)
		case 1, 2:
			return choose(id, Options[rng.IntN(len(Options))].Option)
		case 3, 4:
			return lock(id)
		default:
			if rng.IntN(4) == 0 {
				return Event{Type: EvtGameReset}
			}
			return reveal
		}
	}

	for run := 0; run < 200; run++ {
		s := NewSnapshot()
		for step := 0; step < 40; step++ {
			prev := s
			var err error
			s, err = Apply(s, randomEvent())
			if err != nil {
				require.ErrorIs(t, err, ErrInvalidTransition)
				require.True(t, prev.Equal(s))
			}
			require.NoError(t, s.Validate())
			if s.Phase == PhaseChoosing && len(s.Context.Players) > 0 {
				require.Less(t, s.Context.LockedInCount, len(s.Context.Players))
			}
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	snapshots := []Snapshot{
		NewSnapshot(),
		{Phase: PhaseChoosing},
		mustApply(t, NewSnapshot(), join("u1", "Ada"), choose("u1", OptionHeChonk)),
		mustApply(t, NewSnapshot(), join("u1", "Ada"), choose("u1", OptionHeChonk), lock("u1"), reveal),
	}

	for _, s := range snapshots {
		data, err := Encode(s)
		require.NoError(t, err)
		got, err := Decode(data)
		require.NoError(t, err)
		assert.True(t, s.Equal(got), "round trip of %s", data)
	}
}

func TestEncodeShape(t *testing.T) {
	s := mustApply(t, NewSnapshot(), join("u1", "Ada"), choose("u1", OptionHeChonk), lock("u1"))
	data, err := Encode(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"phase": "lockedIn",
		"context": {
			"players": [{"id": "u1", "name": "Ada", "choice": "he-chonk", "state": "locked-in"}],
			"lockedInCount": 1
		}
	}`, string(data))

	data, err = Encode(Snapshot{Phase: PhaseChoosing})
	require.NoError(t, err)
	assert.JSONEq(t, `{"phase":"choosing","context":{"players":[],"lockedInCount":0}}`, string(data))
}

func TestDecodeRejectsCorruptSnapshots(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"phase":`,
		"unknown phase":  `{"phase":"voting","context":{"players":[],"lockedInCount":0}}`,
		"count mismatch": `{"phase":"choosing","context":{"players":[{"id":"u1","name":"Ada","state":"locked-in","choice":"he-chonk"}],"lockedInCount":0}}`,
		"bad state":      `{"phase":"choosing","context":{"players":[{"id":"u1","name":"Ada","state":"asleep"}],"lockedInCount":0}}`,
		"bad option":     `{"phase":"choosing","context":{"players":[{"id":"u1","name":"Ada","state":"choosing","choice":"tiny"}],"lockedInCount":0}}`,
		"duplicate id":   `{"phase":"choosing","context":{"players":[{"id":"u1","name":"A","state":"choosing"},{"id":"u1","name":"B","state":"choosing"}],"lockedInCount":0}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			require.ErrorIs(t, err, ErrMalformedSnapshot)
		})
	}
}

func TestSummarize(t *testing.T) {
	s := mustApply(t, NewSnapshot(),
		join("u1", "Ada"), join("u2", "Grace"), join("u3", "Linus"),
		choose("u1", OptionHeChonk), choose("u2", OptionMegaChonker), choose("u3", OptionHeChonk),
		lock("u1"), lock("u2"), lock("u3"),
	)

	_, err := Summarize(s)
	require.ErrorIs(t, err, ErrNotRevealed)

	sum, err := Summarize(mustApply(t, s, reveal))
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Votes)
	assert.Equal(t, 2, sum.Min)
	assert.Equal(t, 8, sum.Max)
	assert.InDelta(t, 4.0, sum.Mean, 1e-9)
	assert.Equal(t, map[Option]int{OptionHeChonk: 2, OptionMegaChonker: 1}, sum.Counts)
}
