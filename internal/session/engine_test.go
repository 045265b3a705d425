package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"collab-editing-be/internal/model"
	"collab-editing-be/pkg/events"
	"collab-editing-be/pkg/transport"
)

func newTestEngine(hub *transport.ChannelHub) *Engine {
	return NewEngine(Options{
		NewTransport: func([]string) (transport.Transport, error) {
			return hub.Transport(), nil
		},
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestStartOrJoinValidation(t *testing.T) {
	e := NewEngine(Options{})
	_, err := e.StartOrJoin(context.Background(), Config{UserName: "x"})
	var cfgErr *model.ConfigError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = e.StartOrJoin(context.Background(), Config{DocumentID: "doc"})
	assert.ErrorAs(t, err, &cfgErr)
}

func TestStartOrJoinWithoutTransportOrCache(t *testing.T) {
	e := NewEngine(Options{})
	sess, err := e.StartOrJoin(context.Background(), Config{DocumentID: "doc", UserName: "Solo"})
	assert.NoError(t, err)
	assert.True(t, sess.IsActive)
	assert.Equal(t, 1, len(sess.Participants))

	assert.NoError(t, e.ApplyChange("a.txt", 0, 0, "offline text"))
	text, err := e.GetText("a.txt")
	assert.NoError(t, err)
	assert.Equal(t, "offline text", text)

	assert.NoError(t, e.Leave())
}

func TestLeaveIsIdempotent(t *testing.T) {
	e := NewEngine(Options{})
	assert.NoError(t, e.Leave())

	_, err := e.StartOrJoin(context.Background(), Config{DocumentID: "doc", UserName: "A"})
	assert.NoError(t, err)
	assert.NoError(t, e.Leave())
	assert.NoError(t, e.Leave())

	// Operations after leave fail cleanly.
	assert.ErrorIs(t, e.ApplyChange("a.txt", 0, 0, "x"), ErrNoActiveSession)
	_, err = e.ExportState()
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestTwoEnginesConverge(t *testing.T) {
	hub := transport.NewChannelHub()
	defer hub.Close()

	a := newTestEngine(hub)
	b := newTestEngine(hub)

	_, err := a.StartOrJoin(context.Background(), Config{
		DocumentID: "shared", UserName: "Alice", EnablePeerTransport: true,
	})
	assert.NoError(t, err)
	defer a.Leave()

	_, err = b.StartOrJoin(context.Background(), Config{
		DocumentID: "shared", UserName: "Bob", EnablePeerTransport: true,
	})
	assert.NoError(t, err)
	defer b.Leave()

	assert.NoError(t, a.ApplyChange("notes.md", 0, 0, "hello"))

	ok := waitFor(t, 2*time.Second, func() bool {
		text, _ := b.GetText("notes.md")
		return text == "hello"
	})
	assert.True(t, ok, "edit did not propagate")

	// Concurrent edits from both sides still converge.
	assert.NoError(t, a.ApplyChange("notes.md", 5, 0, " from-a"))
	assert.NoError(t, b.ApplyChange("notes.md", 5, 0, " from-b"))

	ok = waitFor(t, 2*time.Second, func() bool {
		ta, _ := a.GetText("notes.md")
		tb, _ := b.GetText("notes.md")
		return ta == tb && len(ta) > len("hello")
	})
	ta, _ := a.GetText("notes.md")
	tb, _ := b.GetText("notes.md")
	assert.True(t, ok, "documents diverged: a=%q b=%q", ta, tb)
}

func TestRosterAccounting(t *testing.T) {
	hub := transport.NewChannelHub()
	defer hub.Close()

	a := newTestEngine(hub)
	b := newTestEngine(hub)

	_, err := a.StartOrJoin(context.Background(), Config{
		DocumentID: "roster", UserName: "Alice", EnablePeerTransport: true,
	})
	assert.NoError(t, err)
	defer a.Leave()

	_, err = b.StartOrJoin(context.Background(), Config{
		DocumentID: "roster", UserName: "Bob", EnablePeerTransport: true,
	})
	assert.NoError(t, err)

	ok := waitFor(t, 2*time.Second, func() bool {
		return len(a.GetParticipants()) == 2 && len(b.GetParticipants()) == 2
	})
	assert.True(t, ok, "rosters did not converge")

	bobID := b.ClientID()
	bob, found := a.GetParticipant(bobID)
	assert.True(t, found)
	assert.Equal(t, "Bob", bob.Name)
	assert.True(t, bob.IsOnline)
	assert.Equal(t, 2, a.GetSyncStatus().ParticipantCount)

	assert.NoError(t, b.Leave())

	ok = waitFor(t, 2*time.Second, func() bool {
		p, found := a.GetParticipant(bobID)
		return found && !p.IsOnline
	})
	assert.True(t, ok, "departure not observed")

	// The record is retained for attribution, only the live count drops.
	assert.Equal(t, 2, len(a.GetParticipants()))
	assert.Equal(t, 1, a.GetSyncStatus().ParticipantCount)
}

func TestDuplicateDepartureEmitsOnce(t *testing.T) {
	hub := transport.NewChannelHub()
	defer hub.Close()
	bus := events.NewBus()
	defer bus.Close()

	a := NewEngine(Options{Bus: bus, NewTransport: func([]string) (transport.Transport, error) {
		return hub.Transport(), nil
	}})
	_, err := a.StartOrJoin(context.Background(), Config{
		DocumentID: "dupes", UserName: "Alice", EnablePeerTransport: true,
	})
	assert.NoError(t, err)
	defer a.Leave()

	var mu sync.Mutex
	lefts := 0
	assert.NoError(t, bus.Subscribe(context.Background(), events.ParticipantLeft, func(context.Context, events.Event) error {
		mu.Lock()
		lefts++
		mu.Unlock()
		return nil
	}))

	// A bare peer endpoint lets us replay the departure frame.
	peer := hub.Transport()
	defer peer.Close()
	room := transport.DeriveRoomID("dupes", "")
	assert.NoError(t, peer.Join(context.Background(), room, 77, func(transport.Message) {}, func(model.ConnectionState) {}))
	assert.NoError(t, peer.Publish(context.Background(), transport.Message{
		Type: transport.MessageAwareness, From: 77,
		Awareness: &model.AwarenessState{Name: "Ghost"},
	}))

	ok := waitFor(t, 2*time.Second, func() bool {
		_, found := a.GetParticipant(77)
		return found
	})
	assert.True(t, ok, "peer never joined the roster")

	for i := 0; i < 3; i++ {
		assert.NoError(t, peer.Publish(context.Background(), transport.Message{
			Type: transport.MessageAwareness, From: 77, Left: true,
		}))
	}

	ok = waitFor(t, 2*time.Second, func() bool {
		p, _ := a.GetParticipant(77)
		return !p.IsOnline
	})
	assert.True(t, ok, "departure not observed")
	time.Sleep(100 * time.Millisecond) // would surface any extra emissions

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, lefts, "repeated departure frames must emit once")
	assert.Equal(t, 1, a.GetSyncStatus().ParticipantCount)
}

func TestFailedStartDoesNotEmitSessionEnded(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	var mu sync.Mutex
	var ended, errored int
	assert.NoError(t, bus.Subscribe(context.Background(), events.SessionEnded, func(context.Context, events.Event) error {
		mu.Lock()
		ended++
		mu.Unlock()
		return nil
	}))
	assert.NoError(t, bus.Subscribe(context.Background(), events.Error, func(context.Context, events.Event) error {
		mu.Lock()
		errored++
		mu.Unlock()
		return nil
	}))

	e := NewEngine(Options{Bus: bus, NewTransport: func([]string) (transport.Transport, error) {
		return nil, errors.New("no broker")
	}})
	_, err := e.StartOrJoin(context.Background(), Config{
		DocumentID: "doc", UserName: "A", EnablePeerTransport: true,
	})
	var trErr *model.TransportError
	assert.ErrorAs(t, err, &trErr)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Positive(t, errored, "failed start must surface an error event")
	assert.Zero(t, ended, "no session-started means no session-ended")
}

func TestMaxParticipantsBoundsRoster(t *testing.T) {
	hub := transport.NewChannelHub()
	defer hub.Close()

	a := newTestEngine(hub)
	b := newTestEngine(hub)
	c := newTestEngine(hub)

	_, err := a.StartOrJoin(context.Background(), Config{
		DocumentID: "bounded", UserName: "Alice", EnablePeerTransport: true,
		MaxParticipants: 2,
	})
	assert.NoError(t, err)
	defer a.Leave()

	_, err = b.StartOrJoin(context.Background(), Config{
		DocumentID: "bounded", UserName: "Bob", EnablePeerTransport: true,
	})
	assert.NoError(t, err)
	defer b.Leave()

	ok := waitFor(t, 2*time.Second, func() bool {
		return len(a.GetParticipants()) == 2
	})
	assert.True(t, ok, "second participant not admitted")

	_, err = c.StartOrJoin(context.Background(), Config{
		DocumentID: "bounded", UserName: "Carol", EnablePeerTransport: true,
	})
	assert.NoError(t, err)
	defer c.Leave()

	// Carol is over Alice's bound, so Alice never admits her.
	time.Sleep(200 * time.Millisecond)
	_, found := a.GetParticipant(c.ClientID())
	assert.False(t, found)
	assert.Equal(t, 2, a.GetSyncStatus().ParticipantCount)
}

func TestCursorPropagates(t *testing.T) {
	hub := transport.NewChannelHub()
	defer hub.Close()

	a := newTestEngine(hub)
	b := newTestEngine(hub)

	_, err := a.StartOrJoin(context.Background(), Config{
		DocumentID: "cursors", UserName: "Alice", EnablePeerTransport: true,
	})
	assert.NoError(t, err)
	defer a.Leave()

	_, err = b.StartOrJoin(context.Background(), Config{
		DocumentID: "cursors", UserName: "Bob", EnablePeerTransport: true,
	})
	assert.NoError(t, err)
	defer b.Leave()

	waitFor(t, 2*time.Second, func() bool { return len(b.GetParticipants()) == 2 })

	assert.NoError(t, a.UpdateCursor("main.go", 3, 14))

	ok := waitFor(t, 2*time.Second, func() bool {
		p, found := b.GetParticipant(a.ClientID())
		return found && p.Cursor != nil && p.Cursor.Line == 3 && p.Cursor.Character == 14
	})
	assert.True(t, ok, "cursor did not propagate")

	assert.NoError(t, a.UpdateSelection("main.go", model.Position{Line: 1}, model.Position{Line: 2}))
	ok = waitFor(t, 2*time.Second, func() bool {
		p, _ := b.GetParticipant(a.ClientID())
		return p.Selection != nil
	})
	assert.True(t, ok, "selection did not propagate")

	assert.NoError(t, a.ClearSelection())
	ok = waitFor(t, 2*time.Second, func() bool {
		p, _ := b.GetParticipant(a.ClientID())
		return p.Selection == nil
	})
	assert.True(t, ok, "selection was not cleared")
}

func TestAssistantIdentityThroughEngine(t *testing.T) {
	hub := transport.NewChannelHub()
	defer hub.Close()

	a := newTestEngine(hub)
	b := newTestEngine(hub)

	_, err := a.StartOrJoin(context.Background(), Config{
		DocumentID: "assistant", UserName: "Alice", EnablePeerTransport: true,
	})
	assert.NoError(t, err)
	defer a.Leave()

	_, err = b.StartOrJoin(context.Background(), Config{
		DocumentID: "assistant", UserName: "Bob", EnablePeerTransport: true,
	})
	assert.NoError(t, err)
	defer b.Leave()

	waitFor(t, 2*time.Second, func() bool { return len(b.GetParticipants()) == 2 })

	err = a.PublishAwarenessAs(model.AssistantClientID, model.AwarenessState{
		Name: "Assistant", Role: model.RoleEditor,
	}, false)
	assert.NoError(t, err)

	ok := waitFor(t, 2*time.Second, func() bool {
		p, found := b.GetParticipant(model.AssistantClientID)
		return found && p.Name == "Assistant"
	})
	assert.True(t, ok, "assistant did not appear on the peer roster")

	assert.NoError(t, a.ApplyChangeAs(model.AssistantClientID, "notes.md", 0, 0, "bot text"))
	ok = waitFor(t, 2*time.Second, func() bool {
		text, _ := b.GetText("notes.md")
		return text == "bot text"
	})
	assert.True(t, ok, "assistant edit did not propagate")
}

func TestExportStateAndStatistics(t *testing.T) {
	e := NewEngine(Options{})
	_, err := e.StartOrJoin(context.Background(), Config{DocumentID: "doc", UserName: "A"})
	assert.NoError(t, err)
	defer e.Leave()

	assert.NoError(t, e.ApplyChange("a.txt", 0, 0, "abc"))
	assert.NoError(t, e.ApplyChange("b.txt", 0, 0, "de"))

	export, err := e.ExportState()
	assert.NoError(t, err)
	assert.Len(t, export.DocumentState, 2)
	assert.NotEmpty(t, export.DocumentState["a.txt"])

	stats, err := e.GetStatistics()
	assert.NoError(t, err)
	assert.Equal(t, 2, stats.DocumentCount)
	assert.Equal(t, 5, stats.TotalBytes)
	assert.Equal(t, 1, stats.ParticipantCount)
}
