package renderer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"collab-editing-be/internal/model"
)

type fakeDecoration struct {
	mu       sync.Mutex
	applied  []Style
	lastRng  model.Range
	cleared  int
	disposed bool
}

func (d *fakeDecoration) Apply(rng model.Range, style Style) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applied = append(d.applied, style)
	d.lastRng = rng
}

func (d *fakeDecoration) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleared++
}

func (d *fakeDecoration) Dispose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disposed = true
}

func (d *fakeDecoration) lastStyle() (Style, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.applied) == 0 {
		return Style{}, false
	}
	return d.applied[len(d.applied)-1], true
}

type fakeSurface struct {
	path    string
	cursors []*fakeDecoration
	sels    []*fakeDecoration
}

func (s *fakeSurface) FilePath() string { return s.path }

func (s *fakeSurface) NewCursorDecoration() Decoration {
	d := &fakeDecoration{}
	s.cursors = append(s.cursors, d)
	return d
}

func (s *fakeSurface) NewSelectionDecoration() Decoration {
	d := &fakeDecoration{}
	s.sels = append(s.sels, d)
	return d
}

type fakeProvider struct {
	active   *fakeSurface
	surfaces []*fakeSurface
}

func (p *fakeProvider) ActiveSurface() Surface {
	if p.active == nil {
		return nil
	}
	return p.active
}

func (p *fakeProvider) Surfaces() []Surface {
	out := make([]Surface, len(p.surfaces))
	for i, s := range p.surfaces {
		out[i] = s
	}
	return out
}

func participantAt(id int, name, file string, line, ch int) model.Participant {
	return model.Participant{
		ClientID: id,
		Name:     name,
		Color:    model.ColorForClient(id),
		Cursor:   &model.Cursor{FilePath: file, Line: line, Character: ch},
	}
}

func TestRenderParticipantLazyDecorations(t *testing.T) {
	surface := &fakeSurface{path: "main.go"}
	provider := &fakeProvider{active: surface, surfaces: []*fakeSurface{surface}}
	r := New(provider, DefaultConfig(), nil)
	defer r.Dispose()

	r.RenderParticipant(participantAt(1, "Alice", "main.go", 4, 2))
	assert.Len(t, surface.cursors, 1)
	style, ok := surface.cursors[0].lastStyle()
	assert.True(t, ok)
	assert.Equal(t, "Alice", style.Label)
	assert.Equal(t, model.Position{Line: 4, Character: 2}, surface.cursors[0].lastRng.Start)

	// Moving the same participant reuses the decoration pair.
	r.RenderParticipant(participantAt(1, "Alice", "main.go", 9, 0))
	assert.Len(t, surface.cursors, 1)
	assert.Len(t, surface.cursors[0].applied, 2)
}

func TestNoSurfaceIsSilentNoOp(t *testing.T) {
	provider := &fakeProvider{}
	r := New(provider, DefaultConfig(), nil)
	defer r.Dispose()

	// Nothing to draw on; must not panic or create anything.
	r.RenderParticipant(participantAt(1, "Alice", "ghost.go", 0, 0))
}

func TestSurfaceResolutionSuffixMatch(t *testing.T) {
	surface := &fakeSurface{path: "/workspace/project/main.go"}
	provider := &fakeProvider{active: surface, surfaces: []*fakeSurface{surface}}
	r := New(provider, DefaultConfig(), nil)
	defer r.Dispose()

	r.RenderParticipant(participantAt(1, "Alice", "project/main.go", 0, 0))
	assert.Len(t, surface.cursors, 1, "relative path should resolve to the absolute surface")
}

func TestParticipantMovesBetweenFiles(t *testing.T) {
	s1 := &fakeSurface{path: "a.go"}
	s2 := &fakeSurface{path: "b.go"}
	provider := &fakeProvider{active: s1, surfaces: []*fakeSurface{s1, s2}}
	r := New(provider, DefaultConfig(), nil)
	defer r.Dispose()

	r.RenderParticipant(participantAt(1, "Alice", "a.go", 0, 0))
	r.RenderParticipant(participantAt(1, "Alice", "b.go", 0, 0))

	assert.True(t, s1.cursors[0].disposed, "old surface decoration must be disposed")
	assert.Len(t, s2.cursors, 1)
}

func TestScheduleBatchUpdateCoalesces(t *testing.T) {
	surface := &fakeSurface{path: "a.go"}
	provider := &fakeProvider{active: surface, surfaces: []*fakeSurface{surface}}
	cfg := DefaultConfig()
	cfg.BatchDelay = 20 * time.Millisecond
	r := New(provider, cfg, nil)
	defer r.Dispose()

	// Three rapid snapshots for the same participant collapse to one paint.
	for i := 0; i < 3; i++ {
		r.ScheduleBatchUpdate([]model.Participant{participantAt(1, "Alice", "a.go", i, 0)})
	}

	assert.Eventually(t, func() bool {
		return len(surface.cursors) == 1 && len(surface.cursors[0].applied) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, surface.cursors[0].lastRng.Start.Line, "last snapshot wins")
}

func TestIdleFadeAndRecovery(t *testing.T) {
	surface := &fakeSurface{path: "a.go"}
	provider := &fakeProvider{active: surface, surfaces: []*fakeSurface{surface}}
	r := New(provider, DefaultConfig(), nil)
	defer r.Dispose()

	r.RenderParticipant(participantAt(1, "Alice", "a.go", 0, 0))

	r.CheckIdleParticipants([]model.PresenceRecord{{ParticipantID: 1, Status: model.PresenceIdle}})
	style, _ := surface.cursors[0].lastStyle()
	assert.True(t, style.Faded)

	r.CheckIdleParticipants([]model.PresenceRecord{{ParticipantID: 1, Status: model.PresenceOnline}})
	style, _ = surface.cursors[0].lastStyle()
	assert.False(t, style.Faded)
}

func TestOfflineRemovesDecorations(t *testing.T) {
	surface := &fakeSurface{path: "a.go"}
	provider := &fakeProvider{active: surface, surfaces: []*fakeSurface{surface}}
	r := New(provider, DefaultConfig(), nil)
	defer r.Dispose()

	r.RenderParticipant(participantAt(1, "Alice", "a.go", 0, 0))
	r.CheckIdleParticipants([]model.PresenceRecord{{ParticipantID: 1, Status: model.PresenceOffline}})
	assert.True(t, surface.cursors[0].disposed)
}

func TestUpdateConfigRepaints(t *testing.T) {
	surface := &fakeSurface{path: "a.go"}
	provider := &fakeProvider{active: surface, surfaces: []*fakeSurface{surface}}
	r := New(provider, DefaultConfig(), nil)
	defer r.Dispose()

	r.RenderParticipant(participantAt(1, "Alice", "a.go", 0, 0))

	cfg := DefaultConfig()
	cfg.ShowLabels = false
	r.UpdateConfig(cfg)

	style, _ := surface.cursors[0].lastStyle()
	assert.False(t, style.ShowLabel)

	// Turning cursors off clears the marker instead of restyling it.
	cfg.ShowCursors = false
	r.UpdateConfig(cfg)
	assert.Positive(t, surface.cursors[0].cleared)
}

func TestClearAllAndDispose(t *testing.T) {
	surface := &fakeSurface{path: "a.go"}
	provider := &fakeProvider{active: surface, surfaces: []*fakeSurface{surface}}
	r := New(provider, DefaultConfig(), nil)

	r.RenderParticipant(participantAt(1, "Alice", "a.go", 0, 0))
	r.ClearAllCursors()
	assert.True(t, surface.cursors[0].disposed)

	// Still usable after a clear.
	r.RenderParticipant(participantAt(2, "Bob", "a.go", 0, 0))
	assert.Len(t, surface.cursors, 2)

	r.Dispose()
	r.Dispose() // repeated dispose is safe
	assert.True(t, surface.cursors[1].disposed)

	// Disposed renderer ignores further work.
	r.RenderParticipant(participantAt(3, "Eve", "a.go", 0, 0))
	assert.Len(t, surface.cursors, 2)
}
