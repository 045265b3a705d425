package renderer

import (
	"strings"
	"sync"
	"time"

	"collab-editing-be/internal/model"
	"collab-editing-be/internal/pkg/logger"
)

// Style is the visual treatment for one participant's decorations.
type Style struct {
	Color     string
	Label     string
	ShowLabel bool
	Faded     bool
}

// Decoration is one drawable overlay slot on a surface. Implementations
// belong to the embedding editor; the renderer only drives them.
type Decoration interface {
	Apply(rng model.Range, style Style)
	Clear()
	Dispose()
}

// Surface is one open document view that can host decorations.
type Surface interface {
	FilePath() string
	NewCursorDecoration() Decoration
	NewSelectionDecoration() Decoration
}

// Provider resolves file paths to live surfaces.
type Provider interface {
	ActiveSurface() Surface
	Surfaces() []Surface
}

// Config controls rendering behavior. UpdateConfig applies a new one to
// every existing decoration.
type Config struct {
	ShowCursors    bool
	ShowSelections bool
	ShowLabels     bool
	FadeIdle       bool
	BatchDelay     time.Duration
}

func DefaultConfig() Config {
	return Config{
		ShowCursors:    true,
		ShowSelections: true,
		ShowLabels:     true,
		FadeIdle:       true,
		BatchDelay:     50 * time.Millisecond,
	}
}

// decorationPair is the lazily created cursor and selection slot pair for
// one participant on one surface.
type decorationPair struct {
	filePath  string
	cursor    Decoration
	selection Decoration
	lastStyle Style
	lastState model.Participant
}

// Renderer paints remote participants' cursors and selections onto
// whatever surfaces the embedding editor exposes. It holds no document
// state; it reacts to roster snapshots.
type Renderer struct {
	logger   logger.ILogger
	provider Provider

	mu       sync.Mutex
	cfg      Config
	pairs    map[int]*decorationPair
	pending  map[int]model.Participant
	batchT   *time.Timer
	faded    map[int]bool
	disposed bool
}

func New(provider Provider, cfg Config, log logger.ILogger) *Renderer {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = DefaultConfig().BatchDelay
	}
	return &Renderer{
		logger:   log,
		provider: provider,
		cfg:      cfg,
		pairs:    make(map[int]*decorationPair),
		pending:  make(map[int]model.Participant),
		faded:    make(map[int]bool),
	}
}

// RenderParticipant draws or moves one participant's cursor and selection.
// A participant with no surface for their file is silently skipped; the
// decoration appears when they next move onto an open file.
func (r *Renderer) RenderParticipant(p model.Participant) {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	cfg := r.cfg
	faded := r.faded[p.ClientID]
	r.mu.Unlock()

	if p.Cursor == nil && p.Selection == nil {
		r.RemoveParticipant(p.ClientID)
		return
	}

	filePath := ""
	if p.Cursor != nil {
		filePath = p.Cursor.FilePath
	} else {
		filePath = p.Selection.FilePath
	}
	surface := r.resolveSurface(filePath)
	if surface == nil {
		return
	}

	style := Style{
		Color:     p.Color,
		Label:     p.Name,
		ShowLabel: cfg.ShowLabels,
		Faded:     faded && cfg.FadeIdle,
	}

	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	pair := r.pairs[p.ClientID]
	if pair != nil && pair.filePath != filePath {
		pair.dispose()
		pair = nil
	}
	if pair == nil {
		pair = &decorationPair{
			filePath:  filePath,
			cursor:    surface.NewCursorDecoration(),
			selection: surface.NewSelectionDecoration(),
		}
		r.pairs[p.ClientID] = pair
	}
	pair.lastStyle = style
	pair.lastState = p
	cursor := p.Cursor
	selection := p.Selection
	cursorDeco, selDeco := pair.cursor, pair.selection
	r.mu.Unlock()

	if cursor != nil && cfg.ShowCursors {
		at := model.Position{Line: cursor.Line, Character: cursor.Character}
		cursorDeco.Apply(model.Range{Start: at, End: at}, style)
	} else {
		cursorDeco.Clear()
	}
	if selection != nil && cfg.ShowSelections {
		selDeco.Apply(model.Range{Start: selection.Start, End: selection.End}, style)
	} else {
		selDeco.Clear()
	}
}

// ScheduleBatchUpdate coalesces roster snapshots: rapid successive calls
// collapse into one render pass per participant after a short delay.
func (r *Renderer) ScheduleBatchUpdate(participants []model.Participant) {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	for _, p := range participants {
		r.pending[p.ClientID] = p
	}
	if r.batchT == nil {
		r.batchT = time.AfterFunc(r.cfg.BatchDelay, r.flushBatch)
	} else {
		r.batchT.Reset(r.cfg.BatchDelay)
	}
	r.mu.Unlock()
}

func (r *Renderer) flushBatch() {
	r.mu.Lock()
	batch := r.pending
	r.pending = make(map[int]model.Participant)
	r.batchT = nil
	r.mu.Unlock()

	for _, p := range batch {
		r.RenderParticipant(p)
	}
}

// CheckIdleParticipants fades decorations for idle participants and
// restores full style when they come back. Offline participants are
// removed outright.
func (r *Renderer) CheckIdleParticipants(records []model.PresenceRecord) {
	type repaint struct{ p model.Participant }
	var repaints []repaint

	r.mu.Lock()
	for _, rec := range records {
		switch rec.Status {
		case model.PresenceOffline:
			delete(r.faded, rec.ParticipantID)
		case model.PresenceIdle:
			if !r.faded[rec.ParticipantID] {
				r.faded[rec.ParticipantID] = true
				if pair, ok := r.pairs[rec.ParticipantID]; ok {
					repaints = append(repaints, repaint{pair.lastState})
				}
			}
		default:
			if r.faded[rec.ParticipantID] {
				delete(r.faded, rec.ParticipantID)
				if pair, ok := r.pairs[rec.ParticipantID]; ok {
					repaints = append(repaints, repaint{pair.lastState})
				}
			}
		}
	}
	r.mu.Unlock()

	for _, rp := range repaints {
		r.RenderParticipant(rp.p)
	}
	for _, rec := range records {
		if rec.Status == model.PresenceOffline {
			r.RemoveParticipant(rec.ParticipantID)
		}
	}
}

// RemoveParticipant disposes one participant's decorations.
func (r *Renderer) RemoveParticipant(clientID int) {
	r.mu.Lock()
	pair, ok := r.pairs[clientID]
	delete(r.pairs, clientID)
	delete(r.faded, clientID)
	delete(r.pending, clientID)
	r.mu.Unlock()
	if ok {
		pair.dispose()
	}
}

// UpdateConfig swaps the config and repaints every live decoration so the
// change takes effect immediately.
func (r *Renderer) UpdateConfig(cfg Config) {
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = DefaultConfig().BatchDelay
	}
	r.mu.Lock()
	r.cfg = cfg
	states := make([]model.Participant, 0, len(r.pairs))
	for _, pair := range r.pairs {
		states = append(states, pair.lastState)
	}
	r.mu.Unlock()

	for _, p := range states {
		r.RenderParticipant(p)
	}
}

// ClearAllCursors removes every decoration but keeps the renderer usable.
func (r *Renderer) ClearAllCursors() {
	r.mu.Lock()
	pairs := r.pairs
	r.pairs = make(map[int]*decorationPair)
	r.pending = make(map[int]model.Participant)
	r.faded = make(map[int]bool)
	r.mu.Unlock()
	for _, pair := range pairs {
		pair.dispose()
	}
}

// Dispose clears everything and rejects further work. Safe to call
// repeatedly.
func (r *Renderer) Dispose() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.disposed = true
	if r.batchT != nil {
		r.batchT.Stop()
		r.batchT = nil
	}
	pairs := r.pairs
	r.pairs = make(map[int]*decorationPair)
	r.pending = make(map[int]model.Participant)
	r.mu.Unlock()
	for _, pair := range pairs {
		pair.dispose()
	}
}

// resolveSurface finds where to draw for a file path: exact match first,
// then the active surface on a basename match, then a scan of every open
// surface. No match means nothing to draw, which is not an error.
func (r *Renderer) resolveSurface(filePath string) Surface {
	surfaces := r.provider.Surfaces()
	for _, s := range surfaces {
		if s.FilePath() == filePath {
			return s
		}
	}
	if active := r.provider.ActiveSurface(); active != nil && pathsAlias(active.FilePath(), filePath) {
		return active
	}
	for _, s := range surfaces {
		if pathsAlias(s.FilePath(), filePath) {
			return s
		}
	}
	return nil
}

// pathsAlias treats paths as the same file when one is a suffix of the
// other, which absorbs workspace-relative versus absolute path mismatches.
func pathsAlias(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.HasSuffix(a, b) || strings.HasSuffix(b, a)
}

func (p *decorationPair) dispose() {
	if p.cursor != nil {
		p.cursor.Dispose()
	}
	if p.selection != nil {
		p.selection.Dispose()
	}
}
