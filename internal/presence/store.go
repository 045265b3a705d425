package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"collab-editing-be/internal/model"
	"collab-editing-be/internal/pkg/logger"
	"collab-editing-be/pkg/events"
)

const (
	// typingClearDelay is how long a typing flag survives without another
	// typing activity.
	typingClearDelay = 2 * time.Second
	// activityLogCap bounds the in-memory activity history.
	activityLogCap = 256
)

// Options carries the thresholds for the idle sweep. Zero values fall back
// to the defaults below.
type Options struct {
	Logger           logger.ILogger
	Bus              *events.Bus
	IdleThreshold    time.Duration
	OfflineThreshold time.Duration
	SweepInterval    time.Duration
}

// Store tracks who is here, what they are doing and how fresh that
// knowledge is. It is fed by awareness and activity signals and decays
// records on its own clock: online, then idle, then offline.
type Store struct {
	logger logger.ILogger
	bus    *events.Bus

	idleThreshold    time.Duration
	offlineThreshold time.Duration

	mu           sync.Mutex
	records      map[int]*model.PresenceRecord
	typingTimers map[int]*time.Timer
	activity     []model.ActivityEvent
	activityPos  int
	disposed     bool

	stopSweep chan struct{}
	sweepOnce sync.Once
}

func NewStore(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	if opts.IdleThreshold <= 0 {
		opts.IdleThreshold = 30 * time.Second
	}
	if opts.OfflineThreshold <= 0 {
		opts.OfflineThreshold = 2 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Second
	}

	s := &Store{
		logger:           opts.Logger,
		bus:              opts.Bus,
		idleThreshold:    opts.IdleThreshold,
		offlineThreshold: opts.OfflineThreshold,
		records:          make(map[int]*model.PresenceRecord),
		typingTimers:     make(map[int]*time.Timer),
		activity:         make([]model.ActivityEvent, 0, activityLogCap),
		stopSweep:        make(chan struct{}),
	}
	go s.sweepLoop(opts.SweepInterval)
	return s
}

// UpdatePresence creates or merges a record. A status transition emits
// status-changed before the general presence-updated, so subscribers that
// only care about transitions never see them out of order.
func (s *Store) UpdatePresence(participantID int, status model.PresenceStatus, currentFile string) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	rec, ok := s.records[participantID]
	if !ok {
		rec = &model.PresenceRecord{ParticipantID: participantID}
		s.records[participantID] = rec
	}
	prev := rec.Status
	rec.Status = status
	rec.LastActivity = time.Now()
	if currentFile != "" {
		rec.CurrentFile = currentFile
	}
	snapshot := *rec
	s.mu.Unlock()

	if prev != status {
		s.emit(events.StatusChanged, map[string]interface{}{
			"participant_id": participantID,
			"from":           string(prev),
			"to":             string(status),
		})
	}
	s.emit(events.PresenceUpdated, map[string]interface{}{
		"participant_id": participantID,
		"record":         snapshot,
	})
}

// RecordActivity logs one activity event and applies its side effects:
// typing sets a self-clearing flag, file open/close tracks the current
// file, and any activity promotes an idle participant back to online.
func (s *Store) RecordActivity(participantID int, kind model.ActivityType, filePath string) {
	now := time.Now()

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	rec, ok := s.records[participantID]
	if !ok {
		rec = &model.PresenceRecord{ParticipantID: participantID, Status: model.PresenceOnline}
		s.records[participantID] = rec
	}
	rec.LastActivity = now
	promoted := false
	if rec.Status == model.PresenceIdle {
		rec.Status = model.PresenceOnline
		promoted = true
	}

	switch kind {
	case model.ActivityTyping:
		rec.IsTyping = true
		s.armTypingClearLocked(participantID)
	case model.ActivityFileOpen:
		rec.CurrentFile = filePath
	case model.ActivityFileClose:
		if rec.CurrentFile == filePath {
			rec.CurrentFile = ""
		}
	}

	s.pushActivityLocked(model.ActivityEvent{
		ParticipantID: participantID,
		Type:          kind,
		FilePath:      filePath,
		At:            now,
	})
	snapshot := *rec
	s.mu.Unlock()

	if promoted {
		s.emit(events.StatusChanged, map[string]interface{}{
			"participant_id": participantID,
			"from":           string(model.PresenceIdle),
			"to":             string(model.PresenceOnline),
		})
	}
	s.emit(events.PresenceUpdated, map[string]interface{}{
		"participant_id": participantID,
		"record":         snapshot,
	})
}

// GetPresence returns one participant's record.
func (s *Store) GetPresence(participantID int) (model.PresenceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[participantID]
	if !ok {
		return model.PresenceRecord{}, false
	}
	return *rec, true
}

// GetAllPresence returns a snapshot of every record.
func (s *Store) GetAllPresence() []model.PresenceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.PresenceRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	return out
}

// GetOnlineParticipants lists the ids currently marked online.
func (s *Store) GetOnlineParticipants() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for id, rec := range s.records {
		if rec.Status == model.PresenceOnline {
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}

// GetParticipantsInFile lists participants whose current file matches.
func (s *Store) GetParticipantsInFile(filePath string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for id, rec := range s.records {
		if rec.CurrentFile == filePath && rec.Status != model.PresenceOffline {
			out = append(out, id)
		}
	}
	return out
}

// GetRecentActivity returns up to limit events, newest first.
func (s *Store) GetRecentActivity(limit int) []model.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.activity)
	if n == 0 {
		return nil
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]model.ActivityEvent, 0, limit)
	// The log is a ring: walk backwards from the write position.
	for i := 0; i < limit; i++ {
		idx := (s.activityPos - 1 - i + n) % n
		out = append(out, s.activity[idx])
	}
	return out
}

// RemovePresence drops a participant entirely, typing timer included.
func (s *Store) RemovePresence(participantID int) {
	s.mu.Lock()
	if timer, ok := s.typingTimers[participantID]; ok {
		timer.Stop()
		delete(s.typingTimers, participantID)
	}
	_, existed := s.records[participantID]
	delete(s.records, participantID)
	s.mu.Unlock()

	if existed {
		s.emit(events.StatusChanged, map[string]interface{}{
			"participant_id": participantID,
			"to":             string(model.PresenceOffline),
		})
	}
}

// Dispose stops the sweep and clears all state. Safe to call repeatedly.
func (s *Store) Dispose() {
	s.sweepOnce.Do(func() { close(s.stopSweep) })
	s.mu.Lock()
	s.disposed = true
	for id, timer := range s.typingTimers {
		timer.Stop()
		delete(s.typingTimers, id)
	}
	s.records = make(map[int]*model.PresenceRecord)
	s.activity = s.activity[:0]
	s.activityPos = 0
	s.mu.Unlock()
}

// armTypingClearLocked requires s.mu held.
func (s *Store) armTypingClearLocked(participantID int) {
	if timer, ok := s.typingTimers[participantID]; ok {
		timer.Reset(typingClearDelay)
		return
	}
	s.typingTimers[participantID] = time.AfterFunc(typingClearDelay, func() {
		s.clearTyping(participantID)
	})
}

func (s *Store) clearTyping(participantID int) {
	s.mu.Lock()
	delete(s.typingTimers, participantID)
	rec, ok := s.records[participantID]
	if !ok || !rec.IsTyping {
		s.mu.Unlock()
		return
	}
	rec.IsTyping = false
	snapshot := *rec
	s.mu.Unlock()

	s.emit(events.PresenceUpdated, map[string]interface{}{
		"participant_id": participantID,
		"record":         snapshot,
	})
}

// pushActivityLocked requires s.mu held. The log is a fixed-capacity ring;
// once full, new events overwrite the oldest.
func (s *Store) pushActivityLocked(ev model.ActivityEvent) {
	if len(s.activity) < activityLogCap {
		s.activity = append(s.activity, ev)
		s.activityPos = len(s.activity) % activityLogCap
		return
	}
	s.activity[s.activityPos] = ev
	s.activityPos = (s.activityPos + 1) % activityLogCap
}

func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep demotes stale records: online past the idle threshold becomes
// idle, idle past the offline threshold becomes offline.
func (s *Store) sweep() {
	type transition struct {
		id       int
		from, to model.PresenceStatus
		record   model.PresenceRecord
	}
	now := time.Now()

	s.mu.Lock()
	var changed []transition
	for id, rec := range s.records {
		age := now.Sub(rec.LastActivity)
		switch {
		case rec.Status == model.PresenceOnline && age > s.idleThreshold:
			rec.Status = model.PresenceIdle
			changed = append(changed, transition{id, model.PresenceOnline, model.PresenceIdle, *rec})
		case rec.Status == model.PresenceIdle && age > s.offlineThreshold:
			rec.Status = model.PresenceOffline
			changed = append(changed, transition{id, model.PresenceIdle, model.PresenceOffline, *rec})
		}
	}
	s.mu.Unlock()

	for _, t := range changed {
		s.emit(events.StatusChanged, map[string]interface{}{
			"participant_id": t.id,
			"from":           string(t.from),
			"to":             string(t.to),
		})
		s.emit(events.PresenceUpdated, map[string]interface{}{
			"participant_id": t.id,
			"record":         t.record,
		})
	}
}

func (s *Store) emit(eventType string, data map[string]interface{}) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(context.Background(), events.New(eventType, data)); err != nil {
		s.logger.Warn("PresenceStore", "Event publish failed", map[string]interface{}{
			"event": eventType, "error": err.Error(),
		})
	}
}
