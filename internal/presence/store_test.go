package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"collab-editing-be/internal/model"
)

func TestUpdatePresenceCreatesAndMerges(t *testing.T) {
	s := NewStore(Options{})
	defer s.Dispose()

	s.UpdatePresence(1, model.PresenceOnline, "main.go")
	rec, ok := s.GetPresence(1)
	assert.True(t, ok)
	assert.Equal(t, model.PresenceOnline, rec.Status)
	assert.Equal(t, "main.go", rec.CurrentFile)

	// Merging without a file keeps the last known file.
	s.UpdatePresence(1, model.PresenceIdle, "")
	rec, _ = s.GetPresence(1)
	assert.Equal(t, model.PresenceIdle, rec.Status)
	assert.Equal(t, "main.go", rec.CurrentFile)
}

func TestRecordActivityPromotesIdle(t *testing.T) {
	s := NewStore(Options{})
	defer s.Dispose()

	s.UpdatePresence(3, model.PresenceIdle, "")
	s.RecordActivity(3, model.ActivityCursor, "")
	rec, _ := s.GetPresence(3)
	assert.Equal(t, model.PresenceOnline, rec.Status)
}

func TestTypingFlagAutoClears(t *testing.T) {
	s := NewStore(Options{})
	defer s.Dispose()

	s.RecordActivity(2, model.ActivityTyping, "a.txt")
	rec, _ := s.GetPresence(2)
	assert.True(t, rec.IsTyping)

	assert.Eventually(t, func() bool {
		rec, _ := s.GetPresence(2)
		return !rec.IsTyping
	}, 3*time.Second, 50*time.Millisecond, "typing flag never cleared")
}

func TestFileTracking(t *testing.T) {
	s := NewStore(Options{})
	defer s.Dispose()

	s.RecordActivity(1, model.ActivityFileOpen, "shared.md")
	s.RecordActivity(2, model.ActivityFileOpen, "shared.md")
	s.RecordActivity(3, model.ActivityFileOpen, "other.md")

	ids := s.GetParticipantsInFile("shared.md")
	assert.ElementsMatch(t, []int{1, 2}, ids)

	// Closing a different file does not clear the current one.
	s.RecordActivity(1, model.ActivityFileClose, "unrelated.md")
	assert.Contains(t, s.GetParticipantsInFile("shared.md"), 1)

	s.RecordActivity(1, model.ActivityFileClose, "shared.md")
	assert.NotContains(t, s.GetParticipantsInFile("shared.md"), 1)
}

func TestGetOnlineParticipants(t *testing.T) {
	s := NewStore(Options{})
	defer s.Dispose()

	s.UpdatePresence(3, model.PresenceOnline, "")
	s.UpdatePresence(1, model.PresenceOnline, "")
	s.UpdatePresence(2, model.PresenceIdle, "")

	assert.Equal(t, []int{1, 3}, s.GetOnlineParticipants())
}

func TestRecentActivityNewestFirst(t *testing.T) {
	s := NewStore(Options{})
	defer s.Dispose()

	s.RecordActivity(1, model.ActivityFileOpen, "a")
	s.RecordActivity(1, model.ActivityTyping, "a")
	s.RecordActivity(1, model.ActivityComment, "a")

	events := s.GetRecentActivity(2)
	assert.Len(t, events, 2)
	assert.Equal(t, model.ActivityComment, events[0].Type)
	assert.Equal(t, model.ActivityTyping, events[1].Type)
}

func TestActivityLogIsBounded(t *testing.T) {
	s := NewStore(Options{})
	defer s.Dispose()

	for i := 0; i < activityLogCap+50; i++ {
		s.RecordActivity(1, model.ActivityCursor, "")
	}
	assert.Len(t, s.GetRecentActivity(0), activityLogCap)
}

func TestSweepDemotesStaleRecords(t *testing.T) {
	s := NewStore(Options{
		IdleThreshold:    50 * time.Millisecond,
		OfflineThreshold: 150 * time.Millisecond,
		SweepInterval:    20 * time.Millisecond,
	})
	defer s.Dispose()

	s.UpdatePresence(9, model.PresenceOnline, "")

	assert.Eventually(t, func() bool {
		rec, _ := s.GetPresence(9)
		return rec.Status == model.PresenceIdle
	}, 2*time.Second, 20*time.Millisecond, "never went idle")

	assert.Eventually(t, func() bool {
		rec, _ := s.GetPresence(9)
		return rec.Status == model.PresenceOffline
	}, 2*time.Second, 20*time.Millisecond, "never went offline")
}

func TestRemoveAndDispose(t *testing.T) {
	s := NewStore(Options{})

	s.RecordActivity(1, model.ActivityTyping, "")
	s.RemovePresence(1)
	_, ok := s.GetPresence(1)
	assert.False(t, ok)

	s.Dispose()
	s.Dispose() // second call must be safe

	// A disposed store ignores writes.
	s.UpdatePresence(2, model.PresenceOnline, "")
	_, ok = s.GetPresence(2)
	assert.False(t, ok)
}
