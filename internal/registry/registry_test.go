package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caremesh/telecare/internal/models"
)

func newSession() *models.Session {
	return &models.Session{
		ID:         uuid.New(),
		PatientID:  uuid.New(),
		ProviderID: uuid.New(),
		Status:     models.SessionStatusScheduled,
		CreatedAt:  time.Now(),
	}
}

func TestPutAndSnapshot(t *testing.T) {
	r := New()
	s := newSession()

	require.NoError(t, r.Put(s))
	assert.Equal(t, 1, r.Len())

	snap, err := r.Snapshot(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, snap.ID)
	assert.Equal(t, models.SessionStatusScheduled, snap.Status)
}

func TestPutDuplicate(t *testing.T) {
	r := New()
	s := newSession()

	require.NoError(t, r.Put(s))
	assert.ErrorIs(t, r.Put(s), ErrDuplicateSession)
}

func TestSnapshotUnknown(t *testing.T) {
	r := New()

	_, err := r.Snapshot(uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSnapshotIsolation(t *testing.T) {
	r := New()
	s := newSession()
	require.NoError(t, r.Put(s))

	snap, err := r.Snapshot(s.ID)
	require.NoError(t, err)

	// Mutating the snapshot must not leak into the live session.
	snap.Status = models.SessionStatusFailed
	snap.Participants = append(snap.Participants, models.Participant{UserID: uuid.New()})
	snap.AuditLog = append(snap.AuditLog, models.AuditEntry{Action: models.AuditJoin})

	fresh, err := r.Snapshot(s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusScheduled, fresh.Status)
	assert.Empty(t, fresh.Participants)
	assert.Empty(t, fresh.AuditLog)
}

func TestUpdateRejectedLeavesStateUnchanged(t *testing.T) {
	r := New()
	s := newSession()
	require.NoError(t, r.Put(s))

	_, err := r.Update(s.ID, func(live *models.Session) error {
		return fmt.Errorf("rejected")
	})
	require.Error(t, err)

	snap, err := r.Snapshot(s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusScheduled, snap.Status)
}

func TestConcurrentJoinsNeverExceedCapacity(t *testing.T) {
	r := New()
	s := newSession()
	require.NoError(t, r.Put(s))

	const maxParticipants = 2
	const attempts = 32

	var wg sync.WaitGroup
	var admitted sync.Map
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			userID := uuid.New()
			_, err := r.Update(s.ID, func(live *models.Session) error {
				if len(live.Participants) >= maxParticipants {
					return fmt.Errorf("full")
				}
				live.Participants = append(live.Participants, models.Participant{UserID: userID})
				return nil
			})
			if err == nil {
				admitted.Store(n, struct{}{})
			}
		}(i)
	}
	wg.Wait()

	snap, err := r.Snapshot(s.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Participants, maxParticipants)

	count := 0
	admitted.Range(func(_, _ any) bool { count++; return true })
	assert.Equal(t, maxParticipants, count)
}

func TestRemove(t *testing.T) {
	r := New()
	s := newSession()
	require.NoError(t, r.Put(s))

	r.Remove(s.ID)
	assert.Equal(t, 0, r.Len())

	_, err := r.Snapshot(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestInProgressIDs(t *testing.T) {
	r := New()

	scheduled := newSession()
	require.NoError(t, r.Put(scheduled))

	active := newSession()
	active.Status = models.SessionStatusInProgress
	require.NoError(t, r.Put(active))

	ids := r.InProgressIDs()
	require.Len(t, ids, 1)
	assert.Equal(t, active.ID, ids[0])
}
