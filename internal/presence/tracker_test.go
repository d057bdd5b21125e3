package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comms-service/internal/models"
)

type recordingPusher struct {
	mu        sync.Mutex
	envelopes map[int][]models.Envelope
}

func newRecordingPusher() *recordingPusher {
	return &recordingPusher{envelopes: make(map[int][]models.Envelope)}
}

func (p *recordingPusher) PushMany(userIDs []int, env models.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range userIDs {
		p.envelopes[id] = append(p.envelopes[id], env)
	}
}

func (p *recordingPusher) statuses(userID int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, env := range p.envelopes[userID] {
		out = append(out, env.Payload.(models.PresenceEventPayload).Status)
	}
	return out
}

type staticSubscribers struct {
	ids map[int][]int
}

func (s staticSubscribers) SharedChannelUserIDs(ctx context.Context, userID int) ([]int, error) {
	return s.ids[userID], nil
}

func newTestTracker(timeout time.Duration, subs map[int][]int) (*Tracker, *MemoryStore, *recordingPusher) {
	store := NewMemoryStore()
	push := newRecordingPusher()
	tracker := NewTracker(store, staticSubscribers{ids: subs}, push, timeout)
	return tracker, store, push
}

func TestSetStatusBroadcastsToSharedChannelUsers(t *testing.T) {
	tracker, _, push := newTestTracker(time.Minute, map[int][]int{1: {2, 3}})
	ctx := context.Background()

	require.NoError(t, tracker.SetStatus(ctx, 1, models.PresenceAway))

	for _, id := range []int{2, 3} {
		assert.Equal(t, []string{"away"}, push.statuses(id), "user %d", id)
	}
	assert.Empty(t, push.statuses(1))

	records, err := tracker.Get(ctx, []int{1})
	require.NoError(t, err)
	assert.Equal(t, models.PresenceAway, records[1].Status)
}

func TestSetStatusIgnoresInvalidStatus(t *testing.T) {
	tracker, _, push := newTestTracker(time.Minute, map[int][]int{1: {2}})

	require.NoError(t, tracker.SetStatus(context.Background(), 1, models.PresenceStatus("lurking")))
	assert.Empty(t, push.statuses(2))
}

func TestGetDefaultsToOffline(t *testing.T) {
	tracker, _, _ := newTestTracker(time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, tracker.SetStatus(ctx, 1, models.PresenceOnline))

	records, err := tracker.Get(ctx, []int{1, 99})
	require.NoError(t, err)
	assert.Equal(t, models.PresenceOnline, records[1].Status)
	assert.Equal(t, models.PresenceOffline, records[99].Status)
}

func TestConnectedAndDisconnectedTransitions(t *testing.T) {
	tracker, _, push := newTestTracker(time.Minute, map[int][]int{1: {2}})
	ctx := context.Background()

	tracker.Connected(ctx, 1)
	tracker.Disconnected(ctx, 1)

	assert.Equal(t, []string{"online", "offline"}, push.statuses(2))

	records, err := tracker.Get(ctx, []int{1})
	require.NoError(t, err)
	assert.Equal(t, models.PresenceOffline, records[1].Status)
}

func TestHeartbeatPreservesCurrentStatus(t *testing.T) {
	tracker, store, _ := newTestTracker(time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, tracker.SetStatus(ctx, 1, models.PresenceAway))
	stale := models.PresenceRecord{UserID: 1, Status: models.PresenceAway, UpdatedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, store.Set(ctx, stale))

	tracker.Heartbeat(ctx, 1)

	records, err := store.Get(ctx, []int{1})
	require.NoError(t, err)
	assert.Equal(t, models.PresenceAway, records[1].Status)
	assert.WithinDuration(t, time.Now(), records[1].UpdatedAt, time.Second)
}

func TestHeartbeatForUnknownUserMarksOnline(t *testing.T) {
	tracker, store, _ := newTestTracker(time.Minute, nil)
	ctx := context.Background()

	tracker.Heartbeat(ctx, 7)

	records, err := store.Get(ctx, []int{7})
	require.NoError(t, err)
	assert.Equal(t, models.PresenceOnline, records[7].Status)
}

func TestSweepDemotesStaleUsers(t *testing.T) {
	tracker, store, push := newTestTracker(30*time.Second, map[int][]int{1: {2}})
	ctx := context.Background()

	old := models.PresenceRecord{UserID: 1, Status: models.PresenceOnline, UpdatedAt: time.Now().Add(-time.Minute)}
	require.NoError(t, store.Set(ctx, old))
	fresh := models.PresenceRecord{UserID: 3, Status: models.PresenceOnline, UpdatedAt: time.Now()}
	require.NoError(t, store.Set(ctx, fresh))

	tracker.sweep(ctx)

	records, err := tracker.Get(ctx, []int{1, 3})
	require.NoError(t, err)
	assert.Equal(t, models.PresenceOffline, records[1].Status)
	assert.Equal(t, models.PresenceOnline, records[3].Status)
	assert.Equal(t, []string{"offline"}, push.statuses(2))
}

func TestMemoryStoreDropsOfflineRecords(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, models.PresenceRecord{UserID: 1, Status: models.PresenceOnline, UpdatedAt: time.Now()}))
	require.NoError(t, store.Set(ctx, models.PresenceRecord{UserID: 1, Status: models.PresenceOffline, UpdatedAt: time.Now()}))

	records, err := store.Get(ctx, []int{1})
	require.NoError(t, err)
	assert.NotContains(t, records, 1)

	stale, err := store.Stale(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)
}
