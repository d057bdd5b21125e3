package presence

import (
	"context"
	"log"
	"time"

	"comms-service/internal/models"
	"comms-service/internal/observability"
)

// Pusher is the slice of the transport hub the tracker needs.
type Pusher interface {
	PushMany(userIDs []int, env models.Envelope)
}

// SubscriberSource resolves who should hear about a user's presence
// changes: everyone sharing at least one channel with them.
type SubscriberSource interface {
	SharedChannelUserIDs(ctx context.Context, userID int) ([]int, error)
}

// Tracker owns the ephemeral user → status map and broadcasts changes.
// Best-effort by design: a crashed connection is reconciled by the
// heartbeat sweep rather than a persisted state machine.
type Tracker struct {
	store   Store
	subs    SubscriberSource
	push    Pusher
	timeout time.Duration
}

// NewTracker constructs a Tracker.
func NewTracker(store Store, subs SubscriberSource, push Pusher, timeout time.Duration) *Tracker {
	return &Tracker{store: store, subs: subs, push: push, timeout: timeout}
}

// SetStatus records the status and broadcasts presence.changed to every
// subscriber. Duplicate events are fine; clients treat them idempotently.
func (t *Tracker) SetStatus(ctx context.Context, userID int, status models.PresenceStatus) error {
	if !status.Valid() {
		return nil
	}
	record := models.PresenceRecord{UserID: userID, Status: status, UpdatedAt: time.Now()}
	if err := t.store.Set(ctx, record); err != nil {
		return err
	}
	observability.IncPresenceTransition(string(status))
	t.broadcast(ctx, userID, status)
	return nil
}

// Heartbeat refreshes the user's record so the sweep doesn't demote them.
// Preserves the current status; a heartbeat from an away user keeps them
// away.
func (t *Tracker) Heartbeat(ctx context.Context, userID int) {
	records, err := t.store.Get(ctx, []int{userID})
	if err != nil {
		log.Printf("presence heartbeat read error: %v", err)
		return
	}
	status := models.PresenceOnline
	if rec, ok := records[userID]; ok {
		status = rec.Status
	}
	if err := t.store.Set(ctx, models.PresenceRecord{UserID: userID, Status: status, UpdatedAt: time.Now()}); err != nil {
		log.Printf("presence heartbeat write error: %v", err)
	}
}

// Connected marks the user online on first connection.
func (t *Tracker) Connected(ctx context.Context, userID int) {
	if err := t.SetStatus(ctx, userID, models.PresenceOnline); err != nil {
		log.Printf("presence connect error: %v", err)
	}
}

// Disconnected demotes the user to offline when their last connection
// closes.
func (t *Tracker) Disconnected(ctx context.Context, userID int) {
	if err := t.SetStatus(ctx, userID, models.PresenceOffline); err != nil {
		log.Printf("presence disconnect error: %v", err)
	}
}

// Get returns records for the requested users, defaulting to offline for
// anyone without a live record.
func (t *Tracker) Get(ctx context.Context, userIDs []int) (map[int]models.PresenceRecord, error) {
	records, err := t.store.Get(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range userIDs {
		if _, ok := records[id]; !ok {
			records[id] = models.PresenceRecord{UserID: id, Status: models.PresenceOffline}
		}
	}
	return records, nil
}

// Run sweeps for users whose heartbeat went silent and demotes them to
// offline. Blocks until the context is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	interval := t.timeout / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

func (t *Tracker) sweep(ctx context.Context) {
	stale, err := t.store.Stale(ctx, time.Now().Add(-t.timeout))
	if err != nil {
		log.Printf("presence sweep error: %v", err)
		return
	}
	for _, id := range stale {
		if err := t.SetStatus(ctx, id, models.PresenceOffline); err != nil {
			log.Printf("presence sweep demote error: %v", err)
		}
	}
}

func (t *Tracker) broadcast(ctx context.Context, userID int, status models.PresenceStatus) {
	subscribers, err := t.subs.SharedChannelUserIDs(ctx, userID)
	if err != nil {
		log.Printf("presence subscriber lookup error: %v", err)
		return
	}
	if len(subscribers) == 0 {
		return
	}
	t.push.PushMany(subscribers, models.Envelope{
		Type:    models.EventPresenceChanged,
		Payload: models.PresenceEventPayload{UserID: userID, Status: string(status)},
	})
}
