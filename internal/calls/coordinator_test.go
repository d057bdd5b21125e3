package calls

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comms-service/internal/apperr"
	"comms-service/internal/models"
)

type fakePusher struct {
	mu        sync.Mutex
	envelopes map[int][]models.Envelope
	offline   map[int]bool
}

func newFakePusher() *fakePusher {
	return &fakePusher{envelopes: make(map[int][]models.Envelope), offline: make(map[int]bool)}
}

func (p *fakePusher) Push(userID int, env models.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envelopes[userID] = append(p.envelopes[userID], env)
}

func (p *fakePusher) PushMany(userIDs []int, env models.Envelope) {
	for _, id := range userIDs {
		p.Push(id, env)
	}
}

func (p *fakePusher) IsConnected(userID int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.offline[userID]
}

func (p *fakePusher) received(userID int, eventType string) []models.CallEventPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.CallEventPayload
	for _, env := range p.envelopes[userID] {
		if env.Type == eventType {
			out = append(out, env.Payload.(models.CallEventPayload))
		}
	}
	return out
}

type allowAll struct{}

func (allowAll) Authorize(ctx context.Context, actorID, channelID int) error { return nil }

type denyAll struct{}

func (denyAll) Authorize(ctx context.Context, actorID, channelID int) error {
	return apperr.ErrForbidden
}

func newTestCoordinator(push Pusher) *Coordinator {
	return NewCoordinator(allowAll{}, push, time.Minute, 50*time.Millisecond)
}

func TestJoinNotifiesPriorRosterAndJoiner(t *testing.T) {
	push := newFakePusher()
	coord := newTestCoordinator(push)
	ctx := context.Background()

	_, err := coord.Join(ctx, "42", 7, 1)
	require.NoError(t, err)
	_, err = coord.Join(ctx, "42", 7, 2)
	require.NoError(t, err)
	_, err = coord.Join(ctx, "42", 7, 3)
	require.NoError(t, err)

	// A and B each hear exactly once about C.
	joinedAboutC := 0
	for _, payload := range push.received(1, models.EventParticipantJoined) {
		if payload.UserID == 3 {
			joinedAboutC++
		}
	}
	assert.Equal(t, 1, joinedAboutC)
	joinedAboutC = 0
	for _, payload := range push.received(2, models.EventParticipantJoined) {
		if payload.UserID == 3 {
			joinedAboutC++
		}
	}
	assert.Equal(t, 1, joinedAboutC)

	// C hears about A and B, in registration order, never about itself.
	joined := push.received(3, models.EventParticipantJoined)
	require.Len(t, joined, 2)
	assert.Equal(t, 1, joined[0].UserID)
	assert.Equal(t, 2, joined[1].UserID)

	assert.Equal(t, []int{1, 2, 3}, coord.Roster("42"))
}

func TestDuplicateJoinIsIdempotent(t *testing.T) {
	push := newFakePusher()
	coord := newTestCoordinator(push)
	ctx := context.Background()

	_, err := coord.Join(ctx, "42", 7, 1)
	require.NoError(t, err)
	_, err = coord.Join(ctx, "42", 7, 2)
	require.NoError(t, err)

	before := len(push.received(1, models.EventParticipantJoined))
	_, err = coord.Join(ctx, "42", 7, 2)
	require.NoError(t, err)

	assert.Equal(t, before, len(push.received(1, models.EventParticipantJoined)))
	assert.Equal(t, []int{1, 2}, coord.Roster("42"))
}

func TestJoinRequiresChannelMembership(t *testing.T) {
	coord := NewCoordinator(denyAll{}, newFakePusher(), time.Minute, time.Second)
	_, err := coord.Join(context.Background(), "42", 7, 1)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Nil(t, coord.Roster("42"))
}

func TestRelayReachesOnlyTarget(t *testing.T) {
	push := newFakePusher()
	coord := newTestCoordinator(push)
	ctx := context.Background()

	for _, id := range []int{1, 2, 3} {
		_, err := coord.Join(ctx, "42", 7, id)
		require.NoError(t, err)
	}

	payload := json.RawMessage(`{"sdp":"offer-from-a"}`)
	require.NoError(t, coord.Relay("42", models.EventCallOffer, 1, 3, payload))

	offers := push.received(3, models.EventCallOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, 1, offers[0].FromUserID)
	assert.JSONEq(t, `{"sdp":"offer-from-a"}`, string(offers[0].Payload))

	assert.Empty(t, push.received(2, models.EventCallOffer))
}

func TestRelayToUnknownTargetReportsUnreachable(t *testing.T) {
	push := newFakePusher()
	coord := newTestCoordinator(push)
	ctx := context.Background()

	_, err := coord.Join(ctx, "42", 7, 1)
	require.NoError(t, err)
	_, err = coord.Join(ctx, "42", 7, 2)
	require.NoError(t, err)

	// Not in the roster at all.
	err = coord.Relay("42", models.EventCallAnswer, 1, 9, nil)
	assert.ErrorIs(t, err, ErrRecipientUnreachable)

	// In the roster but transport-dropped.
	push.mu.Lock()
	push.offline[2] = true
	push.mu.Unlock()
	err = coord.Relay("42", models.EventCallAnswer, 1, 2, nil)
	assert.ErrorIs(t, err, ErrRecipientUnreachable)
}

func TestRelayFromOutsiderForbidden(t *testing.T) {
	coord := newTestCoordinator(newFakePusher())
	_, err := coord.Join(context.Background(), "42", 7, 1)
	require.NoError(t, err)

	err = coord.Relay("42", models.EventCallOffer, 9, 1, nil)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestLeaveBroadcastsAndDestroysEmptySession(t *testing.T) {
	push := newFakePusher()
	coord := newTestCoordinator(push)
	ctx := context.Background()

	for _, id := range []int{1, 2, 3} {
		_, err := coord.Join(ctx, "42", 7, id)
		require.NoError(t, err)
	}

	coord.Leave("42", 2)

	for _, id := range []int{1, 3} {
		left := push.received(id, models.EventParticipantLeft)
		require.Len(t, left, 1, "user %d", id)
		assert.Equal(t, 2, left[0].UserID)
	}
	assert.Equal(t, []int{1, 3}, coord.Roster("42"))

	coord.Leave("42", 1)
	coord.Leave("42", 3)
	assert.Nil(t, coord.Roster("42"))
}

func TestDisconnectedEvictedAfterGrace(t *testing.T) {
	push := newFakePusher()
	coord := newTestCoordinator(push)
	ctx := context.Background()

	_, err := coord.Join(ctx, "42", 7, 1)
	require.NoError(t, err)
	_, err = coord.Join(ctx, "42", 7, 2)
	require.NoError(t, err)

	coord.Disconnected(2)

	// Within grace the participant survives the reap.
	coord.reap(time.Now())
	assert.Equal(t, []int{1, 2}, coord.Roster("42"))

	coord.reap(time.Now().Add(time.Second))
	assert.Equal(t, []int{1}, coord.Roster("42"))
	left := push.received(1, models.EventParticipantLeft)
	require.Len(t, left, 1)
	assert.Equal(t, 2, left[0].UserID)
}

func TestDisconnectedReclaimedByRejoin(t *testing.T) {
	push := newFakePusher()
	coord := newTestCoordinator(push)
	ctx := context.Background()

	_, err := coord.Join(ctx, "42", 7, 1)
	require.NoError(t, err)
	_, err = coord.Join(ctx, "42", 7, 2)
	require.NoError(t, err)

	coord.Disconnected(2)
	_, err = coord.Join(ctx, "42", 7, 2)
	require.NoError(t, err)

	coord.reap(time.Now().Add(time.Second))
	assert.Equal(t, []int{1, 2}, coord.Roster("42"))
	assert.Empty(t, push.received(1, models.EventParticipantLeft))
}

func TestEvictFromChannelRemovesMidCallParticipant(t *testing.T) {
	push := newFakePusher()
	coord := newTestCoordinator(push)
	ctx := context.Background()

	_, err := coord.Join(ctx, "42", 7, 1)
	require.NoError(t, err)
	_, err = coord.Join(ctx, "42", 7, 2)
	require.NoError(t, err)
	// A call in another channel is untouched.
	_, err = coord.Join(ctx, "43", 8, 2)
	require.NoError(t, err)

	coord.EvictFromChannel(7, 2)

	assert.Equal(t, []int{1}, coord.Roster("42"))
	assert.Equal(t, []int{2}, coord.Roster("43"))
	left := push.received(1, models.EventParticipantLeft)
	require.Len(t, left, 1)
	assert.Equal(t, 2, left[0].UserID)
	assert.Equal(t, "removed", left[0].Reason)
}

func TestIdleSessionsReaped(t *testing.T) {
	push := newFakePusher()
	coord := NewCoordinator(allowAll{}, push, 100*time.Millisecond, time.Hour)
	ctx := context.Background()

	_, err := coord.Join(ctx, "42", 7, 1)
	require.NoError(t, err)
	_, err = coord.Join(ctx, "42", 7, 2)
	require.NoError(t, err)

	coord.reap(time.Now().Add(time.Second))
	assert.Nil(t, coord.Roster("42"))
}

func participantState(t *testing.T, coord *Coordinator, callID string, userID int) ParticipantState {
	t.Helper()
	sess := coord.getSession(callID)
	require.NotNil(t, sess)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	p, ok := sess.participants[userID]
	require.True(t, ok)
	return p.state
}

func TestOfferAnswerDrivesParticipantStates(t *testing.T) {
	push := newFakePusher()
	coord := newTestCoordinator(push)
	ctx := context.Background()

	_, err := coord.Join(ctx, "42", 7, 1)
	require.NoError(t, err)
	_, err = coord.Join(ctx, "42", 7, 2)
	require.NoError(t, err)
	require.Equal(t, StateConnected, participantState(t, coord, "42", 1))

	offer := json.RawMessage(`{"sdp":"offer"}`)
	require.NoError(t, coord.Relay("42", models.EventCallOffer, 1, 2, offer))
	assert.Equal(t, StateNegotiating, participantState(t, coord, "42", 1))
	assert.Equal(t, StateConnected, participantState(t, coord, "42", 2))

	answer := json.RawMessage(`{"sdp":"answer"}`)
	require.NoError(t, coord.Relay("42", models.EventCallAnswer, 2, 1, answer))
	assert.Equal(t, StateConnected, participantState(t, coord, "42", 1))
	assert.Equal(t, StateConnected, participantState(t, coord, "42", 2))
}
