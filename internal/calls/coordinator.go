package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"comms-service/internal/apperr"
	"comms-service/internal/models"
	"comms-service/internal/observability"
)

// ErrRecipientUnreachable reports a relay whose target has no live
// connection. Non-fatal: the call session stays up and only the sender is
// told.
var ErrRecipientUnreachable = errors.New("recipient unreachable")

// ParticipantState is the per-(call, participant) state. Joins land in
// Connected; relaying an offer moves the sender to Negotiating and the
// matching answer settles both ends back to Connected; a transport drop
// parks the slot in Disconnected until rejoin or grace expiry.
type ParticipantState int

const (
	StateConnected ParticipantState = iota
	StateNegotiating
	StateDisconnected
)

// Pusher is the slice of the transport hub the coordinator needs.
type Pusher interface {
	Push(userID int, env models.Envelope)
	PushMany(userIDs []int, env models.Envelope)
	IsConnected(userID int) bool
}

// MembershipChecker gates call joins on channel membership.
type MembershipChecker interface {
	Authorize(ctx context.Context, actorID, channelID int) error
}

type participant struct {
	userID         int
	state          ParticipantState
	joinedAt       time.Time
	disconnectedAt time.Time // zero unless transport-dropped and in grace
}

type session struct {
	mu           sync.Mutex
	id           string
	channelID    int
	order        []int // registration order, for roster snapshots
	participants map[int]*participant
	lastActivity time.Time
}

func (s *session) roster() []int {
	ids := make([]int, 0, len(s.order))
	for _, id := range s.order {
		if _, ok := s.participants[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Coordinator keeps one roster per active call and relays negotiation
// envelopes between exactly the intended pair. All state is call-scoped
// and torn down on last-leave; nothing here survives a restart.
type Coordinator struct {
	mu       sync.RWMutex
	sessions map[string]*session

	gate            MembershipChecker
	push            Pusher
	idleTimeout     time.Duration
	disconnectGrace time.Duration
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(gate MembershipChecker, push Pusher, idleTimeout, disconnectGrace time.Duration) *Coordinator {
	return &Coordinator{
		sessions:        make(map[string]*session),
		gate:            gate,
		push:            push,
		idleTimeout:     idleTimeout,
		disconnectGrace: disconnectGrace,
	}
}

// Join registers the participant and notifies the prior roster. Returns
// the roster as it stood before the join so the joiner knows who will be
// sending offers. Re-joining while already registered is a no-op that
// re-acks the same view.
func (c *Coordinator) Join(ctx context.Context, callID string, channelID, userID int) ([]int, error) {
	if err := c.gate.Authorize(ctx, userID, channelID); err != nil {
		return nil, err
	}

	sess := c.getOrCreateSession(callID, channelID)

	sess.mu.Lock()
	if sess.channelID != channelID {
		sess.mu.Unlock()
		return nil, fmt.Errorf("%w: call belongs to another channel", apperr.ErrInvalidState)
	}
	sess.lastActivity = time.Now()

	if existing, ok := sess.participants[userID]; ok {
		// Duplicate join: reclaim a disconnect-grace slot or no-op.
		existing.state = StateConnected
		existing.disconnectedAt = time.Time{}
		others := otherIDs(sess.roster(), userID)
		sess.mu.Unlock()
		return others, nil
	}

	sess.participants[userID] = &participant{
		userID:   userID,
		state:    StateConnected,
		joinedAt: time.Now(),
	}
	sess.order = append(sess.order, userID)
	prior := otherIDs(sess.roster(), userID)
	sess.mu.Unlock()

	// Existing members each initiate an offer toward the joiner on
	// receipt; the joiner never gets its own join echoed back. The
	// joiner instead hears one participant-joined per existing member,
	// in registration order, so both sides know who to negotiate with.
	c.push.PushMany(prior, models.Envelope{
		Type:    models.EventParticipantJoined,
		Payload: models.CallEventPayload{CallID: callID, ChannelID: channelID, UserID: userID},
	})
	for _, id := range prior {
		c.push.Push(userID, models.Envelope{
			Type:    models.EventParticipantJoined,
			Payload: models.CallEventPayload{CallID: callID, ChannelID: channelID, UserID: id},
		})
	}
	observability.SetActiveCallParticipants(c.participantCount())
	return prior, nil
}

// Leave removes the participant and notifies the remainder. Destroys the
// session when the roster empties.
func (c *Coordinator) Leave(callID string, userID int) {
	c.removeParticipant(callID, userID, "left")
}

// Relay forwards an opaque negotiation payload from one roster member to
// exactly one other. eventType is one of the call.offer / call.answer /
// call.ice-candidate envelope types.
func (c *Coordinator) Relay(callID, eventType string, fromID, targetID int, payload json.RawMessage) error {
	sess := c.getSession(callID)
	if sess == nil {
		return apperr.ErrNotFound
	}

	sess.mu.Lock()
	_, fromOK := sess.participants[fromID]
	_, targetOK := sess.participants[targetID]
	if fromOK {
		sess.lastActivity = time.Now()
		switch eventType {
		case models.EventCallOffer:
			if p := sess.participants[fromID]; p.state == StateConnected {
				p.state = StateNegotiating
			}
		case models.EventCallAnswer:
			// The answer closes the offer/answer exchange for both ends.
			if p := sess.participants[fromID]; p.state == StateNegotiating {
				p.state = StateConnected
			}
			if p, ok := sess.participants[targetID]; ok && p.state == StateNegotiating {
				p.state = StateConnected
			}
		}
	}
	channelID := sess.channelID
	sess.mu.Unlock()

	if !fromOK {
		return apperr.ErrForbidden
	}
	if !targetOK || !c.push.IsConnected(targetID) {
		return ErrRecipientUnreachable
	}

	c.push.Push(targetID, models.Envelope{
		Type: eventType,
		Payload: models.CallEventPayload{
			CallID:     callID,
			ChannelID:  channelID,
			FromUserID: fromID,
			Payload:    payload,
		},
	})
	observability.IncCallSignal(eventType)
	return nil
}

// Disconnected marks the user disconnected in every call they belong to.
// The janitor evicts them after the grace period unless they rejoin; the
// grace tolerates brief network blips mid-reconnect.
func (c *Coordinator) Disconnected(userID int) {
	now := time.Now()
	for _, sess := range c.snapshotSessions() {
		sess.mu.Lock()
		if p, ok := sess.participants[userID]; ok {
			p.state = StateDisconnected
			p.disconnectedAt = now
		}
		sess.mu.Unlock()
	}
}

// EvictFromChannel force-removes a user from any live call in the
// channel. Called when their membership is revoked mid-call.
func (c *Coordinator) EvictFromChannel(channelID, userID int) {
	for id, sess := range c.snapshotSessionsByID() {
		sess.mu.Lock()
		_, present := sess.participants[userID]
		match := sess.channelID == channelID
		sess.mu.Unlock()
		if present && match {
			c.removeParticipant(id, userID, "removed")
		}
	}
}

// Roster returns the current participant ids of a call, in registration
// order, or nil when the call does not exist.
func (c *Coordinator) Roster(callID string) []int {
	sess := c.getSession(callID)
	if sess == nil {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.roster()
}

// Run drives the janitor: evicting grace-expired disconnects and reaping
// calls with no signaling activity past the idle timeout. Blocks until
// the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reap(time.Now())
		}
	}
}

func (c *Coordinator) reap(now time.Time) {
	type eviction struct {
		callID string
		userID int
		reason string
	}
	var evictions []eviction

	for id, sess := range c.snapshotSessionsByID() {
		sess.mu.Lock()
		idle := now.Sub(sess.lastActivity) > c.idleTimeout
		for userID, p := range sess.participants {
			switch {
			case idle:
				evictions = append(evictions, eviction{id, userID, "idle"})
			case p.state == StateDisconnected && now.Sub(p.disconnectedAt) > c.disconnectGrace:
				evictions = append(evictions, eviction{id, userID, "disconnected"})
			}
		}
		sess.mu.Unlock()
	}

	for _, e := range evictions {
		c.removeParticipant(e.callID, e.userID, e.reason)
	}
}

func (c *Coordinator) removeParticipant(callID string, userID int, reason string) {
	sess := c.getSession(callID)
	if sess == nil {
		return
	}

	sess.mu.Lock()
	if _, ok := sess.participants[userID]; !ok {
		sess.mu.Unlock()
		return
	}
	delete(sess.participants, userID)
	remaining := sess.roster()
	empty := len(remaining) == 0
	channelID := sess.channelID
	sess.mu.Unlock()

	c.push.PushMany(remaining, models.Envelope{
		Type:    models.EventParticipantLeft,
		Payload: models.CallEventPayload{CallID: callID, ChannelID: channelID, UserID: userID, Reason: reason},
	})

	if empty {
		c.mu.Lock()
		delete(c.sessions, callID)
		c.mu.Unlock()
		log.Printf("call session destroyed call_id=%s", callID)
	}
	observability.SetActiveCalls(c.sessionCount())
	observability.SetActiveCallParticipants(c.participantCount())
}

func (c *Coordinator) getOrCreateSession(callID string, channelID int) *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess, ok := c.sessions[callID]; ok {
		return sess
	}
	sess := &session{
		id:           callID,
		channelID:    channelID,
		participants: make(map[int]*participant),
		lastActivity: time.Now(),
	}
	c.sessions[callID] = sess
	observability.SetActiveCalls(len(c.sessions))
	return sess
}

func (c *Coordinator) getSession(callID string) *session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessions[callID]
}

func (c *Coordinator) snapshotSessions() []*session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := make([]*session, 0, len(c.sessions))
	for _, sess := range c.sessions {
		list = append(list, sess)
	}
	return list
}

func (c *Coordinator) snapshotSessionsByID() map[string]*session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byID := make(map[string]*session, len(c.sessions))
	for id, sess := range c.sessions {
		byID[id] = sess
	}
	return byID
}

func (c *Coordinator) sessionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

func (c *Coordinator) participantCount() int {
	total := 0
	for _, sess := range c.snapshotSessions() {
		sess.mu.Lock()
		total += len(sess.participants)
		sess.mu.Unlock()
	}
	return total
}

func otherIDs(ids []int, exclude int) []int {
	others := make([]int, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			others = append(others, id)
		}
	}
	return others
}
