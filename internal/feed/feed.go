package feed

import (
	"context"
	"encoding/json"
	"sync"

	"checkin-service/internal/models"
	"checkin-service/internal/util"

	"github.com/coder/websocket"
)

// Delta kinds pushed to subscribers
const (
	DeltaAttempt = "attempt"
	DeltaAlert   = "alert"
	DeltaStats   = "stats"
)

// Delta is one live update pushed to dashboard subscribers. Exactly one of
// the payload fields is set, keyed by Kind.
type Delta struct {
	Kind        string                     `json:"kind"`
	AlertChange string                     `json:"alert_change,omitempty"`
	Attempt     *models.CheckInAttempt     `json:"attempt,omitempty"`
	Alert       *models.DuplicateAlert     `json:"alert,omitempty"`
	Stats       *models.LiveAnalyticsStats `json:"stats,omitempty"`
}

// Publisher fans deltas out to per-event subscriber sets. Sends never
// block: a subscriber that cannot keep up loses deltas and recovers from
// the snapshot poll, the redemption path is never held up.
type Publisher struct {
	mu      sync.RWMutex
	subs    map[string]map[chan Delta]struct{} // eventID -> subscribers
	bufSize int
}

// NewPublisher creates a publisher whose subscriber channels buffer bufSize
// deltas before drops begin
func NewPublisher(bufSize int) *Publisher {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Publisher{
		subs:    make(map[string]map[chan Delta]struct{}),
		bufSize: bufSize,
	}
}

// Subscribe registers a new subscriber for an event's deltas
func (p *Publisher) Subscribe(eventID string) chan Delta {
	ch := make(chan Delta, p.bufSize)

	p.mu.Lock()
	set, ok := p.subs[eventID]
	if !ok {
		set = make(map[chan Delta]struct{})
		p.subs[eventID] = set
	}
	set[ch] = struct{}{}
	p.mu.Unlock()

	util.FeedSubscribers.Inc()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel
func (p *Publisher) Unsubscribe(eventID string, ch chan Delta) {
	p.mu.Lock()
	set, ok := p.subs[eventID]
	if ok {
		if _, member := set[ch]; member {
			delete(set, ch)
			close(ch)
			util.FeedSubscribers.Dec()
		}
		if len(set) == 0 {
			delete(p.subs, eventID)
		}
	}
	p.mu.Unlock()
}

// Publish pushes a delta to every subscriber of an event, dropping it for
// subscribers with full buffers
func (p *Publisher) Publish(eventID string, delta Delta) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for ch := range p.subs[eventID] {
		select {
		case ch <- delta:
		default:
			util.FeedDroppedDeltas.Inc()
		}
	}
}

// CloseEvent disconnects every subscriber of an event
func (p *Publisher) CloseEvent(eventID string) {
	p.mu.Lock()
	set, ok := p.subs[eventID]
	if ok {
		for ch := range set {
			close(ch)
			util.FeedSubscribers.Dec()
		}
		delete(p.subs, eventID)
	}
	p.mu.Unlock()
}

// SubscriberCount reports the current subscriber count for an event
func (p *Publisher) SubscriberCount(eventID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs[eventID])
}

// WritePump streams a subscription to a WebSocket connection until the
// context ends, the subscription closes, or a write fails
func WritePump(ctx context.Context, conn *websocket.Conn, deltas <-chan Delta) {
	for {
		select {
		case <-ctx.Done():
			return
		case delta, ok := <-deltas:
			if !ok {
				return
			}
			data, err := json.Marshal(delta)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}
