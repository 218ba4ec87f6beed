// Package bus fans newly captured requests out to live subscribers grouped
// by endpoint, and hands joining subscribers a catch-up snapshot of recent
// history.
//
// Join discipline: the subscriber is added to the room before the snapshot
// is read, so a broadcast racing the snapshot read still reaches the
// subscriber's channel. The snapshot's highest sequence number is recorded
// on the subscriber, and live records at or below it are dropped at
// delivery. Together this gives exactly-once delivery across the
// snapshot/live boundary: no gap, no duplicate.
package bus

import (
	"context"
	"log"
	"sync"

	"github.com/hookline/hookline/internal/store"
)

// SnapshotLimit bounds the catch-up history handed to a joining subscriber.
const SnapshotLimit = 100

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls this far behind loses records; catch-up at the next join is
// the recovery path.
const subscriberBuffer = 64

type Subscriber struct {
	endpointID string
	ch         chan *store.CapturedRequest

	// afterSeq is the highest sequence number included in the join
	// snapshot. Live records at or below it are duplicates of snapshot
	// entries and are suppressed.
	afterSeq int64
}

// C yields live records for the subscriber's endpoint. The channel is
// closed by Leave. Records may include entries already covered by the join
// snapshot; consumers must drop those via Seen.
func (s *Subscriber) C() <-chan *store.CapturedRequest {
	return s.ch
}

// Seen reports whether the record was already included in the join
// snapshot. afterSeq is written once before Join returns and the consumer
// only reads the channel after that, so this needs no synchronization.
func (s *Subscriber) Seen(r *store.CapturedRequest) bool {
	return r.Seq <= s.afterSeq
}

type Bus struct {
	store  store.Store
	logger *log.Logger

	mu    sync.Mutex
	rooms map[string]map[*Subscriber]struct{}
}

func New(s store.Store, logger *log.Logger) *Bus {
	return &Bus{
		store:  s,
		logger: logger,
		rooms:  make(map[string]map[*Subscriber]struct{}),
	}
}

// Join adds a subscriber to the endpoint's room and returns it together
// with the catch-up snapshot: the most recent persisted requests (at most
// SnapshotLimit), ordered oldest to newest. Returns store.ErrNotFound if
// the endpoint does not exist; the subscriber is not added.
func (b *Bus) Join(ctx context.Context, endpointID string) (*Subscriber, []*store.CapturedRequest, error) {
	if _, err := b.store.GetEndpoint(ctx, endpointID); err != nil {
		return nil, nil, err
	}

	sub := &Subscriber{
		endpointID: endpointID,
		ch:         make(chan *store.CapturedRequest, subscriberBuffer),
	}

	b.mu.Lock()
	room, ok := b.rooms[endpointID]
	if !ok {
		room = make(map[*Subscriber]struct{})
		b.rooms[endpointID] = room
	}
	room[sub] = struct{}{}
	b.mu.Unlock()

	// Room membership is established, so anything appended from here on
	// reaches the channel. The snapshot read below may overlap with those
	// live sends; afterSeq suppresses the overlap.
	recent, err := b.store.RecentRequests(ctx, endpointID, SnapshotLimit)
	if err != nil {
		b.Leave(sub)
		return nil, nil, err
	}

	// RecentRequests is newest-first; the snapshot contract is oldest-first.
	snapshot := make([]*store.CapturedRequest, len(recent))
	for i, r := range recent {
		snapshot[len(recent)-1-i] = r
	}
	if len(snapshot) > 0 {
		sub.afterSeq = snapshot[len(snapshot)-1].Seq
	}

	return sub, snapshot, nil
}

// Broadcast delivers a captured request to every subscriber currently in
// the endpoint's room. Sends never block: a subscriber with a full buffer
// loses the record and relies on catch-up at its next join.
func (b *Bus) Broadcast(endpointID string, req *store.CapturedRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.rooms[endpointID] {
		select {
		case sub.ch <- req:
		default:
			b.logger.Printf("bus: dropping request %s/%d for slow subscriber", endpointID, req.Seq)
		}
	}
}

// Leave removes the subscriber from its room and closes its channel. Safe
// to call once per subscriber; broadcasts hold the same lock, so no send
// can race the close.
func (b *Bus) Leave(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room, ok := b.rooms[sub.endpointID]
	if !ok {
		return
	}
	if _, ok := room[sub]; !ok {
		return
	}
	delete(room, sub)
	if len(room) == 0 {
		delete(b.rooms, sub.endpointID)
	}
	close(sub.ch)
}

// Subscribers reports the current room size for an endpoint.
func (b *Bus) Subscribers(endpointID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms[endpointID])
}
