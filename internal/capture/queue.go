// Package capture moves decoded packets from a capture source to the
// detection pipeline through a bounded queue.
package capture

import (
	"Go2NetSentinel/internal/model"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Policy decides what Offer does when the queue is full.
type Policy int

const (
	// PolicyDrop discards the packet and counts it.
	PolicyDrop Policy = iota
	// PolicyBlock waits until there is space or the queue is closed.
	PolicyBlock
)

// ParsePolicy maps a config value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "drop":
		return PolicyDrop, nil
	case "block":
		return PolicyBlock, nil
	default:
		return PolicyDrop, fmt.Errorf("unknown queue policy: '%s'", s)
	}
}

func (p Policy) String() string {
	if p == PolicyBlock {
		return "block"
	}
	return "drop"
}

// Queue is a bounded multi-producer, single-consumer packet queue.
type Queue struct {
	ch        chan *model.PacketInfo
	policy    Policy
	dropped   atomic.Uint64
	onDrop    func()
	closed    chan struct{}
	closeOnce sync.Once
}

// NewQueue creates a queue holding up to capacity packets.
func NewQueue(capacity int, policy Policy) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:     make(chan *model.PacketInfo, capacity),
		policy: policy,
		closed: make(chan struct{}),
	}
}

// OnDrop registers a callback run for every dropped packet. It must be set
// before producers start.
func (q *Queue) OnDrop(fn func()) {
	q.onDrop = fn
}

// Offer enqueues the packet according to the queue policy and reports whether
// it was accepted. Offers after Close are rejected.
func (q *Queue) Offer(p *model.PacketInfo) bool {
	select {
	case <-q.closed:
		return false
	default:
	}

	if q.policy == PolicyBlock {
		select {
		case q.ch <- p:
			return true
		case <-q.closed:
			return false
		}
	}

	select {
	case q.ch <- p:
		return true
	default:
		q.dropped.Add(1)
		if q.onDrop != nil {
			q.onDrop()
		}
		return false
	}
}

// Put enqueues the packet, waiting for space regardless of the policy. It is
// used by sources that can be paused, such as capture files.
func (q *Queue) Put(ctx context.Context, p *model.PacketInfo) error {
	select {
	case q.ch <- p:
		return nil
	case <-q.closed:
		return fmt.Errorf("queue closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll waits up to timeout for a packet. ok is false when the timeout expired.
func (q *Queue) Poll(timeout time.Duration) (*model.PacketInfo, bool) {
	select {
	case p := <-q.ch:
		return p, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case p := <-q.ch:
		return p, true
	case <-timer.C:
		return nil, false
	}
}

// TryPoll returns a queued packet without waiting.
func (q *Queue) TryPoll() (*model.PacketInfo, bool) {
	select {
	case p := <-q.ch:
		return p, true
	default:
		return nil, false
	}
}

// Len returns the number of queued packets.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Dropped returns the number of packets discarded by Offer.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Close stops accepting packets and releases blocked producers. Packets
// already queued can still be polled.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}
