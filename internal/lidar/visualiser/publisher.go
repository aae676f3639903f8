package visualiser

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/lidarscan/internal/lidar"
	"github.com/banshee-data/lidarscan/internal/lidar/pointbuffer"
)

// DefaultSubscriberQueue is the per-subscriber batch queue length.
const DefaultSubscriberQueue = 64

// ErrPublisherClosed is returned by Subscribe after Close.
var ErrPublisherClosed = errors.New("publisher closed")

// Publisher is a pointbuffer.RenderSink that copies every uploaded
// segment once and hands the copy to each subscriber. A subscriber whose
// queue is full misses the batch; the drop is counted against it.
type Publisher struct {
	mu       sync.RWMutex
	subs     map[string]*Subscription
	closed   bool
	capacity int
	channels pointbuffer.Channels

	seq     atomic.Uint64
	batches atomic.Uint64
	points  atomic.Uint64
	resets  atomic.Uint64
	dropped atomic.Uint64
}

var _ pointbuffer.RenderSink = (*Publisher)(nil)

// NewPublisher returns a publisher with no subscribers.
func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[string]*Subscription)}
}

// Subscription receives batches from a Publisher.
type Subscription struct {
	id      string
	pub     *Publisher
	ch      chan *PointBatch
	dropped atomic.Uint64
	once    sync.Once
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// C delivers batches. It is closed when the subscription or publisher is
// closed. Each received batch must be released.
func (s *Subscription) C() <-chan *PointBatch { return s.ch }

// Dropped returns the batches this subscriber missed.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes and releases any queued batches.
func (s *Subscription) Close() {
	s.pub.mu.Lock()
	delete(s.pub.subs, s.id)
	s.pub.mu.Unlock()
	s.closeChan()
}

func (s *Subscription) closeChan() {
	s.once.Do(func() {
		close(s.ch)
		for b := range s.ch {
			b.Release()
		}
	})
}

// Subscribe registers a subscriber with a queue of n batches; n <= 0
// uses DefaultSubscriberQueue. The first batch delivered is a reset
// carrying the current layout, if the publisher has been configured.
func (p *Publisher) Subscribe(n int) (*Subscription, error) {
	if n <= 0 {
		n = DefaultSubscriberQueue
	}
	s := &Subscription{id: uuid.New().String(), pub: p, ch: make(chan *PointBatch, n)}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPublisherClosed
	}
	p.subs[s.id] = s
	if p.capacity > 0 {
		b := newBatch()
		b.Seq = p.seq.Add(1)
		b.Reset = true
		b.Capacity = p.capacity
		b.Channels = p.channels
		s.ch <- b
	}
	lidar.Diagf("visualiser: subscriber %s attached (%d total)", s.id, len(p.subs))
	return s, nil
}

// Configure broadcasts a reset carrying the new layout.
func (p *Publisher) Configure(capacity int, channels pointbuffer.Channels) error {
	p.mu.Lock()
	p.capacity = capacity
	p.channels = channels
	p.mu.Unlock()

	b := newBatch()
	b.Reset = true
	b.Capacity = capacity
	b.Channels = channels
	p.resets.Add(1)
	p.broadcast(b)
	return nil
}

// UploadBatch copies the segment and broadcasts it. The copy is made
// whether or not anyone is subscribed so the caller's slices can be
// reused as soon as this returns.
func (p *Publisher) UploadBatch(offset int, positions [][3]float32, colors [][4]float32, normals [][3]float32, timestamps []float32) error {
	p.mu.RLock()
	capacity, channels, closed, subs := p.capacity, p.channels, p.closed, len(p.subs)
	p.mu.RUnlock()
	if closed {
		return ErrPublisherClosed
	}
	p.batches.Add(1)
	p.points.Add(uint64(len(positions)))
	if subs == 0 {
		return nil
	}

	b := newBatch()
	b.Capacity = capacity
	b.Channels = channels
	b.fill(offset, positions, colors, normals, timestamps)
	p.broadcast(b)
	return nil
}

// broadcast consumes the caller's reference to b.
func (p *Publisher) broadcast(b *PointBatch) {
	b.Seq = p.seq.Add(1)
	p.mu.RLock()
	for _, s := range p.subs {
		b.Retain()
		select {
		case s.ch <- b:
		default:
			b.Release()
			s.dropped.Add(1)
			p.dropped.Add(1)
			lidar.Tracef("visualiser: subscriber %s dropped batch %d", s.id, b.Seq)
		}
	}
	p.mu.RUnlock()
	b.Release()
}

// Close detaches every subscriber and refuses new ones.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	subs := p.subs
	p.subs = make(map[string]*Subscription)
	p.mu.Unlock()
	for _, s := range subs {
		s.closeChan()
	}
	return nil
}

// PublisherStats contains publisher counters.
type PublisherStats struct {
	Batches     uint64 `json:"batches"`
	Points      uint64 `json:"points"`
	Resets      uint64 `json:"resets"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	p.mu.RLock()
	n := len(p.subs)
	p.mu.RUnlock()
	return PublisherStats{
		Batches:     p.batches.Load(),
		Points:      p.points.Load(),
		Resets:      p.resets.Load(),
		Dropped:     p.dropped.Load(),
		Subscribers: n,
	}
}
