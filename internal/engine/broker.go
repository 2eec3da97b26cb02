package engine

import (
	"sync"

	"github.com/seantiz/taskrunner/internal/model"
)

// subscriberBufferSize is the channel buffer for each result subscriber.
// Records are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// ResultBroker fans appended result records out to subscribers.
// It is safe for concurrent use.
type ResultBroker struct {
	mu     sync.Mutex
	subs   map[int]chan model.ResultRecord
	nextID int
	closed bool
}

// NewResultBroker creates a new result broker.
func NewResultBroker() *ResultBroker {
	return &ResultBroker{
		subs: make(map[int]chan model.ResultRecord),
	}
}

// Subscribe returns a channel that receives every record published after the
// call, and an unsubscribe function. After Close the returned channel is
// already closed.
func (b *ResultBroker) Subscribe() (<-chan model.ResultRecord, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan model.ResultRecord, subscriberBufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish sends rec to all subscribers, dropping it for those whose buffers
// are full.
func (b *ResultBroker) Publish(rec model.ResultRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- rec:
		default:
			// Slow subscriber; never block a worker.
		}
	}
}

// Subscribers returns the number of active subscribers.
func (b *ResultBroker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later subscribers receive a closed
// channel and later publishes are ignored.
func (b *ResultBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
