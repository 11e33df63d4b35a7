package httpapi

import (
	"sync"

	"github.com/book-expert/audiobook-creator/internal/core"
)

const subscriberBuffer = 64

// Broker fans the pipeline's snapshot stream out to websocket subscribers.
// It satisfies the pipeline's progress sink contract; wire it into the
// orchestrator alongside the other sinks.
type Broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
}

type subscriber struct {
	jobID string
	ch    chan core.JobSnapshot
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]*subscriber)}
}

// Subscribe registers interest in snapshots for jobID. An empty jobID
// receives every job. The returned cancel func must be called when the
// consumer goes away.
func (b *Broker) Subscribe(jobID string) (<-chan core.JobSnapshot, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	sub := &subscriber{jobID: jobID, ch: make(chan core.JobSnapshot, subscriberBuffer)}
	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		delete(b.subs, id)
	}

	return sub.ch, cancel
}

// OnProgress delivers the snapshot to matching subscribers. Slow consumers
// miss snapshots rather than stalling the pipeline.
func (b *Broker) OnProgress(snapshot core.JobSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if sub.jobID != "" && sub.jobID != snapshot.JobID {
			continue
		}

		select {
		case sub.ch <- snapshot:
		default:
		}
	}
}

// OnLog is part of the progress sink contract; log entries stay local.
func (b *Broker) OnLog(_ core.LogEntry) {}

// OnTerminal is part of the progress sink contract. The terminal snapshot
// arrives through OnProgress before this fires.
func (b *Broker) OnTerminal(_ core.Stage, _ *core.ErrorInfo) {}
