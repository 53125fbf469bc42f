package update

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Download is the handle of one running update attempt.
type Download struct {
	CargoID   string
	AttemptID string

	cancel    context.CancelFunc
	abortOnce sync.Once
	done      chan struct{}

	mu  sync.Mutex
	err error
}

func newDownload(cargoID, attemptID string, cancel context.CancelFunc) *Download {
	return &Download{
		CargoID:   cargoID,
		AttemptID: attemptID,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Done is closed once the attempt reached a terminal state and every
// progress event has been delivered.
func (d *Download) Done() <-chan struct{} {
	return d.done
}

// Err returns the terminal error, nil on success. It is only meaningful
// after Done is closed.
func (d *Download) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Wait blocks until the attempt ends or ctx is done.
func (d *Download) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return d.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Download) abort() {
	d.abortOnce.Do(d.cancel)
}

func (d *Download) finish(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
	close(d.done)
}

// mailbox queues progress events and hands them to a single delivery
// goroutine so a slow listener never blocks the download.
type mailbox struct {
	mu     sync.Mutex
	queue  []Progress
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newMailbox(deliver func(Progress)) *mailbox {
	m := &mailbox{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go m.loop(deliver)
	return m
}

func (m *mailbox) push(p Progress) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, p)
	m.mu.Unlock()
	m.signal()
}

// close stops accepting events and waits until the queue is drained.
func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.signal()
	<-m.done
}

func (m *mailbox) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) loop(deliver func(Progress)) {
	defer close(m.done)
	for {
		m.mu.Lock()
		batch := m.queue
		m.queue = nil
		closed := m.closed
		m.mu.Unlock()

		if len(batch) == 0 {
			if closed {
				return
			}
			<-m.wake
			continue
		}
		for _, p := range batch {
			deliver(p)
		}
	}
}

// emitter stamps events of one attempt and keeps Downloaded monotonic.
type emitter struct {
	cargoID   string
	attemptID string
	box       *mailbox
	last      int64
}

func (e *emitter) emit(p Progress) {
	p.CargoID = e.cargoID
	p.AttemptID = e.attemptID
	if p.Downloaded < e.last {
		p.Downloaded = e.last
	}
	e.last = p.Downloaded
	e.box.push(p)
}

// deliver calls every listener of the cargo. Listener errors and panics are
// logged and never reach the download.
func (o *Orchestrator) deliver(p Progress) {
	for _, l := range o.listenersFor(p.CargoID) {
		o.callListener(l, p)
	}
}

func (o *Orchestrator) callListener(l Listener, p Progress) {
	log := o.log.WithFields(logrus.Fields{
		"cargo":   p.CargoID,
		"attempt": p.AttemptID,
	})
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Progress listener panicked: %v", r)
		}
	}()
	if err := l(p); err != nil {
		log.WithError(err).Warn("Progress listener failed")
	}
}
