package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
)

// TurnFunc processes one dequeued message. It may pull more messages off d
// (batching) before returning.
type TurnFunc func(ctx context.Context, d *Dispatcher, msg bus.InboundMessage)

// Dispatcher owns one chat's FIFO queue. At most one worker goroutine
// drains it at a time: the running flag is flipped under the same lock that
// guards the queue, so enqueue and worker exit cannot race into two workers.
type Dispatcher struct {
	key  string
	pool *Pool

	mu      sync.Mutex
	queue   []bus.InboundMessage
	running bool
}

// Key returns the chat key this dispatcher serves.
func (d *Dispatcher) Key() string { return d.key }

// enqueue appends msg and reports whether a new worker was started.
// Caller holds pool.mu so wg.Add never races pool.Wait.
func (d *Dispatcher) enqueue(msg bus.InboundMessage) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.queue = append(d.queue, msg)
	if d.running {
		return false
	}
	d.running = true
	d.pool.wg.Add(1)
	go d.drain()
	return true
}

func (d *Dispatcher) drain() {
	defer d.pool.wg.Done()
	for {
		msg, ok := d.pop()
		if !ok {
			return
		}
		d.run(msg)
	}
}

// pop removes the head message. When the queue is empty it clears running
// in the same critical section and reports false.
func (d *Dispatcher) pop() (bus.InboundMessage, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.queue) == 0 {
		d.running = false
		d.queue = nil
		return bus.InboundMessage{}, false
	}
	msg := d.queue[0]
	d.queue[0] = bus.InboundMessage{}
	d.queue = d.queue[1:]
	return msg, true
}

// run executes one turn. A panicking turn is logged and handed to the
// pool's panic hook; the worker keeps draining.
func (d *Dispatcher) run(msg bus.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatch: turn panicked", "chat", d.key, "panic", r, "stack", string(debug.Stack()))
			if d.pool.onPanic != nil {
				d.pool.onPanic(d.key, msg, fmt.Errorf("panic: %v", r))
			}
		}
	}()
	d.pool.turn(d.pool.ctx, d, msg)
}

// PopHeadIf removes and returns the head message if match accepts it.
func (d *Dispatcher) PopHeadIf(match func(bus.InboundMessage) bool) (bus.InboundMessage, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.queue) == 0 || !match(d.queue[0]) {
		return bus.InboundMessage{}, false
	}
	msg := d.queue[0]
	d.queue[0] = bus.InboundMessage{}
	d.queue = d.queue[1:]
	return msg, true
}

// Len returns the number of queued (not yet dequeued) messages.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Busy reports whether a worker is draining this queue.
func (d *Dispatcher) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Pool holds one Dispatcher per chat, created lazily and kept for the
// process lifetime.
type Pool struct {
	ctx     context.Context
	turn    TurnFunc
	onPanic func(chatKey string, msg bus.InboundMessage, err error)

	mu          sync.Mutex
	dispatchers map[string]*Dispatcher
	closed      bool
	wg          sync.WaitGroup
}

// NewPool creates a pool whose workers run turn with ctx.
func NewPool(ctx context.Context, turn TurnFunc) *Pool {
	return &Pool{
		ctx:         ctx,
		turn:        turn,
		dispatchers: make(map[string]*Dispatcher),
	}
}

// OnPanic sets the hook invoked when a turn panics.
func (p *Pool) OnPanic(fn func(chatKey string, msg bus.InboundMessage, err error)) {
	p.onPanic = fn
}

// Enqueue appends msg to chatKey's queue, starting a worker if none runs.
func (p *Pool) Enqueue(chatKey string, msg bus.InboundMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrEngineClosed
	}
	d, ok := p.dispatchers[chatKey]
	if !ok {
		d = &Dispatcher{key: chatKey, pool: p}
		p.dispatchers[chatKey] = d
	}
	d.enqueue(msg)
	return nil
}

// Get returns the dispatcher for chatKey, or nil.
func (p *Pool) Get(chatKey string) *Dispatcher {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dispatchers[chatKey]
}

// Close stops accepting messages. Queued messages are still drained.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// Wait blocks until every worker has exited or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Chats  int `json:"chats"`
	Queued int `json:"queued"`
	Busy   int `json:"busy"`
}

// Stats snapshots queue depth and worker counts.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	list := make([]*Dispatcher, 0, len(p.dispatchers))
	for _, d := range p.dispatchers {
		list = append(list, d)
	}
	p.mu.Unlock()

	st := PoolStats{Chats: len(list)}
	for _, d := range list {
		d.mu.Lock()
		st.Queued += len(d.queue)
		if d.running {
			st.Busy++
		}
		d.mu.Unlock()
	}
	return st
}
