package gateway

import (
	"container/list"
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stellarlinkco/birthdaybot/internal/birthday"
	"github.com/stellarlinkco/birthdaybot/internal/bus"
	"github.com/stellarlinkco/birthdaybot/internal/logging"
)

// Handler processes one inbound event.
type Handler interface {
	Handle(ctx context.Context, ev birthday.InboundEvent) birthday.Outcome
}

// conversationQueue holds the not-yet-handled messages of one conversation.
type conversationQueue struct {
	messages *list.List
	running  bool
}

// Dispatcher fans bus messages out to one worker per active conversation.
// Each conversation is drained in arrival order; conversations proceed
// independently.
type Dispatcher struct {
	handler Handler
	log     zerolog.Logger

	mu     sync.Mutex
	queues map[string]*conversationQueue
	wg     sync.WaitGroup

	onOutcome func(ev birthday.InboundEvent, out birthday.Outcome)
}

func NewDispatcher(h Handler) *Dispatcher {
	return &Dispatcher{
		handler: h,
		log:     logging.Named("dispatch"),
		queues:  make(map[string]*conversationQueue),
	}
}

// ToEvent converts a transport message to an engine event.
func ToEvent(msg bus.InboundMessage) birthday.InboundEvent {
	return birthday.InboundEvent{
		ConversationID: msg.ConversationID(),
		SenderID:       msg.SenderID,
		MessageID:      msg.MessageID,
		Text:           msg.Content,
		IsFromSelf:     msg.IsFromSelf,
		Timestamp:      msg.Timestamp,
	}
}

// Run consumes in until ctx is done, then waits for running workers.
func (d *Dispatcher) Run(ctx context.Context, in <-chan bus.InboundMessage) {
	defer d.wg.Wait()
	for {
		select {
		case msg := <-in:
			d.log.Debug().
				Str("channel", msg.Channel).
				Str("sender", msg.SenderID).
				Str("text", logging.Truncate(msg.Content, 80)).
				Msg("inbound")
			d.Enqueue(ctx, ToEvent(msg))
		case <-ctx.Done():
			return
		}
	}
}

// Enqueue appends ev to its conversation queue, starting a worker if none
// is running.
func (d *Dispatcher) Enqueue(ctx context.Context, ev birthday.InboundEvent) {
	d.mu.Lock()
	q, ok := d.queues[ev.ConversationID]
	if !ok {
		q = &conversationQueue{messages: list.New()}
		d.queues[ev.ConversationID] = q
	}
	q.messages.PushBack(ev)
	start := !q.running
	q.running = true
	d.mu.Unlock()

	if start {
		d.wg.Add(1)
		go d.drain(ctx, ev.ConversationID, q)
	}
}

func (d *Dispatcher) drain(ctx context.Context, conversationID string, q *conversationQueue) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		front := q.messages.Front()
		if front == nil || ctx.Err() != nil {
			q.running = false
			if front == nil {
				delete(d.queues, conversationID)
			}
			d.mu.Unlock()
			return
		}
		q.messages.Remove(front)
		d.mu.Unlock()

		d.handle(ctx, front.Value.(birthday.InboundEvent))
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev birthday.InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Interface("panic", r).
				Str("conversation", ev.ConversationID).
				Str("message", ev.MessageID).
				Msg("handler panicked, message dropped")
		}
	}()
	out := d.handler.Handle(ctx, ev)
	if d.onOutcome != nil {
		d.onOutcome(ev, out)
	}
}

// Pending returns the number of queued, unhandled messages.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, q := range d.queues {
		n += q.messages.Len()
	}
	return n
}

// Wait blocks until all workers have exited.
func (d *Dispatcher) Wait() { d.wg.Wait() }
