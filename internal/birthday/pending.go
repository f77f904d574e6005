package birthday

import (
	"sync"
	"time"
)

// DefaultPendingMaxMessages is how many nameless messages a pending
// birthday waits for before falling back to the generic term.
const DefaultPendingMaxMessages = 3

// PendingBirthday is an initial wish still waiting for a usable name.
type PendingBirthday struct {
	StartedAt      time.Time
	MessagesWaited int
}

// PendingOutcome is the transition taken by Observe.
type PendingOutcome int

const (
	// PendingIdle: nothing was pending, the message belongs to normal routing.
	PendingIdle PendingOutcome = iota
	// PendingWaiting: still pending, counter incremented.
	PendingWaiting
	// PendingResolved: a usable name arrived, state cleared.
	PendingResolved
	// PendingExpired: budget exhausted, state cleared, use the generic term.
	PendingExpired
)

func (o PendingOutcome) String() string {
	switch o {
	case PendingWaiting:
		return "waiting"
	case PendingResolved:
		return "resolved"
	case PendingExpired:
		return "expired"
	default:
		return "idle"
	}
}

// PendingResult reports an Observe transition.
type PendingResult struct {
	Outcome PendingOutcome
	Name    string // set on PendingResolved
	Waited  int
}

// PendingTracker holds at most one PendingBirthday per conversation.
// Entries older than maxAge are dropped as if never started.
type PendingTracker struct {
	mu          sync.Mutex
	maxMessages int
	maxAge      time.Duration
	now         func() time.Time
	pending     map[string]*PendingBirthday
}

func NewPendingTracker(maxMessages int) *PendingTracker {
	if maxMessages <= 0 {
		maxMessages = DefaultPendingMaxMessages
	}
	return &PendingTracker{
		maxMessages: maxMessages,
		now:         time.Now,
		pending:     make(map[string]*PendingBirthday),
	}
}

// WithMaxAge sets how long a pending birthday may wait for its name. Zero
// disables the limit.
func (p *PendingTracker) WithMaxAge(d time.Duration) *PendingTracker {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxAge = d
	return p
}

// lookupLocked returns the live record, discarding a stale one.
func (p *PendingTracker) lookupLocked(conversationID string) (*PendingBirthday, bool) {
	pb, ok := p.pending[conversationID]
	if !ok {
		return nil, false
	}
	if p.maxAge > 0 && p.now().Sub(pb.StartedAt) > p.maxAge {
		delete(p.pending, conversationID)
		return nil, false
	}
	return pb, true
}

// Begin moves a conversation from Idle to Pending. It returns false when a
// pending birthday already exists.
func (p *PendingTracker) Begin(conversationID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.lookupLocked(conversationID); ok {
		return false
	}
	p.pending[conversationID] = &PendingBirthday{StartedAt: p.now()}
	return true
}

// Active reports whether the conversation is Pending.
func (p *PendingTracker) Active(conversationID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.lookupLocked(conversationID)
	return ok
}

// Get returns a copy of the pending record.
func (p *PendingTracker) Get(conversationID string) (PendingBirthday, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pb, ok := p.lookupLocked(conversationID)
	if !ok {
		return PendingBirthday{}, false
	}
	return *pb, true
}

// Observe feeds one qualifying message's name candidate ("" for none) to
// the state machine.
func (p *PendingTracker) Observe(conversationID, name string) PendingResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	pb, ok := p.lookupLocked(conversationID)
	if !ok {
		return PendingResult{Outcome: PendingIdle}
	}
	if IsUsableName(name) {
		delete(p.pending, conversationID)
		return PendingResult{Outcome: PendingResolved, Name: name, Waited: pb.MessagesWaited}
	}

	pb.MessagesWaited++
	if pb.MessagesWaited >= p.maxMessages {
		delete(p.pending, conversationID)
		return PendingResult{Outcome: PendingExpired, Waited: pb.MessagesWaited}
	}
	return PendingResult{Outcome: PendingWaiting, Waited: pb.MessagesWaited}
}

// Clear drops any pending state for the conversation.
func (p *PendingTracker) Clear(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, conversationID)
}
