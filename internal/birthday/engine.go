package birthday

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stellarlinkco/birthdaybot/internal/ledger"
	"github.com/stellarlinkco/birthdaybot/internal/logging"
)

// InboundEvent is one transport message as seen by the engine.
type InboundEvent struct {
	ConversationID string
	SenderID       string
	MessageID      string
	Text           string
	IsFromSelf     bool
	Timestamp      time.Time
}

// Sender delivers a reply to a conversation.
type Sender interface {
	Send(ctx context.Context, conversationID, text string) error
}

// Ledger is the daily wish state the engine consults and updates.
type Ledger interface {
	Today(ctx context.Context, conversationID string) (ledger.DailyRecord, error)
	CanSend(ctx context.Context, conversationID string) (bool, error)
	Record(ctx context.Context, conversationID, name string) (ledger.DailyRecord, error)
}

// Auditor stores one row per processed message.
type Auditor interface {
	LogDecision(ctx context.Context, d ledger.Decision) error
}

// Action names the branch a message took through the engine.
type Action string

const (
	ActionIgnored          Action = "ignored"
	ActionContextOnly      Action = "context_only"
	ActionNotBirthday      Action = "not_birthday"
	ActionFollowUp         Action = "follow_up"
	ActionLowConfidence    Action = "low_confidence"
	ActionDailyCap         Action = "daily_cap"
	ActionMissingMarker    Action = "missing_marker"
	ActionAlreadyWished    Action = "already_wished"
	ActionPendingStarted   Action = "pending_started"
	ActionPendingWaiting   Action = "pending_waiting"
	ActionResponded        Action = "responded"
	ActionDryRun           Action = "dry_run"
	ActionValidationFailed Action = "validation_failed"
	ActionSendFailed       Action = "send_failed"
	ActionError            Action = "error"
)

// Outcome is the result of handling one event.
type Outcome struct {
	Action Action
	Name   string
	Reply  string
}

// Sent reports whether a reply was produced and counted.
func (o Outcome) Sent() bool {
	return o.Action == ActionResponded || o.Action == ActionDryRun
}

type Options struct {
	ConfidenceThreshold     float64
	DelayMin                time.Duration
	DelayMax                time.Duration
	DryRun                  bool
	RequireAdditionalMarker bool
	SkipRepeatedNames       bool
	FallbackName            string
	// Conversations limits processing to these IDs. Empty means all.
	Conversations []string
}

func DefaultOptions() Options {
	return Options{
		ConfidenceThreshold:     0.8,
		DelayMin:                30 * time.Second,
		DelayMax:                3 * time.Minute,
		DryRun:                  true,
		RequireAdditionalMarker: true,
		SkipRepeatedNames:       true,
		FallbackName:            GenericTerms[0],
	}
}

// Deps are the engine's collaborators. Contexts and Pending are created
// when nil; Auditor is optional.
type Deps struct {
	Classifier Classifier
	Replier    Replier
	Ledger     Ledger
	Sender     Sender
	Auditor    Auditor
	Contexts   *ContextCache
	Pending    *PendingTracker
}

const recordAttempts = 3

// ErrUnmonitoredConversation is returned by SendManual for a conversation
// not listed in Options.Conversations.
var ErrUnmonitoredConversation = errors.New("conversation is not monitored")

// Engine routes inbound messages through prefilter, classification, ledger
// policy, pending-name resolution and reply composition. Messages of one
// conversation are handled one at a time; different conversations run
// concurrently.
type Engine struct {
	deps      Deps
	opts      Options
	log       zerolog.Logger
	monitored map[string]bool

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	unseenMu sync.Mutex
	unseen   map[string]bool

	sleep func(ctx context.Context, d time.Duration) error
	delay func() time.Duration
}

func NewEngine(deps Deps, opts Options, log zerolog.Logger) *Engine {
	if deps.Contexts == nil {
		deps.Contexts = NewContextCache(DefaultContextCapacity, DefaultContextStaleness, time.Local)
	}
	if deps.Pending == nil {
		deps.Pending = NewPendingTracker(DefaultPendingMaxMessages)
	}
	if opts.FallbackName == "" {
		opts.FallbackName = GenericTerms[0]
	}
	if opts.DelayMax < opts.DelayMin {
		opts.DelayMax = opts.DelayMin
	}

	e := &Engine{
		deps:   deps,
		opts:   opts,
		log:    log,
		locks:  make(map[string]*sync.Mutex),
		unseen: make(map[string]bool),
		sleep:  sleepContext,
	}
	if len(opts.Conversations) > 0 {
		e.monitored = make(map[string]bool, len(opts.Conversations))
		for _, id := range opts.Conversations {
			e.monitored[id] = true
		}
	}
	e.delay = e.randomDelay
	return e
}

// Options returns the engine's effective options.
func (e *Engine) Options() Options { return e.opts }

// Monitored reports whether conversationID is processed.
func (e *Engine) Monitored(conversationID string) bool {
	return e.monitored == nil || e.monitored[conversationID]
}

// Handle processes one inbound event. It never panics and never returns an
// error: failures are logged and reflected in the returned Outcome.
func (e *Engine) Handle(ctx context.Context, ev InboundEvent) (out Outcome) {
	if !e.qualifies(ev) {
		return Outcome{Action: ActionIgnored}
	}

	unlock := e.lock(ev.ConversationID)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			e.log.Error().
				Interface("panic", r).
				Str("conversation", ev.ConversationID).
				Str("message_id", ev.MessageID).
				Msg("message processing panicked, dropping message")
			out = Outcome{Action: ActionError}
			e.audit(ctx, ev, ClassificationResult{}, out)
		}
	}()

	ev.Text = strings.TrimSpace(ev.Text)
	if !MightBeRelevant(ev.Text) {
		e.deps.Contexts.Append(ev.ConversationID, ev.Text)
		return Outcome{Action: ActionContextOnly}
	}

	var res ClassificationResult
	if e.deps.Pending.Active(ev.ConversationID) {
		res, out = e.handlePending(ctx, ev)
	} else {
		res = e.classify(ctx, ev)
		out = e.route(ctx, ev, res)
	}
	e.audit(ctx, ev, res, out)
	return out
}

func (e *Engine) qualifies(ev InboundEvent) bool {
	if ev.IsFromSelf || strings.TrimSpace(ev.Text) == "" {
		return false
	}
	if e.Monitored(ev.ConversationID) {
		return true
	}

	e.unseenMu.Lock()
	first := !e.unseen[ev.ConversationID]
	e.unseen[ev.ConversationID] = true
	e.unseenMu.Unlock()
	if first {
		e.log.Info().Str("conversation", ev.ConversationID).Msg("ignoring unmonitored conversation")
	}
	return false
}

// classify snapshots context before appending the current message so the
// classifier only sees earlier messages.
func (e *Engine) classify(ctx context.Context, ev InboundEvent) ClassificationResult {
	history := e.deps.Contexts.Snapshot(ev.ConversationID)
	res := e.deps.Classifier.Classify(ctx, ev.Text, history)
	e.deps.Contexts.Append(ev.ConversationID, ev.Text)

	e.log.Debug().
		Str("conversation", ev.ConversationID).
		Str("text", logging.Truncate(ev.Text, 80)).
		Bool("birthday", res.IsBirthday).
		Bool("initial", res.IsInitialWish).
		Str("name", res.PersonName).
		Float64("confidence", res.Confidence).
		Msg("classified")
	return res
}

func (e *Engine) route(ctx context.Context, ev InboundEvent, res ClassificationResult) Outcome {
	switch {
	case !res.IsBirthday:
		return Outcome{Action: ActionNotBirthday}
	case !res.IsInitialWish:
		return Outcome{Action: ActionFollowUp}
	case res.Confidence < e.opts.ConfidenceThreshold:
		return Outcome{Action: ActionLowConfidence}
	}

	name := CleanName(res.PersonName)
	if !IsUsableName(name) {
		name = ""
	}
	if action, ok := e.checkPolicy(ctx, ev, name); !ok {
		return Outcome{Action: action, Name: name}
	}

	if name == "" {
		e.deps.Pending.Begin(ev.ConversationID)
		e.log.Info().Str("conversation", ev.ConversationID).Msg("birthday without a usable name, waiting for one")
		return Outcome{Action: ActionPendingStarted}
	}
	return e.sendWish(ctx, ev.ConversationID, name)
}

func (e *Engine) handlePending(ctx context.Context, ev InboundEvent) (ClassificationResult, Outcome) {
	res := e.classify(ctx, ev)

	name := CleanName(res.PersonName)
	if !IsUsableName(name) {
		name = ExtractCandidateName(ev.Text)
	}

	r := e.deps.Pending.Observe(ev.ConversationID, name)
	switch r.Outcome {
	case PendingResolved:
		e.log.Info().Str("conversation", ev.ConversationID).Str("name", r.Name).Int("waited", r.Waited).Msg("pending birthday resolved")
		if e.alreadyWished(ctx, ev.ConversationID, r.Name) {
			// The nameless wish was about someone already wished today.
			return res, Outcome{Action: ActionAlreadyWished, Name: r.Name}
		}
		return res, e.sendWish(ctx, ev.ConversationID, r.Name)
	case PendingExpired:
		e.log.Info().Str("conversation", ev.ConversationID).Int("waited", r.Waited).Msg("pending birthday expired, using generic term")
		return res, e.sendWish(ctx, ev.ConversationID, e.opts.FallbackName)
	case PendingWaiting:
		return res, Outcome{Action: ActionPendingWaiting}
	default:
		return res, e.route(ctx, ev, res)
	}
}

// checkPolicy applies the daily cap, the additional-birthday marker rule
// and repeated-name suppression. Read failures count as no prior wishes.
func (e *Engine) checkPolicy(ctx context.Context, ev InboundEvent, name string) (Action, bool) {
	rec, err := e.deps.Ledger.Today(ctx, ev.ConversationID)
	if err != nil {
		e.log.Error().Err(err).Str("conversation", ev.ConversationID).Msg("ledger read failed, assuming no wishes today")
		rec = ledger.DailyRecord{}
	}
	if !e.canSend(ctx, ev.ConversationID) {
		return ActionDailyCap, false
	}
	if rec.Count >= 1 && e.opts.RequireAdditionalMarker && !HasAdditionalBirthdayMarker(ev.Text) {
		return ActionMissingMarker, false
	}
	if name != "" && e.opts.SkipRepeatedNames && containsFold(rec.Names, name) {
		return ActionAlreadyWished, false
	}
	return "", true
}

// alreadyWished reports whether repeated-name suppression applies to name.
func (e *Engine) alreadyWished(ctx context.Context, conversationID, name string) bool {
	if !e.opts.SkipRepeatedNames || name == "" {
		return false
	}
	rec, err := e.deps.Ledger.Today(ctx, conversationID)
	if err != nil {
		e.log.Error().Err(err).Str("conversation", conversationID).Msg("ledger read failed, assuming no wishes today")
		return false
	}
	return containsFold(rec.Names, name)
}

func (e *Engine) canSend(ctx context.Context, conversationID string) bool {
	ok, err := e.deps.Ledger.CanSend(ctx, conversationID)
	if err != nil {
		e.log.Error().Err(err).Str("conversation", conversationID).Msg("ledger read failed, assuming no wishes today")
		return true
	}
	return ok
}

// sendWish composes, delays, sends and records. Nothing is recorded unless
// a validated reply was produced and delivered (or dry-run skipped delivery).
func (e *Engine) sendWish(ctx context.Context, conversationID, name string) Outcome {
	if !e.canSend(ctx, conversationID) {
		return Outcome{Action: ActionDailyCap, Name: name}
	}

	reply, err := e.deps.Replier.Compose(ctx, name)
	if err != nil {
		if errors.Is(err, ErrValidationExhausted) {
			e.log.Warn().Err(err).Str("conversation", conversationID).Str("name", name).Msg("no valid reply, not sending")
			return Outcome{Action: ActionValidationFailed, Name: name}
		}
		e.log.Error().Err(err).Str("conversation", conversationID).Msg("compose reply failed")
		return Outcome{Action: ActionError, Name: name}
	}

	action := ActionDryRun
	if !e.opts.DryRun {
		if err := e.sleep(ctx, e.delay()); err != nil {
			e.log.Warn().Err(err).Str("conversation", conversationID).Msg("send delay interrupted")
			return Outcome{Action: ActionError, Name: name, Reply: reply.Text}
		}
		if err := e.deps.Sender.Send(ctx, conversationID, reply.Text); err != nil {
			e.log.Error().Err(err).Str("conversation", conversationID).Msg("send failed")
			return Outcome{Action: ActionSendFailed, Name: name, Reply: reply.Text}
		}
		action = ActionResponded
	} else {
		e.log.Info().Str("conversation", conversationID).Str("reply", reply.Text).Msg("dry run, not sending")
	}

	e.recordWish(ctx, conversationID, name)
	e.log.Info().Str("conversation", conversationID).Str("name", name).Str("language", reply.Language).Msg("birthday wish handled")
	return Outcome{Action: action, Name: name, Reply: reply.Text}
}

func (e *Engine) recordWish(ctx context.Context, conversationID, name string) {
	var err error
	for attempt := 1; attempt <= recordAttempts; attempt++ {
		if _, err = e.deps.Ledger.Record(ctx, conversationID, name); err == nil {
			return
		}
		if errors.Is(err, ledger.ErrDailyCapReached) {
			break
		}
		e.log.Warn().Err(err).Int("attempt", attempt).Str("conversation", conversationID).Msg("ledger write failed, retrying")
		if serr := e.sleep(ctx, time.Duration(attempt)*200*time.Millisecond); serr != nil {
			break
		}
	}
	e.log.Error().Err(err).Str("conversation", conversationID).Str("name", name).Msg("wish sent but not recorded")
}

// SendManual composes and sends a wish for name outside the message flow,
// subject to the daily cap. The conversation must be listed in
// Options.Conversations. It ignores dry-run and the send delay.
func (e *Engine) SendManual(ctx context.Context, conversationID, name string) (Outcome, error) {
	if !e.monitored[conversationID] {
		return Outcome{Action: ActionIgnored, Name: name}, fmt.Errorf("%w: %s", ErrUnmonitoredConversation, conversationID)
	}
	unlock := e.lock(conversationID)
	defer unlock()

	if strings.TrimSpace(name) == "" {
		name = e.opts.FallbackName
	}
	if !e.canSend(ctx, conversationID) {
		return Outcome{Action: ActionDailyCap, Name: name}, ledger.ErrDailyCapReached
	}
	reply, err := e.deps.Replier.Compose(ctx, name)
	if err != nil {
		return Outcome{Action: ActionValidationFailed, Name: name}, err
	}
	if err := e.deps.Sender.Send(ctx, conversationID, reply.Text); err != nil {
		return Outcome{Action: ActionSendFailed, Name: name, Reply: reply.Text}, err
	}
	e.recordWish(ctx, conversationID, name)

	out := Outcome{Action: ActionResponded, Name: name, Reply: reply.Text}
	e.audit(ctx, InboundEvent{ConversationID: conversationID, Text: "manual send"}, ClassificationResult{PersonName: name}, out)
	return out, nil
}

func (e *Engine) audit(ctx context.Context, ev InboundEvent, res ClassificationResult, out Outcome) {
	e.log.Info().
		Str("conversation", ev.ConversationID).
		Str("action", string(out.Action)).
		Str("name", out.Name).
		Msg("decision")

	if e.deps.Auditor == nil {
		return
	}
	name := out.Name
	if name == "" {
		name = res.PersonName
	}
	err := e.deps.Auditor.LogDecision(ctx, ledger.Decision{
		ConversationID: ev.ConversationID,
		SenderID:       ev.SenderID,
		MessageID:      ev.MessageID,
		Text:           ev.Text,
		IsBirthday:     res.IsBirthday,
		IsInitialWish:  res.IsInitialWish,
		PersonName:     name,
		Confidence:     res.Confidence,
		Action:         string(out.Action),
		Reply:          out.Reply,
	})
	if err != nil {
		e.log.Warn().Err(err).Msg("audit write failed")
	}
}

func (e *Engine) lock(conversationID string) func() {
	e.locksMu.Lock()
	m, ok := e.locks[conversationID]
	if !ok {
		m = &sync.Mutex{}
		e.locks[conversationID] = m
	}
	e.locksMu.Unlock()

	m.Lock()
	return m.Unlock
}

func (e *Engine) randomDelay() time.Duration {
	lo, hi := e.opts.DelayMin, e.opts.DelayMax
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func containsFold(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(strings.TrimSpace(n), name) {
			return true
		}
	}
	return false
}
