package birthday

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stellarlinkco/birthdaybot/internal/ledger"
)

const testConv = "whatsapp:120363@g.us"

type scriptedClassifier struct {
	mu        sync.Mutex
	results   map[string]ClassificationResult
	histories [][]string
	panics    bool
}

func (s *scriptedClassifier) Classify(_ context.Context, text string, history []string) ClassificationResult {
	if s.panics {
		panic("classifier exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories = append(s.histories, append([]string(nil), history...))
	return s.results[text]
}

func (s *scriptedClassifier) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.histories)
}

func initialWish(name string) ClassificationResult {
	return ClassificationResult{IsBirthday: true, IsInitialWish: true, PersonName: name, Confidence: 0.95}
}

type fakeReplier struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (f *fakeReplier) Compose(_ context.Context, name string) (GeneratedReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	if f.err != nil {
		return GeneratedReply{}, f.err
	}
	display := name
	if IsGenericTerm(name) {
		display = ""
	}
	text := Assemble(display, "שתהיה שנה נפלאה", "disclaimer")
	return GeneratedReply{Text: text, Body: "שתהיה שנה נפלאה", DisplayName: display, Language: LangHebrew}, nil
}

type memLedger struct {
	mu        sync.Mutex
	cap       int
	records   map[string]*ledger.DailyRecord
	readErr   error
	writeErrs int
	writes    int
}

func newMemLedger(dailyCap int) *memLedger {
	return &memLedger{cap: dailyCap, records: map[string]*ledger.DailyRecord{}}
}

func (m *memLedger) Today(_ context.Context, conv string) (ledger.DailyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return ledger.DailyRecord{}, m.readErr
	}
	if r, ok := m.records[conv]; ok {
		return ledger.DailyRecord{ConversationID: conv, Count: r.Count, Names: append([]string(nil), r.Names...)}, nil
	}
	return ledger.DailyRecord{ConversationID: conv}, nil
}

func (m *memLedger) CanSend(ctx context.Context, conv string) (bool, error) {
	rec, err := m.Today(ctx, conv)
	if err != nil {
		return false, err
	}
	return rec.Count < m.cap, nil
}

func (m *memLedger) Record(_ context.Context, conv, name string) (ledger.DailyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.writeErrs > 0 {
		m.writeErrs--
		return ledger.DailyRecord{}, errors.New("disk full")
	}
	r, ok := m.records[conv]
	if !ok {
		r = &ledger.DailyRecord{ConversationID: conv}
		m.records[conv] = r
	}
	if r.Count >= m.cap {
		return *r, ledger.ErrDailyCapReached
	}
	r.Count++
	r.Names = append(r.Names, name)
	return *r, nil
}

func (m *memLedger) count(conv string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[conv]; ok {
		return r.Count
	}
	return 0
}

type sentMessage struct {
	conv string
	text string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) Send(_ context.Context, conv, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{conv: conv, text: text})
	return nil
}

type fakeAuditor struct {
	mu        sync.Mutex
	decisions []ledger.Decision
}

func (f *fakeAuditor) LogDecision(_ context.Context, d ledger.Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, d)
	return nil
}

type engineHarness struct {
	engine     *Engine
	classifier *scriptedClassifier
	replier    *fakeReplier
	ledger     *memLedger
	sender     *fakeSender
	auditor    *fakeAuditor
	sleeps     []time.Duration
}

func newHarness(t *testing.T, results map[string]ClassificationResult, mutate func(*Options)) *engineHarness {
	t.Helper()
	h := &engineHarness{
		classifier: &scriptedClassifier{results: results},
		replier:    &fakeReplier{},
		ledger:     newMemLedger(2),
		sender:     &fakeSender{},
		auditor:    &fakeAuditor{},
	}
	opts := DefaultOptions()
	opts.DelayMin = time.Second
	opts.DelayMax = 2 * time.Second
	if mutate != nil {
		mutate(&opts)
	}
	h.engine = NewEngine(Deps{
		Classifier: h.classifier,
		Replier:    h.replier,
		Ledger:     h.ledger,
		Sender:     h.sender,
		Auditor:    h.auditor,
		Pending:    NewPendingTracker(3),
	}, opts, zerolog.Nop())
	h.engine.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

func (h *engineHarness) handle(text string) Outcome {
	return h.engine.Handle(context.Background(), InboundEvent{
		ConversationID: testConv,
		SenderID:       "972500000000@s.whatsapp.net",
		Text:           text,
		Timestamp:      time.Now(),
	})
}

func live(o *Options) { o.DryRun = false }

type fixedGenerator struct{ body string }

func (g fixedGenerator) GenerateBody(context.Context, string) (string, error) { return g.body, nil }

type boolApprover bool

func (a boolApprover) Approve(context.Context, string) (bool, error) { return bool(a), nil }

func TestEngine_EndToEndDana(t *testing.T) {
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"), 2, ledger.DayClock{Location: time.UTC})
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	defer store.Close()

	cls := &scriptedClassifier{results: map[string]ClassificationResult{
		"Happy birthday Dana! 🎂": initialWish("Dana"),
	}}
	composer := NewComposer(fixedGenerator{body: "שיהיה לך יום מושלם [name]!"}, boolApprover(true), nil,
		ComposerOptions{FallbackName: "נשמה", Disclaimer: "disclaimer"}, zerolog.Nop())
	sender := &fakeSender{}

	opts := DefaultOptions()
	opts.DryRun = false
	opts.DelayMin, opts.DelayMax = time.Second, 2*time.Second
	e := NewEngine(Deps{Classifier: cls, Replier: composer, Ledger: store, Sender: sender, Auditor: store}, opts, zerolog.Nop())
	var slept time.Duration
	e.sleep = func(_ context.Context, d time.Duration) error { slept = d; return nil }

	ctx := context.Background()
	out := e.Handle(ctx, InboundEvent{ConversationID: testConv, Text: "Happy birthday Dana! 🎂"})
	if out.Action != ActionResponded {
		t.Fatalf("action = %s, want responded", out.Action)
	}
	if len(cls.histories) != 1 || len(cls.histories[0]) != 0 {
		t.Errorf("classifier should see empty context, got %v", cls.histories)
	}
	if slept < time.Second || slept > 2*time.Second {
		t.Errorf("delay = %v, want within [1s,2s]", slept)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}
	text := sender.sent[0].text
	if !strings.HasPrefix(text, "מזל טוב Dana! 🎂") || !strings.HasSuffix(text, "disclaimer") || ContainsPlaceholder(text) {
		t.Errorf("reply = %q", text)
	}

	rec, err := store.Today(ctx, testConv)
	if err != nil {
		t.Fatalf("Today: %v", err)
	}
	if rec.Count != 1 || len(rec.Names) != 1 || rec.Names[0] != "Dana" {
		t.Errorf("ledger = %+v", rec)
	}

	decisions, _ := store.RecentDecisions(ctx, testConv, 5)
	if len(decisions) != 1 || decisions[0].Action != string(ActionResponded) || decisions[0].PersonName != "Dana" {
		t.Errorf("audit = %+v", decisions)
	}
}

func TestEngine_PrefilterSkipsClassifier(t *testing.T) {
	h := newHarness(t, map[string]ClassificationResult{"מזל טוב לדנה 🎂": initialWish("דנה")}, nil)

	if out := h.handle("what's for dinner tonight?"); out.Action != ActionContextOnly {
		t.Fatalf("action = %s, want context_only", out.Action)
	}
	if h.classifier.calls() != 0 {
		t.Error("classifier must not run for irrelevant text")
	}
	if len(h.auditor.decisions) != 0 {
		t.Error("context-only messages are not audited")
	}

	h.handle("מזל טוב לדנה 🎂")
	hist := h.classifier.histories[0]
	if len(hist) != 1 || !strings.HasSuffix(hist[0], "what's for dinner tonight?") {
		t.Errorf("history = %v", hist)
	}
}

func TestEngine_DecisionTable(t *testing.T) {
	tests := []struct {
		name string
		res  ClassificationResult
		want Action
	}{
		{"not birthday", ClassificationResult{Confidence: 0.9}, ActionNotBirthday},
		{"follow up", ClassificationResult{IsBirthday: true, PersonName: "Dana", Confidence: 0.9}, ActionFollowUp},
		{"low confidence", ClassificationResult{IsBirthday: true, IsInitialWish: true, PersonName: "Dana", Confidence: 0.5}, ActionLowConfidence},
		{"usable name", initialWish("Dana"), ActionResponded},
		{"generic name", initialWish("נשמה"), ActionPendingStarted},
		{"no name", initialWish(""), ActionPendingStarted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, map[string]ClassificationResult{"🎂": tt.res}, live)
			out := h.handle("🎂")
			if out.Action != tt.want {
				t.Fatalf("action = %s, want %s", out.Action, tt.want)
			}
			wantSent := 0
			if tt.want == ActionResponded {
				wantSent = 1
			}
			if len(h.sender.sent) != wantSent || h.ledger.count(testConv) != wantSent {
				t.Errorf("sent = %d, recorded = %d, want %d", len(h.sender.sent), h.ledger.count(testConv), wantSent)
			}
			if len(h.auditor.decisions) != 1 || h.auditor.decisions[0].Action != string(tt.want) {
				t.Errorf("audit = %+v", h.auditor.decisions)
			}
		})
	}
}

func TestEngine_PendingExpiresToGenericTerm(t *testing.T) {
	h := newHarness(t, map[string]ClassificationResult{"מזל טוב!": initialWish("")}, live)

	if out := h.handle("מזל טוב!"); out.Action != ActionPendingStarted {
		t.Fatalf("action = %s, want pending_started", out.Action)
	}
	for _, msg := range []string{"🎂🎂", "🎉"} {
		if out := h.handle(msg); out.Action != ActionPendingWaiting {
			t.Fatalf("%q: action = %s, want pending_waiting", msg, out.Action)
		}
	}
	out := h.handle("יום הולדת שמח!!")
	if out.Action != ActionResponded || out.Name != "נשמה" {
		t.Fatalf("expiry outcome = %+v", out)
	}
	if len(h.sender.sent) != 1 {
		t.Fatalf("sent %d, want exactly 1", len(h.sender.sent))
	}
	if !strings.HasPrefix(h.sender.sent[0].text, "מזל טוב! 🎂") {
		t.Errorf("expired reply should use the generic opening: %q", h.sender.sent[0].text)
	}
	if h.engine.deps.Pending.Active(testConv) {
		t.Error("pending state should be cleared")
	}
	if h.ledger.count(testConv) != 1 {
		t.Errorf("ledger count = %d, want 1", h.ledger.count(testConv))
	}

	if out := h.handle("🎉"); out.Action != ActionNotBirthday {
		t.Errorf("after expiry action = %s, want not_birthday", out.Action)
	}
}

func TestEngine_PendingResolvesFromFollowUp(t *testing.T) {
	h := newHarness(t, map[string]ClassificationResult{"מזל טוב!": initialWish("")}, live)

	h.handle("מזל טוב!")
	if out := h.handle("🎂"); out.Action != ActionPendingWaiting {
		t.Fatalf("first follow-up action = %s", out.Action)
	}
	// Classified as not a birthday, but the extractor still finds the name.
	out := h.handle("מזל טוב לנועה")
	if out.Action != ActionResponded || out.Name != "נועה" {
		t.Fatalf("outcome = %+v, want responded for נועה", out)
	}
	if len(h.sender.sent) != 1 || !strings.HasPrefix(h.sender.sent[0].text, "מזל טוב נועה!") {
		t.Errorf("sent = %+v", h.sender.sent)
	}
	if h.engine.deps.Pending.Active(testConv) {
		t.Error("pending state should be cleared")
	}
	h.handle("🎉")
	h.handle("🎉")
	if len(h.sender.sent) != 1 {
		t.Errorf("no further sends expected, got %d", len(h.sender.sent))
	}
}

func TestEngine_PendingPrefersClassifierName(t *testing.T) {
	h := newHarness(t, map[string]ClassificationResult{
		"מזל טוב!":         initialWish(""),
		"היא חוגגת היום 🎂": {IsBirthday: true, PersonName: "@Shira", Confidence: 0.9},
	}, nil)

	h.handle("מזל טוב!")
	out := h.handle("היא חוגגת היום 🎂")
	if out.Action != ActionDryRun || out.Name != "Shira" {
		t.Errorf("outcome = %+v, want dry_run for Shira", out)
	}
}

func TestEngine_AdditionalBirthdayMarker(t *testing.T) {
	results := map[string]ClassificationResult{
		"Happy birthday Dana! 🎂":                     initialWish("Dana"),
		"Happy birthday Noa 🎂":                       initialWish("Noa"),
		"וגם יום הולדת לנועם! Happy birthday Noam 🎂": initialWish("Noam"),
		"עוד יום הולדת היום! happy birthday Dana 🎂":  initialWish("Dana"),
		"וגם יום הולדת ליואב 🎂":                      initialWish("יואב"),
	}

	t.Run("without marker", func(t *testing.T) {
		h := newHarness(t, results, nil)
		h.handle("Happy birthday Dana! 🎂")
		if out := h.handle("Happy birthday Noa 🎂"); out.Action != ActionMissingMarker {
			t.Errorf("action = %s, want missing_marker", out.Action)
		}
		if n := h.ledger.count(testConv); n != 1 {
			t.Errorf("count = %d, want 1", n)
		}
	})

	t.Run("with marker", func(t *testing.T) {
		h := newHarness(t, results, nil)
		h.handle("Happy birthday Dana! 🎂")
		if out := h.handle("וגם יום הולדת לנועם! Happy birthday Noam 🎂"); out.Action != ActionDryRun {
			t.Errorf("action = %s, want dry_run", out.Action)
		}
		if n := h.ledger.count(testConv); n != 2 {
			t.Errorf("count = %d, want 2", n)
		}
		if out := h.handle("וגם יום הולדת ליואב 🎂"); out.Action != ActionDailyCap {
			t.Errorf("third wish action = %s, want daily_cap", out.Action)
		}
	})

	t.Run("repeated name", func(t *testing.T) {
		h := newHarness(t, results, nil)
		h.handle("Happy birthday Dana! 🎂")
		if out := h.handle("עוד יום הולדת היום! happy birthday Dana 🎂"); out.Action != ActionAlreadyWished {
			t.Errorf("action = %s, want already_wished", out.Action)
		}
	})

	t.Run("marker not required", func(t *testing.T) {
		h := newHarness(t, results, func(o *Options) { o.RequireAdditionalMarker = false })
		h.handle("Happy birthday Dana! 🎂")
		if out := h.handle("Happy birthday Noa 🎂"); out.Action != ActionDryRun {
			t.Errorf("action = %s, want dry_run", out.Action)
		}
	})
}

func TestEngine_DryRunRecordsWithoutSending(t *testing.T) {
	h := newHarness(t, map[string]ClassificationResult{"hbd Dana 🎉": initialWish("Dana")}, nil)

	out := h.handle("hbd Dana 🎉")
	if out.Action != ActionDryRun || out.Reply == "" {
		t.Fatalf("outcome = %+v", out)
	}
	if len(h.sender.sent) != 0 || len(h.sleeps) != 0 {
		t.Errorf("dry run must not send or wait: sent=%d sleeps=%v", len(h.sender.sent), h.sleeps)
	}
	if h.ledger.count(testConv) != 1 {
		t.Error("dry run must still record")
	}
}

func TestEngine_ValidationExhaustedDoesNotRecord(t *testing.T) {
	h := newHarness(t, map[string]ClassificationResult{"hbd Dana 🎉": initialWish("Dana")}, live)
	h.replier.err = fmt.Errorf("compose reply: %w", &ValidationExhaustedError{Attempts: 5})

	if out := h.handle("hbd Dana 🎉"); out.Action != ActionValidationFailed {
		t.Fatalf("action = %s, want validation_failed", out.Action)
	}
	if len(h.sender.sent) != 0 || h.ledger.count(testConv) != 0 {
		t.Error("nothing may be sent or recorded")
	}
}

func TestEngine_SendFailureDoesNotRecord(t *testing.T) {
	h := newHarness(t, map[string]ClassificationResult{"hbd Dana 🎉": initialWish("Dana")}, live)
	h.sender.err = errors.New("not connected")

	if out := h.handle("hbd Dana 🎉"); out.Action != ActionSendFailed {
		t.Fatalf("action = %s, want send_failed", out.Action)
	}
	if h.ledger.count(testConv) != 0 {
		t.Error("failed send must not be recorded")
	}
}

func TestEngine_LedgerReadFailureAssumesNoWishes(t *testing.T) {
	h := newHarness(t, map[string]ClassificationResult{"hbd Dana 🎉": initialWish("Dana")}, live)
	h.ledger.readErr = errors.New("database is locked")

	if out := h.handle("hbd Dana 🎉"); out.Action != ActionResponded {
		t.Fatalf("action = %s, want responded", out.Action)
	}
	h.ledger.readErr = nil
	if h.ledger.count(testConv) != 1 {
		t.Error("wish should be recorded")
	}
}

func TestEngine_LedgerWriteRetries(t *testing.T) {
	h := newHarness(t, map[string]ClassificationResult{"hbd Dana 🎉": initialWish("Dana")}, nil)
	h.ledger.writeErrs = 2

	h.handle("hbd Dana 🎉")
	if h.ledger.writes != 3 || h.ledger.count(testConv) != 1 {
		t.Errorf("writes = %d, count = %d; want 3 and 1", h.ledger.writes, h.ledger.count(testConv))
	}
}

func TestEngine_RecoversFromPanic(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.classifier.panics = true

	if out := h.handle("hbd Dana 🎉"); out.Action != ActionError {
		t.Fatalf("action = %s, want error", out.Action)
	}
	if len(h.auditor.decisions) != 1 || h.auditor.decisions[0].Action != string(ActionError) {
		t.Errorf("audit = %+v", h.auditor.decisions)
	}

	// The conversation lock was released and later messages still work.
	h.classifier.panics = false
	h.classifier.results = map[string]ClassificationResult{"hbd Dana 🎉": initialWish("Dana")}
	done := make(chan Outcome, 1)
	go func() { done <- h.handle("hbd Dana 🎉") }()
	select {
	case out := <-done:
		if out.Action != ActionDryRun {
			t.Errorf("action = %s, want dry_run", out.Action)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("conversation stayed locked after panic")
	}
}

func TestEngine_IgnoresNonQualifying(t *testing.T) {
	h := newHarness(t, nil, func(o *Options) { o.Conversations = []string{testConv} })
	ctx := context.Background()

	tests := []InboundEvent{
		{ConversationID: testConv, Text: "hbd Dana 🎉", IsFromSelf: true},
		{ConversationID: testConv, Text: "   "},
		{ConversationID: "whatsapp:other@g.us", Text: "hbd Dana 🎉"},
	}
	for _, ev := range tests {
		if out := h.engine.Handle(ctx, ev); out.Action != ActionIgnored {
			t.Errorf("%+v: action = %s, want ignored", ev, out.Action)
		}
	}
	if h.classifier.calls() != 0 {
		t.Error("classifier must not run")
	}
	if !h.engine.Monitored(testConv) || h.engine.Monitored("whatsapp:other@g.us") {
		t.Error("Monitored mismatch")
	}
}

func TestEngine_SerializesSameConversation(t *testing.T) {
	h := newHarness(t, map[string]ClassificationResult{"hbd Dana 🎉": initialWish("Dana")}, nil)

	var wg sync.WaitGroup
	outcomes := make(chan Outcome, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes <- h.handle("hbd Dana 🎉")
		}()
	}
	wg.Wait()
	close(outcomes)

	sent := 0
	for out := range outcomes {
		if out.Sent() {
			sent++
		}
	}
	if sent != 1 || h.ledger.count(testConv) != 1 {
		t.Errorf("sent = %d, count = %d; want exactly one wish", sent, h.ledger.count(testConv))
	}
}

func monitorTestConv(o *Options) { o.Conversations = []string{testConv} }

func TestEngine_SendManual(t *testing.T) {
	h := newHarness(t, nil, monitorTestConv)
	ctx := context.Background()

	out, err := h.engine.SendManual(ctx, testConv, "Dana")
	if err != nil || out.Action != ActionResponded {
		t.Fatalf("SendManual = %+v, %v", out, err)
	}
	if len(h.sender.sent) != 1 || h.ledger.count(testConv) != 1 {
		t.Error("manual send should deliver and record")
	}

	h.engine.SendManual(ctx, testConv, "")
	if h.replier.names[1] != "נשמה" {
		t.Errorf("empty name should use fallback, got %q", h.replier.names[1])
	}
	if _, err := h.engine.SendManual(ctx, testConv, "Noa"); !errors.Is(err, ledger.ErrDailyCapReached) {
		t.Errorf("err = %v, want ErrDailyCapReached", err)
	}
}

func TestEngine_SendManualRejectsUnmonitored(t *testing.T) {
	ctx := context.Background()
	for name, mutate := range map[string]func(*Options){
		"other conversation":   monitorTestConv,
		"no conversation list": nil,
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, nil, mutate)
			out, err := h.engine.SendManual(ctx, "whatsapp:someone-else@s.whatsapp.net", "Dana")
			if !errors.Is(err, ErrUnmonitoredConversation) {
				t.Fatalf("err = %v, want ErrUnmonitoredConversation", err)
			}
			if out.Action != ActionIgnored {
				t.Errorf("action = %s, want ignored", out.Action)
			}
			if len(h.sender.sent) != 0 || len(h.replier.names) != 0 {
				t.Errorf("nothing should be composed or sent: sent=%d composed=%d", len(h.sender.sent), len(h.replier.names))
			}
		})
	}
}

func TestEngine_PendingResolvedSkipsAlreadyWishedName(t *testing.T) {
	h := newHarness(t, map[string]ClassificationResult{
		"Happy birthday Dana! 🎂":  initialWish("Dana"),
		"וגם יום הולדת שמח!! 🎂": initialWish(""),
		"מזל טוב דנה 🎂":          {IsBirthday: true, PersonName: "Dana", Confidence: 0.9},
	}, live)

	if out := h.handle("Happy birthday Dana! 🎂"); out.Action != ActionResponded {
		t.Fatalf("first wish action = %s", out.Action)
	}
	if out := h.handle("וגם יום הולדת שמח!! 🎂"); out.Action != ActionPendingStarted {
		t.Fatalf("nameless second wish action = %s, want pending_started", out.Action)
	}
	out := h.handle("מזל טוב דנה 🎂")
	if out.Action != ActionAlreadyWished || out.Name != "Dana" {
		t.Fatalf("resolution outcome = %+v, want already_wished for Dana", out)
	}
	if len(h.sender.sent) != 1 || h.ledger.count(testConv) != 1 {
		t.Errorf("sent=%d count=%d, want one wish", len(h.sender.sent), h.ledger.count(testConv))
	}
	if h.engine.deps.Pending.Active(testConv) {
		t.Error("pending state should be cleared")
	}
}

func TestEngine_PendingResolvedRepeatAllowedWhenSuppressionOff(t *testing.T) {
	h := newHarness(t, map[string]ClassificationResult{
		"Happy birthday Dana! 🎂":  initialWish("Dana"),
		"וגם יום הולדת שמח!! 🎂": initialWish(""),
		"מזל טוב דנה 🎂":          {IsBirthday: true, PersonName: "Dana", Confidence: 0.9},
	}, func(o *Options) {
		o.DryRun = false
		o.SkipRepeatedNames = false
	})

	h.handle("Happy birthday Dana! 🎂")
	h.handle("וגם יום הולדת שמח!! 🎂")
	if out := h.handle("מזל טוב דנה 🎂"); out.Action != ActionResponded {
		t.Errorf("action = %s, want responded", out.Action)
	}
}

func TestEngine_PendingIgnoresOtherOccasions(t *testing.T) {
	h := newHarness(t, map[string]ClassificationResult{"מזל טוב!": initialWish("")}, live)

	h.handle("מזל טוב!")
	for _, msg := range []string{"מזל טוב על ההריון!", "מזל טוב לזוג המאושר"} {
		if out := h.handle(msg); out.Action != ActionPendingWaiting {
			t.Fatalf("%q: action = %s, want pending_waiting", msg, out.Action)
		}
	}
	if len(h.sender.sent) != 0 {
		t.Errorf("sent = %+v, want nothing", h.sender.sent)
	}
}

func TestEngine_StalePendingDoesNotFireLater(t *testing.T) {
	h := newHarness(t, map[string]ClassificationResult{"מזל טוב!": initialWish("")}, live)
	now := time.Now()
	tracker := NewPendingTracker(3).WithMaxAge(12 * time.Hour)
	tracker.now = func() time.Time { return now }
	h.engine.deps.Pending = tracker

	if out := h.handle("מזל טוב!"); out.Action != ActionPendingStarted {
		t.Fatalf("action = %s, want pending_started", out.Action)
	}
	now = now.Add(20 * time.Hour)

	if out := h.handle("מזל טוב לנועה"); out.Action != ActionNotBirthday {
		t.Errorf("action = %s, want not_birthday after the pending wish went stale", out.Action)
	}
	if len(h.sender.sent) != 0 {
		t.Errorf("sent = %+v, want nothing", h.sender.sent)
	}
}
