package attempt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/clock"
)

// Options tunes an Orchestrator. Zero values fall back to DefaultOptions.
type Options struct {
	Clock  clock.Clock
	Logger zerolog.Logger

	// Debounce is how long a question's selection must stay unchanged before
	// it is persisted.
	Debounce time.Duration

	WarningSeconds  int
	CriticalSeconds int

	// SubmitRetryDelay and SubmitRetries bound the automatic retries of a
	// failed submission once time has run out. Negative SubmitRetries
	// disables them.
	SubmitRetryDelay time.Duration
	SubmitRetries    int

	// FlushAttempts is how many times a pending save is tried while flushing
	// before submission.
	FlushAttempts int

	Observer Observer
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Clock:            clock.New(),
		Logger:           zerolog.Nop(),
		Debounce:         800 * time.Millisecond,
		WarningSeconds:   300,
		CriticalSeconds:  60,
		SubmitRetryDelay: 5 * time.Second,
		SubmitRetries:    3,
		FlushAttempts:    3,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Clock == nil {
		o.Clock = d.Clock
	}
	if o.Debounce <= 0 {
		o.Debounce = d.Debounce
	}
	if o.WarningSeconds <= 0 {
		o.WarningSeconds = d.WarningSeconds
	}
	if o.CriticalSeconds <= 0 {
		o.CriticalSeconds = d.CriticalSeconds
	}
	if o.SubmitRetryDelay <= 0 {
		o.SubmitRetryDelay = d.SubmitRetryDelay
	}
	switch {
	case o.SubmitRetries == 0:
		o.SubmitRetries = d.SubmitRetries
	case o.SubmitRetries < 0:
		o.SubmitRetries = 0
	}
	if o.FlushAttempts <= 0 {
		o.FlushAttempts = d.FlushAttempts
	}
	return o
}

// Summary is the pre-submit confirmation view.
type Summary struct {
	Total      int
	Answered   int
	Unanswered int
	Flagged    int
}

// save tracks the debounce and in-flight state of one question.
type save struct {
	gen      uint64
	timer    clock.Timer
	inflight bool
	again    bool
}

// Orchestrator owns one attempt from hydration to submission or teardown.
type Orchestrator struct {
	mu   sync.Mutex
	idle *sync.Cond

	att       Attempt
	index     map[string]int
	persister Persister
	submitter Submitter
	opts      Options
	log       zerolog.Logger

	timer   *Timer
	nav     *Navigation
	answers *AnswerStore

	shuffles map[string][]int
	saves    map[string]*save

	state         State
	closed        bool
	outcome       *SubmitOutcome
	expiryRetries int
	retryTimer    clock.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds the orchestrator and its timer, navigation and answer store.
// The countdown starts with Start.
func New(att Attempt, persister Persister, submitter Submitter, opts Options) (*Orchestrator, error) {
	if persister == nil || submitter == nil {
		return nil, errors.New("attempt: persister and submitter are required")
	}
	opts = opts.withDefaults()

	index := make(map[string]int, len(att.Questions))
	ids := make([]string, len(att.Questions))
	for i, q := range att.Questions {
		if _, dup := index[q.ID]; dup {
			return nil, fmt.Errorf("attempt: duplicate question %q", q.ID)
		}
		index[q.ID] = i
		ids[i] = q.ID
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		att:       att,
		index:     index,
		persister: persister,
		submitter: submitter,
		opts:      opts,
		log: opts.Logger.With().
			Str("component", "attempt").
			Str("attempt_id", att.ID).
			Logger(),
		nav:      NewNavigation(ids),
		answers:  NewAnswerStore(att.Answers),
		shuffles: make(map[string][]int, len(att.Questions)),
		saves:    make(map[string]*save),
		state:    StateActive,
		ctx:      ctx,
		cancel:   cancel,
	}
	o.idle = sync.NewCond(&o.mu)
	o.timer = NewTimer(opts.Clock, TimerConfig{
		TotalSeconds:     att.TotalSeconds,
		RemainingSeconds: att.RemainingSeconds,
		WarningSeconds:   opts.WarningSeconds,
		CriticalSeconds:  opts.CriticalSeconds,
	}, o.onExpired)
	return o, nil
}

// Start begins the countdown.
func (o *Orchestrator) Start() {
	o.timer.Start()
	o.log.Info().
		Int("remaining", o.timer.Remaining()).
		Int("questions", len(o.att.Questions)).
		Msg("Attempt started")
}

// Close tears the attempt down: the tick, pending saves and scheduled retries
// are cancelled and no callback touches the attempt afterwards.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.timer.Stop()
	o.stopSavesLocked()
	if o.retryTimer != nil {
		o.retryTimer.Stop()
		o.retryTimer = nil
	}
	o.cancel()
	o.idle.Broadcast()
	o.mu.Unlock()

	o.log.Debug().Msg("Attempt closed")
}

func (o *Orchestrator) ID() string { return o.att.ID }

func (o *Orchestrator) Timer() *Timer { return o.timer }

func (o *Orchestrator) Navigation() *Navigation { return o.nav }

func (o *Orchestrator) Questions() []Question { return o.att.Questions }

// Question returns the question at index, if any.
func (o *Orchestrator) Question(i int) (Question, bool) {
	if i < 0 || i >= len(o.att.Questions) {
		return Question{}, false
	}
	return o.att.Questions[i], true
}

// CurrentQuestion returns the question selected by the navigation controller.
func (o *Orchestrator) CurrentQuestion() (Question, bool) {
	return o.Question(o.nav.Current())
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Outcome returns the successful submission outcome, if any.
func (o *Orchestrator) Outcome() *SubmitOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcome
}

// Answer returns the locally authoritative selection.
func (o *Orchestrator) Answer(questionID string) Selection {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.answers.Local(questionID)
}

// PersistedAnswer returns the last selection acknowledged remotely.
func (o *Orchestrator) PersistedAnswer(questionID string) Selection {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.answers.Persisted(questionID)
}

// Answers copies the local answer mapping.
func (o *Orchestrator) Answers() map[string]Selection {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.answers.Snapshot()
}

func (o *Orchestrator) AnsweredCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.answers.AnsweredCount()
}

// Summary reports answered, unanswered and flagged counts for confirmation.
func (o *Orchestrator) Summary() Summary {
	answered := o.AnsweredCount()
	total := len(o.att.Questions)
	return Summary{
		Total:      total,
		Answered:   answered,
		Unanswered: total - answered,
		Flagged:    o.nav.FlaggedCount(),
	}
}

// ShuffleMap returns the display order of a question. It is computed on first
// use and reused for the rest of the session.
func (o *Orchestrator) ShuffleMap(questionID string) ([]int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	perm, ok := o.shuffleLocked(questionID)
	if !ok {
		return nil, false
	}
	out := make([]int, len(perm))
	copy(out, perm)
	return out, true
}

func (o *Orchestrator) shuffleLocked(questionID string) ([]int, bool) {
	if perm, ok := o.shuffles[questionID]; ok {
		return perm, true
	}
	i, ok := o.index[questionID]
	if !ok {
		return nil, false
	}
	perm := ShuffleFor(len(o.att.Questions[i].Choices), o.att.ShuffleMaps[questionID])
	o.shuffles[questionID] = perm
	return perm, true
}

// DisplayedAnswer returns the on-screen position of the selected choice.
func (o *Orchestrator) DisplayedAnswer(questionID string) (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sel := o.answers.Local(questionID)
	if len(sel) == 0 {
		return 0, false
	}
	perm, ok := o.shuffleLocked(questionID)
	if !ok {
		return 0, false
	}
	canonical, err := strconv.Atoi(sel[0])
	if err != nil {
		return 0, false
	}
	return ToDisplay(perm, canonical)
}

// SetAnswer records a single canonical choice for a question and schedules
// its debounced persist.
func (o *Orchestrator) SetAnswer(questionID string, canonical int) error {
	i, ok := o.index[questionID]
	if !ok {
		return ErrUnknownQuestion
	}
	if canonical < 0 || canonical >= len(o.att.Questions[i].Choices) {
		return ErrInvalidChoice
	}
	return o.SetSelection(questionID, Single(canonical))
}

// SelectDisplayed records the choice shown at displayPos.
func (o *Orchestrator) SelectDisplayed(questionID string, displayPos int) error {
	perm, ok := o.ShuffleMap(questionID)
	if !ok {
		return ErrUnknownQuestion
	}
	canonical, ok := ToCanonical(perm, displayPos)
	if !ok {
		return ErrInvalidChoice
	}
	return o.SetAnswer(questionID, canonical)
}

// SetSelection replaces a question's selection locally and reschedules its
// persist. An empty selection clears the answer.
func (o *Orchestrator) SetSelection(questionID string, sel Selection) error {
	o.mu.Lock()
	switch {
	case o.closed:
		o.mu.Unlock()
		return ErrClosed
	case o.state == StateSubmitted:
		o.mu.Unlock()
		return ErrSubmitted
	}
	if _, ok := o.index[questionID]; !ok {
		o.mu.Unlock()
		return ErrUnknownQuestion
	}
	o.answers.Set(questionID, sel)
	o.scheduleSaveLocked(questionID)
	o.mu.Unlock()

	o.emit(Event{Kind: EventAnswerChanged, QuestionID: questionID, Selection: sel.Clone()})
	return nil
}

func (o *Orchestrator) scheduleSaveLocked(questionID string) {
	s, ok := o.saves[questionID]
	if !ok {
		s = &save{}
		o.saves[questionID] = s
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = o.opts.Clock.AfterFunc(o.opts.Debounce, func() { o.fireSave(questionID, gen) })
}

func (o *Orchestrator) fireSave(questionID string, gen uint64) {
	o.mu.Lock()
	s := o.saves[questionID]
	if o.closed || s == nil || s.gen != gen || s.timer == nil {
		o.mu.Unlock()
		return
	}
	s.timer = nil
	if s.inflight {
		s.again = true
		o.mu.Unlock()
		return
	}
	s.inflight = true
	o.mu.Unlock()

	o.runSaves(questionID, 1)
}

// runSaves persists the latest selection of a question, repeating while edits
// arrived during the call. The caller must have set inflight.
func (o *Orchestrator) runSaves(questionID string, attempts int) {
	for {
		o.mu.Lock()
		s := o.saves[questionID]
		if o.closed {
			s.inflight = false
			o.idle.Broadcast()
			o.mu.Unlock()
			return
		}
		sel := o.answers.Local(questionID)
		ctx := o.ctx
		o.mu.Unlock()

		var err error
		for try := 0; try < attempts; try++ {
			if err = o.persister.PersistAnswer(ctx, o.att.ID, questionID, sel); err == nil || ctx.Err() != nil {
				break
			}
		}

		o.mu.Lock()
		closed := o.closed
		if err == nil {
			o.answers.MarkPersisted(questionID, sel)
		}
		again := s.again && !closed
		s.again = false
		if !again {
			s.inflight = false
			o.idle.Broadcast()
		}
		o.mu.Unlock()

		if closed {
			return
		}
		if err != nil {
			o.log.Warn().Err(err).Str("question_id", questionID).Msg("Persist answer failed, keeping local selection")
			o.emit(Event{Kind: EventPersistFailed, QuestionID: questionID, Selection: sel, Err: err})
		} else {
			o.emit(Event{Kind: EventAnswerPersisted, QuestionID: questionID, Selection: sel})
		}
		if !again {
			return
		}
	}
}

func (o *Orchestrator) stopSavesLocked() {
	for _, s := range o.saves {
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.gen++
		s.again = false
	}
}

// flush persists every pending debounced save and waits for in-flight saves,
// so that the submission observes the latest local answers.
func (o *Orchestrator) flush() {
	o.mu.Lock()
	var queued []string
	for id, s := range o.saves {
		if s.timer == nil {
			continue
		}
		s.timer.Stop()
		s.timer = nil
		s.gen++
		if s.inflight {
			s.again = true
			continue
		}
		s.inflight = true
		queued = append(queued, id)
	}
	o.mu.Unlock()

	for _, id := range queued {
		o.runSaves(id, o.opts.FlushAttempts)
	}

	o.mu.Lock()
	for !o.closed && o.anyInflightLocked() {
		o.idle.Wait()
	}
	o.mu.Unlock()
}

func (o *Orchestrator) anyInflightLocked() bool {
	for _, s := range o.saves {
		if s.inflight {
			return true
		}
	}
	return false
}

// HandleSubmit ends the attempt on behalf of the student. A call made while a
// submission is in flight or after it succeeded is a no-op.
func (o *Orchestrator) HandleSubmit(ctx context.Context) error {
	return o.submit(ctx, TriggerUser)
}

func (o *Orchestrator) onExpired() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	ctx := o.ctx
	o.mu.Unlock()

	o.log.Info().Msg("Time is up, submitting attempt")
	o.emit(Event{Kind: EventExpired})
	_ = o.submit(ctx, TriggerExpiry)
}

func (o *Orchestrator) submit(ctx context.Context, trigger Trigger) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.state != StateActive {
		state := o.state
		o.mu.Unlock()
		o.log.Debug().Str("trigger", string(trigger)).Str("state", string(state)).Msg("Submit ignored")
		return nil
	}
	o.state = StateSubmitting
	if o.retryTimer != nil {
		o.retryTimer.Stop()
		o.retryTimer = nil
	}
	o.mu.Unlock()

	o.emit(Event{Kind: EventSubmitStarted, Trigger: trigger})
	o.flush()

	outcome, err := o.submitter.SubmitAttempt(ctx, o.att.ID)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if err != nil || !outcome.Success {
		o.state = StateActive
		serr := &SubmitError{AttemptID: o.att.ID, Trigger: trigger, Reason: outcome.Error, Err: err}
		if serr.Err == nil && serr.Reason == "" {
			serr.Reason = "rejected"
		}
		retry := o.timer.Expired() && o.expiryRetries < o.opts.SubmitRetries
		if retry {
			o.expiryRetries++
			retryCtx := o.ctx
			o.retryTimer = o.opts.Clock.AfterFunc(o.opts.SubmitRetryDelay, func() {
				_ = o.submit(retryCtx, TriggerExpiry)
			})
		}
		o.mu.Unlock()

		o.log.Error().Err(serr).Str("trigger", string(trigger)).Bool("retry_scheduled", retry).Msg("Submit failed")
		o.emit(Event{Kind: EventSubmitFailed, Trigger: trigger, Err: serr})
		return serr
	}

	o.state = StateSubmitted
	o.outcome = &outcome
	o.timer.Stop()
	o.stopSavesLocked()
	o.mu.Unlock()

	o.log.Info().Str("trigger", string(trigger)).Msg("Attempt submitted")
	o.emit(Event{Kind: EventSubmitted, Trigger: trigger, Outcome: &outcome})
	return nil
}

func (o *Orchestrator) emit(ev Event) {
	if o.opts.Observer == nil {
		return
	}
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return
	}
	ev.AttemptID = o.att.ID
	o.opts.Observer(ev)
}
