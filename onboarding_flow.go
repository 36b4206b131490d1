package accounts

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OnboardingStep identifies a state of the account-completion chain.
type OnboardingStep string

const (
	StepRegister    OnboardingStep = "register"
	StepVerifyEmail OnboardingStep = "verify_email"
	StepAddPhone    OnboardingStep = "add_phone"
	StepVerifyPhone OnboardingStep = "verify_phone"
	StepAddAvatar   OnboardingStep = "add_avatar"
	StepWelcome     OnboardingStep = "welcome"
)

// OnboardingContext is the carry state threaded through every onboarding
// transition. Email is set once by a successful registration and is
// immutable afterwards; any downstream step reached without it is a
// routing error, not a crash.
type OnboardingContext struct {
	Email          string
	RedirectTarget string
	Phone          string
}

// OnboardingFlow sequences register -> verify email -> add phone ->
// verify phone -> avatar -> welcome. AddPhone and AddAvatar are optional
// and expose Skip; VerifyPhone only exists when a phone was added. The
// same submission guard and stale-response rules as LoginFlow apply.
type OnboardingFlow struct {
	mu         sync.Mutex
	id         string
	step       OnboardingStep
	carry      OnboardingContext
	busy       bool
	generation uint64
	finished   bool

	transitions map[OnboardingStep]map[OnboardingStep]struct{}

	service   Service
	store     *SessionStore
	nav       Navigator
	transform ImageTransform
	logger    Logger
	sink      ActivitySink
	now       func() time.Time
}

// NewOnboardingFlow creates a flow at the register step.
func NewOnboardingFlow(service Service, store *SessionStore) *OnboardingFlow {
	return &OnboardingFlow{
		id:    uuid.New().String(),
		step:  StepRegister,
		carry: OnboardingContext{RedirectTarget: ""},
		transitions: map[OnboardingStep]map[OnboardingStep]struct{}{
			StepRegister: {
				StepVerifyEmail: {},
			},
			StepVerifyEmail: {
				StepAddPhone: {},
			},
			StepAddPhone: {
				StepVerifyPhone: {},
				StepAddAvatar:   {}, // skip path
			},
			StepVerifyPhone: {
				StepAddAvatar: {},
			},
			StepAddAvatar: {
				StepWelcome: {},
			},
		},
		service: service,
		store:   store,
		nav:     NavigatorFunc(nil),
		logger:  defLogger{},
		sink:    noopActivitySink{},
		now:     time.Now,
	}
}

// WithEntryQuery resolves the redirect target from the flow's entry query.
func (f *OnboardingFlow) WithEntryQuery(query url.Values) *OnboardingFlow {
	f.carry.RedirectTarget = ResolveRedirect(query)
	return f
}

// WithNavigator sets the host navigation capability.
func (f *OnboardingFlow) WithNavigator(nav Navigator) *OnboardingFlow {
	if nav != nil {
		f.nav = nav
	}
	return f
}

// WithImageTransform sets the crop-and-compress collaborator used by the
// avatar step.
func (f *OnboardingFlow) WithImageTransform(transform ImageTransform) *OnboardingFlow {
	f.transform = transform
	return f
}

// WithLogger overrides the default logger.
func (f *OnboardingFlow) WithLogger(logger Logger) *OnboardingFlow {
	if logger != nil {
		f.logger = logger
	}
	return f
}

// WithActivitySink configures an ActivitySink for flow lifecycle events.
func (f *OnboardingFlow) WithActivitySink(sink ActivitySink) *OnboardingFlow {
	f.sink = normalizeActivitySink(sink)
	return f
}

// WithClock injects a custom clock. The age requirement at registration is
// evaluated against it.
func (f *OnboardingFlow) WithClock(clock func() time.Time) *OnboardingFlow {
	if clock != nil {
		f.now = clock
	}
	return f
}

// ID returns the flow instance identifier.
func (f *OnboardingFlow) ID() string { return f.id }

// Step returns the current state.
func (f *OnboardingFlow) Step() OnboardingStep {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

// Context returns a copy of the carry state.
func (f *OnboardingFlow) Context() OnboardingContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.carry
}

// Resume restores a mid-chain step from navigation state, e.g. when the
// host recreates the controller on a fresh page load. A downstream step
// without an email recovers to the register screen instead of rendering
// an invalid state.
func (f *OnboardingFlow) Resume(step OnboardingStep, state NavState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.busy {
		return ErrSubmissionInFlight
	}

	if step != StepRegister && state.Email == "" {
		f.generation++
		f.step = StepRegister
		f.nav.Navigate(RouteRegister, NavState{RedirectTarget: f.carry.RedirectTarget})
		return ErrMissingContext.WithMetadata(map[string]any{
			"step": step, "reason": "email missing from navigation state",
		})
	}

	f.step = step
	f.carry.Email = state.Email
	if state.RedirectTarget != "" {
		f.carry.RedirectTarget = state.RedirectTarget
	}
	return nil
}

// SubmitRegistration validates and submits the registration form. On
// success the flow advances to email verification carrying the email and
// redirect target forward.
func (f *OnboardingFlow) SubmitRegistration(ctx context.Context, payload RegisterPayload) error {
	if err := payload.ValidateAt(f.now()); err != nil {
		return err
	}

	gen, err := f.begin(StepRegister)
	if err != nil {
		return err
	}

	message, err := f.service.Register(ctx, payload)

	f.mu.Lock()
	f.busy = false
	if gen != f.generation {
		f.mu.Unlock()
		return nil
	}
	if err != nil {
		f.mu.Unlock()
		f.recordFailure(ctx, StepRegister, err)
		return err
	}

	f.carry.Email = payload.Email
	f.step = StepVerifyEmail
	carry := f.carry
	f.mu.Unlock()

	f.record(ctx, ActivityEvent{
		EventType: ActivityEventRegistration,
		FlowID:    f.id,
		Metadata:  map[string]any{"message": message},
	})
	f.recordAdvance(ctx, StepRegister, StepVerifyEmail)
	f.nav.Navigate(RouteVerifyEmail, NavState{Email: carry.Email, RedirectTarget: carry.RedirectTarget})
	return nil
}

// SubmitEmailCode verifies the emailed code. A code that is not exactly
// eight digits is rejected without a network call. Success commits the
// returned identity and advances to the phone step.
func (f *OnboardingFlow) SubmitEmailCode(ctx context.Context, code string) error {
	return f.submitCode(ctx, StepVerifyEmail, StepAddPhone, RouteAddPhone, code, f.service.VerifyEmail)
}

// SubmitPhone validates and submits the phone number. The country code and
// local number are concatenated into a single wire value.
func (f *OnboardingFlow) SubmitPhone(ctx context.Context, payload PhonePayload) error {
	if err := f.requireEmail(StepAddPhone); err != nil {
		return err
	}
	if err := payload.Validate(); err != nil {
		return err
	}

	gen, err := f.begin(StepAddPhone)
	if err != nil {
		return err
	}

	err = f.service.AddPhone(ctx, payload.Full())

	f.mu.Lock()
	f.busy = false
	if gen != f.generation {
		f.mu.Unlock()
		return nil
	}
	if err != nil {
		f.mu.Unlock()
		f.recordFailure(ctx, StepAddPhone, err)
		return err
	}

	f.carry.Phone = payload.Full()
	f.step = StepVerifyPhone
	carry := f.carry
	f.mu.Unlock()

	f.recordAdvance(ctx, StepAddPhone, StepVerifyPhone)
	f.nav.Navigate(RouteVerifyPhone, NavState{Email: carry.Email, RedirectTarget: carry.RedirectTarget})
	return nil
}

// SkipPhone advances past the optional phone step with the carry state
// unchanged. Skipping also bypasses phone verification.
func (f *OnboardingFlow) SkipPhone(ctx context.Context) error {
	return f.skip(ctx, StepAddPhone, StepAddAvatar, RouteAvatar)
}

// SubmitPhoneCode verifies the SMS code for the added phone. Reaching this
// step without an added phone recovers to the add-phone screen.
func (f *OnboardingFlow) SubmitPhoneCode(ctx context.Context, code string) error {
	f.mu.Lock()
	phone := f.carry.Phone
	f.mu.Unlock()
	if phone == "" {
		return f.recover(StepVerifyPhone, StepAddPhone, RouteAddPhone, "phone was never added")
	}
	return f.submitCode(ctx, StepVerifyPhone, StepAddAvatar, RouteAvatar, code, f.service.VerifyPhone)
}

// SubmitAvatar pipes the selected image through the crop-and-compress
// transform, uploads the result, and finishes the chain.
func (f *OnboardingFlow) SubmitAvatar(ctx context.Context, image []byte, region CropRegion) error {
	if err := f.requireEmail(StepAddAvatar); err != nil {
		return err
	}
	if len(image) == 0 {
		return ErrMissingContext.WithMetadata(map[string]any{
			"reason": "no image selected",
		})
	}

	blob := image
	if f.transform != nil {
		var err error
		if blob, err = f.transform(image, region); err != nil {
			return ErrInvalidCode.Clone().WithMetadata(map[string]any{
				"reason": "image transform failed", "error": err.Error(),
			})
		}
	}

	gen, err := f.begin(StepAddAvatar)
	if err != nil {
		return err
	}

	err = f.service.UploadAvatar(ctx, blob, "image/jpeg")

	f.mu.Lock()
	f.busy = false
	if gen != f.generation {
		f.mu.Unlock()
		return nil
	}
	if err != nil {
		f.mu.Unlock()
		f.recordFailure(ctx, StepAddAvatar, err)
		return err
	}
	f.mu.Unlock()

	return f.finish(ctx, StepAddAvatar)
}

// SkipAvatar finishes the chain without uploading a picture.
func (f *OnboardingFlow) SkipAvatar(ctx context.Context) error {
	f.mu.Lock()
	if f.busy {
		f.mu.Unlock()
		return ErrSubmissionInFlight
	}
	if f.step != StepAddAvatar {
		step := f.step
		f.mu.Unlock()
		return ErrInvalidTransition.WithMetadata(map[string]any{
			"from": step, "to": StepWelcome,
		})
	}
	f.generation++
	f.mu.Unlock()

	f.record(ctx, ActivityEvent{
		EventType: ActivityEventFlowStepSkipped,
		FlowID:    f.id,
		FromStep:  string(StepAddAvatar),
	})
	return f.finish(ctx, StepAddAvatar)
}

// Abandon discards the flow instance; in-flight responses are dropped.
func (f *OnboardingFlow) Abandon(ctx context.Context) {
	f.mu.Lock()
	f.generation++
	f.busy = false
	step := f.step
	f.mu.Unlock()

	f.record(ctx, ActivityEvent{
		EventType: ActivityEventFlowAbandoned,
		FlowID:    f.id,
		FromStep:  string(step),
	})
}

// submitCode is the shared verify-email / verify-phone path: local shape
// check, network call, identity commit, advance.
func (f *OnboardingFlow) submitCode(
	ctx context.Context,
	step, next OnboardingStep,
	nextRoute, code string,
	verify func(context.Context, string, string) (*Identity, error),
) error {
	if err := f.requireEmail(step); err != nil {
		return err
	}
	if err := ValidateVerificationCode(code); err != nil {
		return err
	}

	gen, err := f.begin(step)
	if err != nil {
		return err
	}

	f.mu.Lock()
	email := f.carry.Email
	f.mu.Unlock()

	identity, err := verify(ctx, email, code)

	f.mu.Lock()
	f.busy = false
	if gen != f.generation {
		f.mu.Unlock()
		return nil
	}
	if err != nil {
		f.mu.Unlock()
		f.recordFailure(ctx, step, err)
		return err
	}
	if !f.canTransition(step, next) {
		f.mu.Unlock()
		return ErrInvalidTransition.WithMetadata(map[string]any{
			"from": step, "to": next,
		})
	}

	f.step = next
	carry := f.carry
	f.mu.Unlock()

	f.store.Login(*identity)
	f.recordAdvance(ctx, step, next)
	f.nav.Navigate(nextRoute, NavState{Email: carry.Email, RedirectTarget: carry.RedirectTarget})
	return nil
}

func (f *OnboardingFlow) skip(ctx context.Context, step, next OnboardingStep, nextRoute string) error {
	f.mu.Lock()
	if f.busy {
		f.mu.Unlock()
		return ErrSubmissionInFlight
	}
	if f.step != step || !f.canTransition(step, next) {
		from := f.step
		f.mu.Unlock()
		return ErrInvalidTransition.WithMetadata(map[string]any{
			"from": from, "to": next,
		})
	}
	f.generation++
	f.step = next
	carry := f.carry
	f.mu.Unlock()

	f.record(ctx, ActivityEvent{
		EventType: ActivityEventFlowStepSkipped,
		FlowID:    f.id,
		FromStep:  string(step),
		ToStep:    string(next),
	})
	f.nav.Navigate(nextRoute, NavState{Email: carry.Email, RedirectTarget: carry.RedirectTarget})
	return nil
}

// finish enters the welcome terminal exactly once: it resolves to the
// configured redirect target when one was set, the welcome screen
// otherwise. An entry query naming the canonical hub explicitly is
// honored like any other target.
func (f *OnboardingFlow) finish(ctx context.Context, from OnboardingStep) error {
	f.mu.Lock()
	if f.finished {
		f.mu.Unlock()
		return ErrInvalidTransition.WithMetadata(map[string]any{
			"from": from, "reason": "flow already finished",
		})
	}
	f.finished = true
	f.step = StepWelcome
	target := f.carry.RedirectTarget
	f.mu.Unlock()

	f.recordAdvance(ctx, from, StepWelcome)
	if target != "" {
		f.nav.Navigate(target, NavState{})
	} else {
		f.nav.Navigate(RouteWelcome, NavState{})
	}
	return nil
}

// recover redirects to the earliest step that can rebuild the missing
// context instead of rendering an invalid state.
func (f *OnboardingFlow) recover(from, to OnboardingStep, route, reason string) error {
	f.mu.Lock()
	f.generation++
	f.step = to
	carry := f.carry
	f.mu.Unlock()

	f.nav.Navigate(route, NavState{Email: carry.Email, RedirectTarget: carry.RedirectTarget})
	return ErrMissingContext.WithMetadata(map[string]any{
		"step": from, "reason": reason,
	})
}

func (f *OnboardingFlow) requireEmail(step OnboardingStep) error {
	f.mu.Lock()
	email := f.carry.Email
	redirect := f.carry.RedirectTarget
	f.mu.Unlock()

	if email != "" {
		return nil
	}

	f.mu.Lock()
	f.generation++
	f.step = StepRegister
	f.mu.Unlock()

	f.nav.Navigate(RouteRegister, NavState{RedirectTarget: redirect})
	return ErrMissingContext.WithMetadata(map[string]any{
		"step": step, "reason": "email is missing",
	})
}

func (f *OnboardingFlow) canTransition(from, to OnboardingStep) bool {
	if allowed, ok := f.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (f *OnboardingFlow) begin(step OnboardingStep) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.step != step {
		return 0, ErrInvalidTransition.WithMetadata(map[string]any{
			"from": f.step, "expected": step,
		})
	}
	if f.busy {
		return 0, ErrSubmissionInFlight
	}
	f.busy = true
	return f.generation, nil
}

func (f *OnboardingFlow) recordFailure(ctx context.Context, step OnboardingStep, err error) {
	f.record(ctx, ActivityEvent{
		EventType: ActivityEventFlowStepFailed,
		FlowID:    f.id,
		FromStep:  string(step),
		Metadata:  map[string]any{"error": err.Error()},
	})
}

func (f *OnboardingFlow) recordAdvance(ctx context.Context, from, to OnboardingStep) {
	f.record(ctx, ActivityEvent{
		EventType: ActivityEventFlowAdvanced,
		FlowID:    f.id,
		FromStep:  string(from),
		ToStep:    string(to),
	})
}

func (f *OnboardingFlow) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = f.now()
	}
	if err := f.sink.Record(ctx, event); err != nil {
		f.logger.Warn("onboarding activity sink error: %v", err)
	}
}
