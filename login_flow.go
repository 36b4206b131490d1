package accounts

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LoginStep identifies a state of the progressive login flow.
type LoginStep string

const (
	StepIdentify   LoginStep = "identify"
	StepCredential LoginStep = "credential"
	StepMfa        LoginStep = "mfa"
	StepDone       LoginStep = "done"
)

// LoginFlow drives one traversal of the progressive login state machine:
// identify -> credential (password or passkey) -> optional MFA -> committed
// session. A flow instance is ephemeral; discard it once Step reports
// StepDone or the user navigates away.
//
// Transitions are strictly sequential: a step's network call resolves
// before the next transition is evaluated, a busy guard rejects double
// submission, and a generation counter discards responses that arrive
// after the flow was reset or abandoned.
type LoginFlow struct {
	mu         sync.Mutex
	id         string
	step       LoginStep
	identifier string
	hasPasskey bool
	challenge  *MfaChallenge
	method     Method
	code       string
	redirect   string
	busy       bool
	generation uint64

	transitions map[LoginStep]map[LoginStep]struct{}

	service Service
	store   *SessionStore
	nav     Navigator
	logger  Logger
	sink    ActivitySink
}

// NewLoginFlow creates a flow at the identify step. The redirect target
// defaults to the canonical account hub until WithEntryQuery overrides it.
func NewLoginFlow(service Service, store *SessionStore) *LoginFlow {
	return &LoginFlow{
		id:       uuid.New().String(),
		step:     StepIdentify,
		redirect: DefaultRedirectTarget,
		transitions: map[LoginStep]map[LoginStep]struct{}{
			StepIdentify: {
				StepCredential: {},
			},
			StepCredential: {
				StepIdentify: {},
				StepMfa:      {},
				StepDone:     {},
			},
			StepMfa: {
				StepIdentify: {},
				StepDone:     {},
			},
		},
		service: service,
		store:   store,
		nav:     NavigatorFunc(nil),
		logger:  defLogger{},
		sink:    noopActivitySink{},
	}
}

// WithEntryQuery resolves the redirect target from the flow's entry query.
// It is read once here and carried unchanged through every transition.
func (f *LoginFlow) WithEntryQuery(query url.Values) *LoginFlow {
	f.redirect = ResolveRedirect(query)
	return f
}

// WithNavigator sets the host navigation capability.
func (f *LoginFlow) WithNavigator(nav Navigator) *LoginFlow {
	if nav != nil {
		f.nav = nav
	}
	return f
}

// WithLogger overrides the default logger.
func (f *LoginFlow) WithLogger(logger Logger) *LoginFlow {
	if logger != nil {
		f.logger = logger
	}
	return f
}

// WithActivitySink configures an ActivitySink for flow lifecycle events.
func (f *LoginFlow) WithActivitySink(sink ActivitySink) *LoginFlow {
	f.sink = normalizeActivitySink(sink)
	return f
}

// ID returns the flow instance identifier.
func (f *LoginFlow) ID() string { return f.id }

// Step returns the current state.
func (f *LoginFlow) Step() LoginStep {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

// Identifier returns the identifier carried from the identify step.
func (f *LoginFlow) Identifier() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identifier
}

// HasPasskey reports whether the identified account has passkeys registered.
func (f *LoginFlow) HasPasskey() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasPasskey
}

// Challenge returns the pending MFA challenge, if any.
func (f *LoginFlow) Challenge() *MfaChallenge {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.challenge
}

// SelectedMethod returns the currently selected MFA method.
func (f *LoginFlow) SelectedMethod() Method {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.method
}

// RedirectTarget returns the resolved post-login destination.
func (f *LoginFlow) RedirectTarget() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.redirect
}

// SubmitIdentifier runs the existence check for the identify step. On
// success the flow advances to the credential step carrying whether the
// account has passkeys; on failure it stays at identify.
func (f *LoginFlow) SubmitIdentifier(ctx context.Context, identifier string) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return ErrMissingContext.WithMetadata(map[string]any{
			"reason": "identifier is empty",
		})
	}

	gen, err := f.begin(StepIdentify)
	if err != nil {
		return err
	}

	check, err := f.service.CheckIdentifier(ctx, identifier)

	f.mu.Lock()
	f.busy = false
	if gen != f.generation {
		f.mu.Unlock()
		return nil
	}

	if err == nil && !check.Exists {
		err = ErrIdentifierNotFound.Clone().WithMetadata(map[string]any{
			"identifier": identifier,
		})
	}
	if err != nil {
		f.mu.Unlock()
		f.recordFailure(ctx, StepIdentify, err)
		return err
	}

	f.identifier = identifier
	f.hasPasskey = check.HasPasskeys
	f.step = StepCredential
	f.mu.Unlock()

	f.recordAdvance(ctx, StepIdentify, StepCredential)
	return nil
}

// SubmitPassword submits the password credential. The response either
// finalizes the session or raises an MFA challenge.
func (f *LoginFlow) SubmitPassword(ctx context.Context, password string) error {
	if strings.TrimSpace(password) == "" {
		return ErrMissingContext.WithMetadata(map[string]any{
			"reason": "password is empty",
		})
	}

	gen, err := f.begin(StepCredential)
	if err != nil {
		return err
	}

	result, err := f.service.LoginWithPassword(ctx, f.Identifier(), password)
	return f.finishCredential(ctx, gen, result, err)
}

// SubmitPasskey submits a passkey assertion for the identified account.
func (f *LoginFlow) SubmitPasskey(ctx context.Context) error {
	gen, err := f.begin(StepCredential)
	if err != nil {
		return err
	}

	result, err := f.service.LoginWithPasskey(ctx, f.Identifier())
	return f.finishCredential(ctx, gen, result, err)
}

// SelectMethod is a pure local transition: it switches the MFA method and
// resets any previously entered code. No network call is made.
func (f *LoginFlow) SelectMethod(method Method) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.busy {
		return ErrSubmissionInFlight
	}
	if f.step != StepMfa {
		return ErrInvalidTransition.WithMetadata(map[string]any{
			"from": f.step, "reason": "no mfa challenge pending",
		})
	}
	if !f.challenge.Has(method) {
		return ErrInvalidTransition.WithMetadata(map[string]any{
			"method": method, "available": f.challenge.Methods,
		})
	}

	f.method = method
	f.code = ""
	return nil
}

// EnterCode stages the verification code the user has typed so far.
func (f *LoginFlow) EnterCode(code string) {
	f.mu.Lock()
	f.code = code
	f.mu.Unlock()
}

// EnteredCode returns the staged verification code.
func (f *LoginFlow) EnteredCode() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code
}

// SubmitMfa validates the staged code shape for the selected method and
// dispatches it to the method's endpoint. Failure keeps the flow at the
// MFA step with the same method selected.
func (f *LoginFlow) SubmitMfa(ctx context.Context) error {
	f.mu.Lock()
	challenge, method, code := f.challenge, f.method, f.code
	f.mu.Unlock()

	req, err := ResolveMfa(challenge, method, code)
	if err != nil {
		return err
	}

	gen, err := f.begin(StepMfa)
	if err != nil {
		return err
	}

	result, err := f.service.VerifyMfa(ctx, req)
	return f.finishCredential(ctx, gen, result, err)
}

// ResumeMfa restores the MFA step from navigation state, e.g. after the
// host rerendered the screen. Arriving without challenge data is invalid:
// the flow resets and the user is sent back to the login screen.
func (f *LoginFlow) ResumeMfa(state NavState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.busy {
		return ErrSubmissionInFlight
	}
	if state.Challenge == nil || state.Challenge.UserID == "" || len(state.Challenge.Methods) == 0 {
		f.resetLocked()
		f.nav.Navigate(RouteLogin, NavState{RedirectTarget: f.redirect})
		return ErrMissingContext.WithMetadata(map[string]any{
			"reason": "mfa challenge data missing",
		})
	}

	f.step = StepMfa
	f.challenge = state.Challenge
	f.method = state.Challenge.DefaultMethod()
	f.code = ""
	if state.Challenge.RedirectTarget != "" {
		f.redirect = state.Challenge.RedirectTarget
	}
	return nil
}

// Back is the explicit credential -> identify transition. It discards the
// entered credential, any pending challenge, and in-flight results.
func (f *LoginFlow) Back() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.step != StepCredential && f.step != StepMfa {
		return ErrInvalidTransition.WithMetadata(map[string]any{
			"from": f.step, "to": StepIdentify,
		})
	}

	f.resetLocked()
	return nil
}

// Abandon discards the flow instance. Any response still in flight is
// dropped on arrival and can no longer touch the session.
func (f *LoginFlow) Abandon(ctx context.Context) {
	f.mu.Lock()
	f.generation++
	f.busy = false
	step := f.step
	f.step = StepDone
	f.mu.Unlock()

	f.record(ctx, ActivityEvent{
		EventType: ActivityEventFlowAbandoned,
		FlowID:    f.id,
		FromStep:  string(step),
	})
}

// begin claims the submission slot for a step, enforcing both the current
// step and the single-in-flight rule.
func (f *LoginFlow) begin(step LoginStep) (uint64, error) {
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

func (f *LoginFlow) finishCredential(ctx context.Context, gen uint64, result *LoginResult, err error) error {
	f.mu.Lock()
	f.busy = false
	if gen != f.generation {
		f.mu.Unlock()
		return nil
	}
	from := f.step

	if err != nil {
		f.mu.Unlock()
		f.recordFailure(ctx, from, err)
		return err
	}

	if result.MfaRequired() {
		if !f.canTransition(from, StepMfa) {
			f.mu.Unlock()
			return ErrInvalidTransition.WithMetadata(map[string]any{
				"from": from, "to": StepMfa,
			})
		}
		result.Challenge.RedirectTarget = f.redirect
		f.challenge = result.Challenge
		f.method = result.Challenge.DefaultMethod()
		f.code = ""
		f.step = StepMfa
		f.mu.Unlock()

		f.recordAdvance(ctx, from, StepMfa)
		return nil
	}

	if !f.canTransition(from, StepDone) {
		f.mu.Unlock()
		return ErrInvalidTransition.WithMetadata(map[string]any{
			"from": from, "to": StepDone,
		})
	}
	identity := *result.Identity
	redirect := f.redirect
	f.challenge = nil
	f.method = ""
	f.code = ""
	f.step = StepDone
	f.mu.Unlock()

	f.store.Login(identity)
	if result.AccessToken != "" {
		f.store.SetAccessToken(result.AccessToken)
	}
	f.recordAdvance(ctx, from, StepDone)
	f.nav.Navigate(redirect, NavState{})
	return nil
}

func (f *LoginFlow) canTransition(from, to LoginStep) bool {
	if allowed, ok := f.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (f *LoginFlow) resetLocked() {
	f.generation++
	f.busy = false
	f.step = StepIdentify
	f.identifier = ""
	f.hasPasskey = false
	f.challenge = nil
	f.method = ""
	f.code = ""
}

func (f *LoginFlow) recordFailure(ctx context.Context, step LoginStep, err error) {
	f.record(ctx, ActivityEvent{
		EventType: ActivityEventFlowStepFailed,
		FlowID:    f.id,
		FromStep:  string(step),
		Metadata:  map[string]any{"error": err.Error()},
	})
}

func (f *LoginFlow) recordAdvance(ctx context.Context, from, to LoginStep) {
	f.record(ctx, ActivityEvent{
		EventType: ActivityEventFlowAdvanced,
		FlowID:    f.id,
		FromStep:  string(from),
		ToStep:    string(to),
	})
}

func (f *LoginFlow) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if err := f.sink.Record(ctx, event); err != nil {
		f.logger.Warn("login flow activity sink error: %v", err)
	}
}
