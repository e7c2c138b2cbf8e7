package pipeline

import (
	"sync"
	"time"
)

// State is one node of the per-request pipeline state machine (§4.4):
// received -> context_ready -> candidate_generated -> verification_running
// -> {verification_passed|halted} -> attested -> completed.
type State string

const (
	StateReceived             State = "received"
	StateContextReady         State = "context_ready"
	StateCandidateGenerated   State = "candidate_generated"
	StateVerificationRunning  State = "verification_running"
	StateVerificationPassed   State = "verification_passed"
	StateHalted               State = "halted"
	StateAttested             State = "attested"
	StateCompleted            State = "completed"
)

// Transition is one edge the state machine has walked, tagged by request
// and attempt so it can be emitted to the structured logger and to an
// OpenTelemetry span as a single record per edge.
type Transition struct {
	RequestID string
	Attempt   int
	From      State
	To        State
	Reason    string
	At        time.Time
}

// StateMachine tracks one request's walk through the pipeline states and
// keeps an explicit, append-only log of every edge taken. Candidate
// generation and verification can each run up to MaxAttempts times, so the
// machine revisits candidate_generated/verification_running on a retry
// rather than treating the graph as acyclic.
type StateMachine struct {
	mu          sync.Mutex
	requestID   string
	current     State
	transitions []Transition
	clock       func() time.Time
}

// NewStateMachine starts a request in StateReceived.
func NewStateMachine(requestID string) *StateMachine {
	return &StateMachine{requestID: requestID, current: StateReceived, clock: time.Now}
}

// WithClock overrides the machine's clock, for deterministic tests.
func (s *StateMachine) WithClock(clock func() time.Time) *StateMachine {
	s.clock = clock
	return s
}

// Transition records one edge and updates the current state.
func (s *StateMachine) Transition(to State, attempt int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transitions = append(s.transitions, Transition{
		RequestID: s.requestID,
		Attempt:   attempt,
		From:      s.current,
		To:        to,
		Reason:    reason,
		At:        s.clock(),
	})
	s.current = to
}

// Current returns the machine's present state.
func (s *StateMachine) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Transitions returns the full, ordered transition log.
func (s *StateMachine) Transitions() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transition, len(s.transitions))
	copy(out, s.transitions)
	return out
}
