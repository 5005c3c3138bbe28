// Package status implements the per-(profile, phase) job state machine and
// the snapshot surface polled by clients. The Tracker is the sole writer of
// job status; pipeline stages receive it as an injected capability.
package status

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopassist-ai/engine/engine/domain"
)

// Phase identifies which pipeline stage a job status belongs to.
type Phase string

const (
	PhaseScraping Phase = "scraping"
	PhaseAI       Phase = "ai_processing"
)

// State is the job lifecycle state.
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// JobStatus is the progress record for one (profile, phase) run.
type JobStatus struct {
	State     State     `json:"status"`
	Current   int       `json:"current_count"`
	Total     int       `json:"total_count"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Snapshot holds both phases for one profile.
type Snapshot struct {
	Scraping JobStatus `json:"scraping"`
	AI       JobStatus `json:"ai_processing"`
}

// JobEvent is published on terminal job transitions.
type JobEvent struct {
	Username string    `json:"username"`
	Phase    Phase     `json:"phase"`
	State    State     `json:"state"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}

// EventSubject returns the NATS subject for a phase/state transition,
// e.g. "jobs.ai_processing.completed".
func EventSubject(phase Phase, state State) string {
	return "jobs." + string(phase) + "." + string(state)
}

// Publisher emits job lifecycle events. Implementations must be safe for
// concurrent use. A nil Publisher disables events.
type Publisher interface {
	PublishJobEvent(ev JobEvent)
}

// Tracker owns all job status records. Start is the single admission point:
// it compare-and-sets the state under the lock so two concurrent starts for
// the same key cannot both proceed.
type Tracker struct {
	mu     sync.Mutex
	jobs   map[string]JobStatus
	events Publisher
	logger *slog.Logger
	now    func() time.Time // for testing
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithPublisher wires job lifecycle events to a publisher.
func WithPublisher(p Publisher) Option {
	return func(t *Tracker) { t.events = p }
}

// WithLogger sets the tracker's logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates an empty Tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		jobs: make(map[string]JobStatus),
		now:  time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

func key(username string, phase Phase) string {
	return username + "/" + string(phase)
}

// Start admits a new run for (username, phase). It returns
// domain.ErrAlreadyRunning if a run is in flight; any other prior state
// (including failed) is replaced by a fresh running status with cleared
// counters and error.
func (t *Tracker) Start(username string, phase Phase, message string) error {
	t.mu.Lock()
	k := key(username, phase)
	if t.jobs[k].State == StateRunning {
		t.mu.Unlock()
		return domain.NewJobError(username, string(phase), domain.ErrAlreadyRunning)
	}
	t.jobs[k] = JobStatus{
		State:     StateRunning,
		Message:   message,
		UpdatedAt: t.now(),
	}
	t.mu.Unlock()

	t.logger.Info("job started", "username", username, "phase", phase)
	t.publish(username, phase, StateRunning, message)
	return nil
}

// Advance updates counters for a running job. Calls against a non-running
// job are dropped: only the owning stage advances its own run, so this can
// only happen after the stage already terminated the job.
func (t *Tracker) Advance(username string, phase Phase, current, total int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key(username, phase)
	st := t.jobs[k]
	if st.State != StateRunning {
		return
	}
	st.Current = current
	if total > 0 {
		st.Total = total
	}
	if message != "" {
		st.Message = message
	}
	st.UpdatedAt = t.now()
	t.jobs[k] = st
}

// Complete transitions running → completed.
func (t *Tracker) Complete(username string, phase Phase, message string) {
	t.terminate(username, phase, StateCompleted, message, "")
}

// Fail transitions running → failed and records the error. Terminal until
// the next Start.
func (t *Tracker) Fail(username string, phase Phase, err error) {
	msg := "job failed"
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	t.terminate(username, phase, StateFailed, msg, errText)
}

func (t *Tracker) terminate(username string, phase Phase, state State, message, errText string) {
	t.mu.Lock()
	k := key(username, phase)
	st := t.jobs[k]
	if st.State != StateRunning {
		t.mu.Unlock()
		return
	}
	st.State = state
	st.Message = message
	st.Error = errText
	st.UpdatedAt = t.now()
	t.jobs[k] = st
	t.mu.Unlock()

	t.logger.Info("job finished", "username", username, "phase", phase, "state", state, "error", errText)
	t.publish(username, phase, state, message)
}

// publish runs after the transition is committed and the lock released: a
// slow Publisher delays only the calling goroutine, and implementations may
// read the tracker from inside PublishJobEvent.
func (t *Tracker) publish(username string, phase Phase, state State, message string) {
	if t.events == nil {
		return
	}
	t.events.PublishJobEvent(JobEvent{
		Username: username,
		Phase:    phase,
		State:    state,
		Message:  message,
		At:       t.now(),
	})
}

// Snapshot returns the current status for both phases of a profile. Safe to
// call from any state; absent phases report not_started with zero counters.
func (t *Tracker) Snapshot(username string) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Snapshot{
		Scraping: t.get(username, PhaseScraping),
		AI:       t.get(username, PhaseAI),
	}
}

// get must hold mu.
func (t *Tracker) get(username string, phase Phase) JobStatus {
	st, ok := t.jobs[key(username, phase)]
	if !ok {
		return JobStatus{State: StateNotStarted}
	}
	return st
}
