package detection

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/markdetect/markdetect-go/internal/errors"
	"github.com/markdetect/markdetect-go/internal/handles"
	"github.com/markdetect/markdetect-go/internal/payload"
)

// State is the processing state of one media kind.
type State int

// Processing states.
const (
	Idle State = iota
	InFlight
	Succeeded
	Failed
)

var stateNames = [...]string{"idle", "in_flight", "succeeded", "failed"}

// String implements fmt.Stringer.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Result holds the handles produced by one successful submission. Download and
// Annotations are nil when the kind or payload shape does not produce them.
type Result struct {
	RequestID   string
	Shape       string
	Display     *handles.Handle
	Download    *handles.Handle
	Annotations *handles.Handle
}

// Handles returns the non-nil handles of r.
func (r *Result) Handles() []*handles.Handle {
	if r == nil {
		return nil
	}
	out := make([]*handles.Handle, 0, 3)
	for _, h := range []*handles.Handle{r.Display, r.Download, r.Annotations} {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

// Snapshot is a point-in-time view of a flow for the presentation layer.
type Snapshot struct {
	Kind      MediaKind            `json:"kind"`
	State     State                `json:"state"`
	RequestID string               `json:"requestId,omitempty"`
	Shape     string               `json:"shape,omitempty"`
	Error     string               `json:"error,omitempty"`  // user-facing message
	Detail    string               `json:"detail,omitempty"` // underlying error text
	Handles   []handles.Descriptor `json:"handles"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// Flow is the per-kind state machine. At most one submission per flow is in
// flight; the semaphore enforces it without blocking.
type Flow struct {
	kind       MediaKind
	endpoint   string
	bundleName string
	classifier *payload.Classifier
	sem        *semaphore.Weighted

	mu        sync.RWMutex
	state     State
	lastErr   error
	result    *Result // last successful result, kept across failures
	requestID string  // most recent submission
	updatedAt time.Time
}

func newFlow(kind MediaKind, endpoint, bundleName string, classifier *payload.Classifier) *Flow {
	return &Flow{
		kind:       kind,
		endpoint:   endpoint,
		bundleName: bundleName,
		classifier: classifier,
		sem:        semaphore.NewWeighted(1),
		state:      Idle,
		updatedAt:  time.Now(),
	}
}

// Kind returns the flow's media kind.
func (f *Flow) Kind() MediaKind { return f.kind }

// State returns the current state.
func (f *Flow) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Result returns the last successful result, or nil.
func (f *Flow) Result() *Result {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.result
}

// LastError returns the error of the last failed submission. It is cleared when
// a submission succeeds.
func (f *Flow) LastError() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastErr
}

// Snapshot returns the current view of the flow. Only live handles are listed.
func (f *Flow) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()

	snap := Snapshot{
		Kind:      f.kind,
		State:     f.state,
		RequestID: f.requestID,
		Error:     errors.UserMessage(f.lastErr),
		Handles:   []handles.Descriptor{},
		UpdatedAt: f.updatedAt,
	}
	if f.lastErr != nil {
		snap.Detail = f.lastErr.Error()
	}
	if f.result != nil {
		snap.Shape = f.result.Shape
		for _, h := range f.result.Handles() {
			if !h.Revoked() {
				snap.Handles = append(snap.Handles, h.Descriptor())
			}
		}
	}
	return snap
}

// tryStart moves the flow to InFlight unless a submission is already running.
func (f *Flow) tryStart(requestID string) bool {
	if !f.sem.TryAcquire(1) {
		return false
	}
	f.mu.Lock()
	f.state = InFlight
	f.requestID = requestID
	f.updatedAt = time.Now()
	f.mu.Unlock()
	return true
}

func (f *Flow) succeed(res *Result) {
	f.mu.Lock()
	f.state = Succeeded
	f.result = res
	f.lastErr = nil
	f.updatedAt = time.Now()
	f.mu.Unlock()
	f.sem.Release(1)
}

// fail records err and leaves the previous result untouched.
func (f *Flow) fail(err error) {
	f.mu.Lock()
	f.state = Failed
	f.lastErr = err
	f.updatedAt = time.Now()
	f.mu.Unlock()
	f.sem.Release(1)
}

// reset clears the flow back to Idle and returns the result it held.
func (f *Flow) reset() *Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := f.result
	f.state = Idle
	f.result = nil
	f.lastErr = nil
	f.requestID = ""
	f.updatedAt = time.Now()
	return res
}
