package boot

import "sync"

// Phase is one stage of the startup pipeline.
type Phase string

const (
	PhaseDiscovering     Phase = "discovering"
	PhaseLoadingSegments Phase = "loading_segments"
	PhaseReady           Phase = "ready"
	PhaseFailed          Phase = "failed"
)

// Status is the externally visible loading state.
type Status struct {
	Phase  Phase  `json:"phase"`
	Done   int    `json:"done,omitempty"`
	Total  int    `json:"total,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// LoadingState tracks boot progress for health checks. The load
// goroutine is the only writer.
type LoadingState struct {
	mu     sync.RWMutex
	status Status
}

func NewLoadingState() *LoadingState {
	return &LoadingState{status: Status{Phase: PhaseDiscovering}}
}

func (l *LoadingState) SetDiscovering() {
	l.mu.Lock()
	l.status = Status{Phase: PhaseDiscovering}
	l.mu.Unlock()
}

func (l *LoadingState) SetLoading(done, total int) {
	l.mu.Lock()
	l.status = Status{Phase: PhaseLoadingSegments, Done: done, Total: total}
	l.mu.Unlock()
}

func (l *LoadingState) SetReady() {
	l.mu.Lock()
	l.status = Status{Phase: PhaseReady}
	l.mu.Unlock()
}

func (l *LoadingState) SetFailed(reason string) {
	l.mu.Lock()
	l.status = Status{Phase: PhaseFailed, Reason: reason}
	l.mu.Unlock()
}

func (l *LoadingState) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

func (l *LoadingState) Ready() bool {
	return l.Status().Phase == PhaseReady
}
