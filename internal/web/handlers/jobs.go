package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/kozaktomas/attendance-terminal/internal/constants"
	"github.com/kozaktomas/attendance-terminal/internal/roster"
)

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Event is one server-sent event.
type Event struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting.
// Embed it in job structs, or use it alone for a long-lived feed.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan Event
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// Listeners returns the number of connected listeners.
func (b *EventBroadcaster) Listeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// SendEvent sends an event to all listeners. Slow listeners miss events.
func (b *EventBroadcaster) SendEvent(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
		}
	}
}

// Cancel cancels the job via context and sends a cancelled event.
func (b *EventBroadcaster) Cancel() {
	if b.cancel != nil {
		b.cancel()
	}
	b.SendEvent(Event{Type: "cancelled", Message: "Job cancelled by user"})
}

// SSEJob is the interface required by streamSSEEvents.
type SSEJob interface {
	AddListener() chan Event
	RemoveListener(ch chan Event)
	GetStatus() JobStatus
}

// DeleteJob removes an identity and its attendance history in the background.
type DeleteJob struct {
	EventBroadcaster

	ID          string          `json:"id"`
	Category    roster.Category `json:"category"`
	PersonID    string          `json:"personId"`
	Status      JobStatus       `json:"status"`
	Total       int             `json:"total"`
	Done        int             `json:"done"`
	Deleted     int             `json:"deleted"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// GetStatus returns the current job status (implements SSEJob).
func (j *DeleteJob) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// Snapshot returns a copy of the job fields that is safe to encode.
func (j *DeleteJob) Snapshot() DeleteJob {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return DeleteJob{
		ID:          j.ID,
		Category:    j.Category,
		PersonID:    j.PersonID,
		Status:      j.Status,
		Total:       j.Total,
		Done:        j.Done,
		Deleted:     j.Deleted,
		Error:       j.Error,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

// Cancel cancels the job.
func (j *DeleteJob) Cancel() {
	j.EventBroadcaster.Cancel()
	j.mu.Lock()
	j.Status = JobStatusCancelled
	j.mu.Unlock()
}

func (j *DeleteJob) progress(done, total int) {
	j.mu.Lock()
	j.Status = JobStatusRunning
	j.Done, j.Total = done, total
	j.mu.Unlock()
	j.SendEvent(Event{Type: "progress", Data: map[string]int{"done": done, "total": total}})
}

func (j *DeleteJob) finish(deleted int, err error) {
	now := time.Now()
	j.mu.Lock()
	j.CompletedAt = &now
	j.Deleted = deleted
	if err != nil {
		j.Status = JobStatusFailed
		j.Error = err.Error()
	} else if j.Status != JobStatusCancelled {
		j.Status = JobStatusCompleted
	}
	status := j.Status
	j.mu.Unlock()

	if err != nil {
		j.SendEvent(Event{Type: "job_failed", Message: err.Error()})
		return
	}
	j.SendEvent(Event{Type: "job_" + string(status), Data: map[string]int{"deleted": deleted}})
}

// JobManager manages async jobs.
type JobManager struct {
	jobs map[string]*DeleteJob
	mu   sync.RWMutex
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*DeleteJob),
	}
}

// CreateJob creates a new delete job.
func (m *JobManager) CreateJob(id string, cat roster.Category, personID string) *DeleteJob {
	job := &DeleteJob{
		ID:        id,
		Category:  cat,
		PersonID:  personID,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
	}

	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()

	return job
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *DeleteJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// DeleteJob removes a job.
func (m *JobManager) DeleteJob(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

// ListJobs returns all jobs.
func (m *JobManager) ListJobs() []*DeleteJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*DeleteJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}
