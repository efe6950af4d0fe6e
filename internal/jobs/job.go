package jobs

import (
	"context"
	"sync"
	"time"

	"solar-telemetry/internal/apperr"
	"solar-telemetry/internal/artifact"
)

type Kind string

const (
	KindExport Kind = "export"
	KindReport Kind = "report"
)

func (k Kind) Validate() error {
	switch k {
	case KindExport, KindReport:
		return nil
	}
	return apperr.Validation("unknown job kind %q", string(k))
}

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Stage is one discrete step of a pipeline. Progress is the job progress
// reported once the stage has finished.
type Stage struct {
	Name     string
	Message  string
	Progress int
	Run      func(ctx context.Context) error
}

// Pipeline is an ordered list of stages plus the accessor for the finished artifact.
type Pipeline struct {
	Stages []Stage
	Result func() (*artifact.Artifact, error)
}

type ErrorInfo struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

// Snapshot is an immutable copy of a job's state.
type Snapshot struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Kind        Kind       `json:"kind"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	Stage       string     `json:"stage,omitempty"`
	Message     string     `json:"message,omitempty"`
	Error       *ErrorInfo `json:"error,omitempty"`
	Filename    string     `json:"filename,omitempty"`
	MediaType   string     `json:"media_type,omitempty"`
	Size        int        `json:"size,omitempty"`
	ArtifactURL string     `json:"artifact_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

type job struct {
	mu sync.Mutex

	id        string
	owner     string
	kind      Kind
	status    Status
	progress  int
	stage     string
	message   string
	err       error
	artifact  *artifact.Artifact
	url       string
	createdAt time.Time
	finished  time.Time

	cancelRequested bool
	cancel          context.CancelFunc
	done            chan struct{}
}

func (j *job) snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

func (j *job) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:        j.id,
		OwnerID:   j.owner,
		Kind:      j.kind,
		Status:    j.status,
		Progress:  j.progress,
		Stage:     j.stage,
		Message:   j.message,
		CreatedAt: j.createdAt,
	}
	if j.err != nil {
		s.Error = &ErrorInfo{Kind: apperr.KindOf(j.err), Message: apperr.Message(j.err)}
	}
	if j.artifact != nil {
		s.Filename = j.artifact.Filename
		s.MediaType = j.artifact.MediaType
		s.Size = j.artifact.Size()
		s.ArtifactURL = j.url
	}
	if !j.finished.IsZero() {
		f := j.finished
		s.FinishedAt = &f
	}
	return s
}

// enterStage records the stage being worked on. Progress is left unchanged.
func (j *job) enterStage(name, message string) Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stage = name
	j.message = message
	return j.snapshotLocked()
}

// advance raises progress to p; progress never decreases.
func (j *job) advance(p int) {
	if p > 100 {
		p = 100
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if p > j.progress {
		j.progress = p
	}
}

func (j *job) cancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelRequested
}
