package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pavelanni/tutor/internal/model"
)

// Store is the persistence the evaluation service needs.
type Store interface {
	ListSubmissionsOnDay(studentID, day string) ([]model.Submission, error)
	UpsertEvaluation(e model.Evaluation) error
	Now() time.Time
}

// Service recomputes and saves daily evaluations.
type Service struct {
	store Store
}

// NewService creates a Service.
func NewService(s Store) *Service {
	return &Service{store: s}
}

// Recompute rebuilds the evaluation for studentID on day (YYYY-MM-DD) from
// every submission of that day and saves it.
func (s *Service) Recompute(studentID, day string) (*model.Evaluation, error) {
	subs, err := s.store.ListSubmissionsOnDay(studentID, day)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	e := Compute(studentID, day, subs, s.store.Now())
	if err := s.store.UpsertEvaluation(e); err != nil {
		return nil, fmt.Errorf("save evaluation: %w", err)
	}
	return &e, nil
}

// Job asks for one student-day to be recomputed.
type Job struct {
	StudentID string
	Day       string
}

// Notifier runs recomputations off the request path. Grading must not wait
// on or fail because of evaluation work, so jobs are dropped when the queue
// is full and errors are only logged.
type Notifier struct {
	svc       *Service
	onUpdated func(studentID string)
	jobs      chan Job

	closeOnce sync.Once
	done      chan struct{}
}

// NewNotifier creates a Notifier with a queue of size buffer. onUpdated,
// if not nil, runs after each successful recompute.
func NewNotifier(svc *Service, buffer int, onUpdated func(studentID string)) *Notifier {
	if buffer <= 0 {
		buffer = 64
	}
	return &Notifier{
		svc:       svc,
		onUpdated: onUpdated,
		jobs:      make(chan Job, buffer),
		done:      make(chan struct{}),
	}
}

// Start launches the worker. It stops when ctx is cancelled or Close is
// called, after draining queued jobs.
func (n *Notifier) Start(ctx context.Context) {
	go func() {
		defer close(n.done)
		for {
			select {
			case job, ok := <-n.jobs:
				if !ok {
					return
				}
				n.run(job)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Notify queues a recompute without blocking.
func (n *Notifier) Notify(studentID, day string) {
	select {
	case n.jobs <- Job{StudentID: studentID, Day: day}:
	default:
		slog.Warn("evaluation queue full, dropping recompute", "student_id", studentID, "day", day)
	}
}

// Close stops accepting jobs and waits for the worker to finish. Notify
// must not be called after Close.
func (n *Notifier) Close() {
	n.closeOnce.Do(func() {
		close(n.jobs)
	})
	<-n.done
}

func (n *Notifier) run(job Job) {
	e, err := n.svc.Recompute(job.StudentID, job.Day)
	if err != nil {
		slog.Error("recompute evaluation", "student_id", job.StudentID, "day", job.Day, "error", err)
		return
	}
	slog.Debug("evaluation updated", "student_id", job.StudentID, "day", job.Day, "rating", e.Rating, "total", e.TotalScore)
	if n.onUpdated != nil {
		n.onUpdated(job.StudentID)
	}
}
