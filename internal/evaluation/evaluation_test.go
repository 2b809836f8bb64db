package evaluation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/tutor/internal/model"
)

func subs(scores []float64, durations []int) []model.Submission {
	out := make([]model.Submission, len(scores))
	for i := range scores {
		out[i] = model.Submission{Score: scores[i], DurationMinutes: durations[i]}
	}
	return out
}

func TestCompute(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		subs      []model.Submission
		wantTotal float64
		wantRate  model.Rating
	}{
		{"no submissions", nil, 0, model.RatingWeak},
		{
			// participation 0.5, competence 2, discipline 1
			"one perfect on time", subs([]float64{10}, []int{10}), 3.5, model.RatingFair,
		},
		{
			// participation 2, competence 2, discipline 1
			"eight perfect on time",
			subs([]float64{10, 10, 10, 10, 10, 10, 10, 10}, []int{5, 5, 5, 5, 5, 5, 5, 5}),
			5, model.RatingExcellent,
		},
		{
			// avg 8: participation 1, competence 1.5, discipline 1
			"three good", subs([]float64{8, 8, 8}, []int{15, 15, 15}), 3.5, model.RatingFair,
		},
		{
			// avg 9: participation 1.5, competence 2, discipline 1
			"five strong", subs([]float64{9, 9, 9, 9, 9}, []int{1, 2, 3, 4, 5}), 4.5, model.RatingGood,
		},
		{
			// avg 4 caps the rating even with full participation
			"many weak", subs([]float64{4, 4, 4, 4, 4, 4, 4, 4}, []int{5, 5, 5, 5, 5, 5, 5, 5}), 3, model.RatingAverage,
		},
		{
			"few weak and late", subs([]float64{3, 4}, []int{30, 30}), 0.5, model.RatingWeak,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Compute("stu1", "2025-03-01", tt.subs, now)
			if e.TotalScore != tt.wantTotal {
				t.Errorf("TotalScore = %v, want %v", e.TotalScore, tt.wantTotal)
			}
			if e.Rating != tt.wantRate {
				t.Errorf("Rating = %q, want %q", e.Rating, tt.wantRate)
			}
			if e.Comment == "" {
				t.Error("every rating should carry a comment")
			}
			if e.TotalSubmissions != len(tt.subs) || e.Date != "2025-03-01" || !e.UpdatedAt.Equal(now) {
				t.Errorf("unexpected bookkeeping %+v", e)
			}
		})
	}
}

func TestComputeOnTimeRate(t *testing.T) {
	e := Compute("s", "d", subs([]float64{5, 5, 5}, []int{10, 15, 16}), time.Now())
	if e.OnTimeRate != 66.67 {
		t.Errorf("OnTimeRate = %v, want 66.67", e.OnTimeRate)
	}
	if e.DisciplineScore != 0.25 {
		t.Errorf("DisciplineScore = %v, want 0.25", e.DisciplineScore)
	}
}

func TestRate(t *testing.T) {
	tests := []struct {
		avg, total float64
		want       model.Rating
	}{
		{4.9, 2.9, model.RatingWeak},
		{4.9, 3, model.RatingAverage},
		{6, 2, model.RatingAverage},
		{6, 3.5, model.RatingFair},
		{7, 1, model.RatingAverage},
		{7, 3.9, model.RatingFair},
		{8, 4.5, model.RatingGood},
		{9.5, 5, model.RatingExcellent},
	}
	for _, tt := range tests {
		if got := Rate(tt.avg, tt.total); got != tt.want {
			t.Errorf("Rate(%v, %v) = %q, want %q", tt.avg, tt.total, got, tt.want)
		}
	}
}

type fakeStore struct {
	mu    sync.Mutex
	subs  []model.Submission
	err   error
	saved []model.Evaluation
}

func (f *fakeStore) ListSubmissionsOnDay(string, string) ([]model.Submission, error) {
	return f.subs, f.err
}

func (f *fakeStore) UpsertEvaluation(e model.Evaluation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, e)
	return nil
}

func (f *fakeStore) Now() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }

func TestRecompute(t *testing.T) {
	fs := &fakeStore{subs: subs([]float64{10}, []int{3})}
	e, err := NewService(fs).Recompute("stu1", "2025-03-01")
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if len(fs.saved) != 1 || fs.saved[0].StudentID != "stu1" || e.AvgScore != 10 {
		t.Errorf("unexpected saved evaluations %+v", fs.saved)
	}

	fs.err = errors.New("db locked")
	if _, err := NewService(fs).Recompute("stu1", "2025-03-01"); err == nil {
		t.Error("expected error from store")
	}
}

func TestNotifier(t *testing.T) {
	fs := &fakeStore{subs: subs([]float64{7}, []int{3})}
	var mu sync.Mutex
	var updated []string

	n := NewNotifier(NewService(fs), 4, func(id string) {
		mu.Lock()
		updated = append(updated, id)
		mu.Unlock()
	})
	n.Start(context.Background())
	n.Notify("stu1", "2025-03-01")
	n.Notify("stu2", "2025-03-01")
	n.Close()

	if len(fs.saved) != 2 {
		t.Errorf("expected 2 recomputes, got %d", len(fs.saved))
	}
	if len(updated) != 2 || updated[0] != "stu1" || updated[1] != "stu2" {
		t.Errorf("unexpected callbacks %v", updated)
	}
}

func TestNotifierDropsWhenFull(t *testing.T) {
	fs := &fakeStore{}
	n := NewNotifier(NewService(fs), 1, nil)
	// Worker not started, so the second job has nowhere to go.
	n.Notify("stu1", "d")
	n.Notify("stu2", "d")
	if len(n.jobs) != 1 {
		t.Errorf("expected 1 queued job, got %d", len(n.jobs))
	}
}

func TestNotifierSkipsCallbackOnError(t *testing.T) {
	fs := &fakeStore{err: errors.New("boom")}
	called := false
	n := NewNotifier(NewService(fs), 1, func(string) { called = true })
	n.Start(context.Background())
	n.Notify("stu1", "d")
	n.Close()
	if called {
		t.Error("callback must not run when recompute fails")
	}
}
