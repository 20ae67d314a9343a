package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reportd/reportd/pkg/models"
	"github.com/reportd/reportd/pkg/persistence"
)

// Evaluator decides whether a schedule is due at a given instant. The
// decision combines the frequency's calendar pattern, the schedule's
// start constraints and a same-minute dedup guard, so re-running an
// evaluation within one minute never double-fires.
type Evaluator struct {
	persistence persistence.Persistence
}

func NewEvaluator(persist persistence.Persistence) *Evaluator {
	return &Evaluator{persistence: persist}
}

// IsDue reports whether the schedule should fire at now.
func (e *Evaluator) IsDue(ctx context.Context, schedule *models.Schedule, now time.Time) (bool, error) {
	if !schedule.IsActive || !schedule.StartedBy(now) {
		return false, nil
	}

	due, err := e.frequencyDue(ctx, schedule, now)
	if err != nil {
		return false, err
	}

	if !due {
		return false, nil
	}

	// At most one firing per minute, no matter how often the evaluator runs.
	minuteStart := now.Truncate(time.Minute)

	fired, err := e.persistence.HasExecutionSince(ctx, schedule.ID, minuteStart)
	if err != nil {
		return false, fmt.Errorf("failed to check recent firings for schedule %s: %w", schedule.ID, err)
	}

	return !fired, nil
}

func (e *Evaluator) frequencyDue(ctx context.Context, schedule *models.Schedule, now time.Time) (bool, error) {
	if schedule.Frequency != models.FrequencyCustomHours {
		return schedule.Frequency.Matches(schedule.FrequencyOptions, now), nil
	}

	interval := schedule.FrequencyOptions.IntervalHours
	if interval < 1 {
		return false, models.ErrInvalidFrequency
	}

	latest, err := e.persistence.LatestExecutionForSchedule(ctx, schedule.ID)
	if err != nil {
		// No prior execution: an interval schedule fires immediately.
		if errors.Is(err, persistence.ErrExecutionNotFound) {
			return true, nil
		}

		return false, fmt.Errorf("failed to load latest execution for schedule %s: %w", schedule.ID, err)
	}

	elapsed := now.Sub(latest.CreatedAt)

	return elapsed >= time.Duration(interval)*time.Hour, nil
}
