package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"sprintsheet/internal/domain"
	"sprintsheet/internal/events"
	"sprintsheet/internal/report"
)

// ErrIntegrity matches every *IntegrityError.
var ErrIntegrity = errors.New("plan integrity")

// IntegrityError reports a registry inconsistency found before generation.
type IntegrityError struct {
	TaskID       string `json:"task_id,omitempty"`
	SprintNumber int    `json:"sprint_number"`
	Reason       string `json:"reason"`
}

func (e *IntegrityError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("task %s (sprint %d): %s", e.TaskID, e.SprintNumber, e.Reason)
	}
	return fmt.Sprintf("sprint %d: %s", e.SprintNumber, e.Reason)
}

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

// identifierSpace namespaces workbook identifiers derived from plan content.
var identifierSpace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("sprintsheet"))

type Engine struct {
	Registry domain.Registry
	Events   events.Writer
	// Strict turns planned-points and task-count drift into integrity errors.
	Strict bool
	Now    func() time.Time
}

func New(reg domain.Registry, logger *slog.Logger) Engine {
	return Engine{
		Registry: reg,
		Events:   events.Writer{Logger: logger},
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// CheckResult holds integrity problems and drift found in the registry.
type CheckResult struct {
	Problems []*IntegrityError `json:"problems"`
	Drift    []domain.Drift    `json:"drift"`
}

// Err returns the first blocking problem, or nil.
func (r CheckResult) Err() error {
	if len(r.Problems) == 0 {
		return nil
	}
	return r.Problems[0]
}

// Check cross-references tasks and sprints. Drift is reported as a problem
// only when the engine is strict.
func (e Engine) Check(ctx context.Context) CheckResult {
	var res CheckResult
	sprints := map[int]domain.SprintSummary{}
	duplicated := map[int]bool{}
	for _, s := range e.Registry.Sprints {
		if _, dup := sprints[s.Number]; dup {
			res.Problems = append(res.Problems, &IntegrityError{SprintNumber: s.Number, Reason: "sprint declared more than once"})
			duplicated[s.Number] = true
			continue
		}
		sprints[s.Number] = s
	}
	seen := map[string]bool{}
	points := map[int]int{}
	counts := map[int]int{}
	for _, t := range e.Registry.Tasks {
		if seen[t.ID] {
			res.Problems = append(res.Problems, &IntegrityError{TaskID: t.ID, SprintNumber: t.SprintNumber, Reason: "duplicate task id"})
		}
		seen[t.ID] = true
		s, ok := sprints[t.SprintNumber]
		if !ok {
			res.Problems = append(res.Problems, &IntegrityError{TaskID: t.ID, SprintNumber: t.SprintNumber, Reason: "sprint not declared in summary list"})
			continue
		}
		if t.SprintName != s.Name {
			res.Problems = append(res.Problems, &IntegrityError{
				TaskID:       t.ID,
				SprintNumber: t.SprintNumber,
				Reason:       fmt.Sprintf("sprint name %q does not match declared %q", t.SprintName, s.Name),
			})
		}
		points[t.SprintNumber] += t.StoryPoints
		counts[t.SprintNumber]++
	}
	checked := map[int]bool{}
	for _, s := range e.Registry.SprintsByNumber() {
		if checked[s.Number] {
			continue
		}
		checked[s.Number] = true
		if counts[s.Number] == 0 {
			res.Problems = append(res.Problems, &IntegrityError{SprintNumber: s.Number, Reason: "sprint has no tasks"})
			continue
		}
		// Duplicated sprints are reported once, without drift.
		if duplicated[s.Number] {
			continue
		}
		if s.PlannedPoints != points[s.Number] {
			res.Drift = append(res.Drift, domain.Drift{SprintNumber: s.Number, Field: "planned_points", Supplied: s.PlannedPoints, FromTasks: points[s.Number]})
		}
		if s.TaskCount != counts[s.Number] {
			res.Drift = append(res.Drift, domain.Drift{SprintNumber: s.Number, Field: "task_count", Supplied: s.TaskCount, FromTasks: counts[s.Number]})
		}
	}
	for _, d := range res.Drift {
		if e.Strict {
			res.Problems = append(res.Problems, &IntegrityError{
				SprintNumber: d.SprintNumber,
				Reason:       fmt.Sprintf("%s is %d but tasks add up to %d", d.Field, d.Supplied, d.FromTasks),
			})
			continue
		}
		e.Events.Append(ctx, slog.LevelWarn, "plan.drift", "sprint", fmt.Sprint(d.SprintNumber), events.EventPayload{
			"field":      d.Field,
			"supplied":   d.Supplied,
			"from_tasks": d.FromTasks,
		})
	}
	return res
}

// Identifier derives a stable workbook identifier from the registry content.
func (e Engine) Identifier() (string, error) {
	data, err := json.Marshal(e.Registry)
	if err != nil {
		return "", fmt.Errorf("marshal registry: %w", err)
	}
	return uuid.NewSHA1(identifierSpace, data).String(), nil
}

// Build checks the registry and renders the workbook in memory.
func (e Engine) Build(ctx context.Context) (*excelize.File, error) {
	if err := e.Check(ctx).Err(); err != nil {
		return nil, err
	}
	id, err := e.Identifier()
	if err != nil {
		return nil, err
	}
	return report.Build(e.Registry, report.Properties{
		Title:      e.Registry.Project,
		Identifier: id,
		Created:    e.now(),
	})
}

// Generate builds the workbook and writes it to path. Nothing is written
// when the registry fails its integrity check.
func (e Engine) Generate(ctx context.Context, path string) error {
	f, err := e.Build(ctx)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := report.Save(f, path); err != nil {
		return err
	}
	e.Events.Append(ctx, slog.LevelInfo, "report.generated", "report", path, events.EventPayload{
		"tasks":   len(e.Registry.Tasks),
		"sprints": len(e.Registry.Sprints),
	})
	return nil
}
