package engine_test

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"sprintsheet/internal/config"
	"sprintsheet/internal/domain"
	"sprintsheet/internal/engine"
	"sprintsheet/internal/events"
	"sprintsheet/internal/report"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Log    *bytes.Buffer
}

func newTestEnv(t *testing.T, reg domain.Registry) testEnv {
	t.Helper()
	var buf bytes.Buffer
	eng := engine.New(reg, events.NewLogger(&buf, "debug", "json"))
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background(), Log: &buf}
}

// twoSprints is 2 sprints with 3 tasks: two in sprint 1, one in sprint 2.
func twoSprints() domain.Registry {
	return domain.Registry{
		Project: "Demo",
		Tasks: []domain.TaskRecord{
			{SprintNumber: 1, SprintName: "One", ID: "1.1", Title: "a", Type: "Feature", AIFlag: "AI", Risk: "Low", StoryPoints: 5},
			{SprintNumber: 1, SprintName: "One", ID: "1.2", Title: "b", Type: "Feature", AIFlag: "Non-AI", Risk: "Low", StoryPoints: 3},
			{SprintNumber: 2, SprintName: "Two", ID: "2.1", Title: "c", Type: "Hardening", AIFlag: "Non-AI", Risk: "High", StoryPoints: 2},
		},
		Sprints: []domain.SprintSummary{
			{Number: 1, Name: "One", CapacityPoints: 10, PlannedPoints: 8, TaskCount: 2},
			{Number: 2, Name: "Two", CapacityPoints: 10, PlannedPoints: 2, TaskCount: 1},
		},
	}
}

func TestGenerateEndToEnd(t *testing.T) {
	env := newTestEnv(t, twoSprints())
	path := filepath.Join(t.TempDir(), "out", "tracking.xlsx")
	if err := env.Engine.Generate(env.Ctx, path); err != nil {
		t.Fatalf("generate: %v", err)
	}
	ins, err := report.InspectFile(path)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if ins.Sheets[0].DataRows+1 != 4 {
		t.Fatalf("detail rows = %d, want 4", ins.Sheets[0].DataRows+1)
	}
	if ins.Sheets[1].DataRows+1 != 3 {
		t.Fatalf("summary rows = %d, want 3", ins.Sheets[1].DataRows+1)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if v, _ := f.GetCellValue(report.SummarySheet, "E2"); v != "2" {
		t.Fatalf("sprint 1 tasks = %q, want 2", v)
	}
	if !strings.Contains(env.Log.String(), "report.generated") {
		t.Fatalf("expected report.generated event, got %s", env.Log.String())
	}
}

func TestUndeclaredSprintFailsBeforeWrite(t *testing.T) {
	reg := twoSprints()
	reg.Tasks = append(reg.Tasks, domain.TaskRecord{SprintNumber: 9, SprintName: "Nine", ID: "9.1", Title: "x", Type: "Feature", AIFlag: "AI", Risk: "Low"})
	env := newTestEnv(t, reg)
	path := filepath.Join(t.TempDir(), "tracking.xlsx")
	err := env.Engine.Generate(env.Ctx, path)
	if !errors.Is(err, engine.ErrIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
	var ie *engine.IntegrityError
	if !errors.As(err, &ie) || ie.TaskID != "9.1" || ie.SprintNumber != 9 {
		t.Fatalf("error should name task 9.1 / sprint 9: %v", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("no output expected on integrity failure")
	}
}

func TestGenerateReturnsWriteErrorUnwrapped(t *testing.T) {
	env := newTestEnv(t, twoSprints())
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(blocker, "out.xlsx")
	err := env.Engine.Generate(env.Ctx, path)
	var pathErr *fs.PathError
	if !errors.As(err, &pathErr) {
		t.Fatalf("expected *fs.PathError, got %T: %v", err, err)
	}
	if _, ok := err.(*fs.PathError); !ok {
		t.Fatalf("write error should not be wrapped: %v", err)
	}
	if errors.Is(err, engine.ErrIntegrity) {
		t.Fatalf("write failure must not look like an integrity error")
	}
	if _, statErr := os.Stat(path); statErr == nil {
		t.Fatalf("nothing should be written at %s", path)
	}
	if strings.Contains(env.Log.String(), "report.generated") {
		t.Fatalf("no report.generated event expected on write failure")
	}
}

func TestDuplicateSprintIsNotAlsoDrift(t *testing.T) {
	reg := twoSprints()
	reg.Sprints = append(reg.Sprints, domain.SprintSummary{Number: 2, Name: "Two", CapacityPoints: 10, PlannedPoints: 7, TaskCount: 4})
	env := newTestEnv(t, reg)
	res := env.Engine.Check(env.Ctx)
	if len(res.Problems) != 1 || res.Problems[0].SprintNumber != 2 || res.Problems[0].Reason != "sprint declared more than once" {
		t.Fatalf("unexpected problems: %+v", res.Problems)
	}
	if len(res.Drift) != 0 {
		t.Fatalf("duplicated sprint should not report drift: %+v", res.Drift)
	}
}

func TestCheckFindsInconsistencies(t *testing.T) {
	reg := twoSprints()
	reg.Tasks[1].ID = "1.1"
	reg.Tasks[2].SprintName = "Second"
	reg.Sprints = append(reg.Sprints, domain.SprintSummary{Number: 3, Name: "Empty"})
	env := newTestEnv(t, reg)
	res := env.Engine.Check(env.Ctx)
	reasons := map[string]bool{}
	for _, p := range res.Problems {
		reasons[p.Reason] = true
	}
	for _, want := range []string{"duplicate task id", "sprint has no tasks"} {
		if !reasons[want] {
			t.Fatalf("missing %q in %+v", want, res.Problems)
		}
	}
	found := false
	for _, p := range res.Problems {
		if p.TaskID == "2.1" && strings.Contains(p.Reason, "does not match") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected sprint name mismatch for 2.1: %+v", res.Problems)
	}
}

func TestDriftIsWarningUnlessStrict(t *testing.T) {
	reg := twoSprints()
	reg.Sprints[0].PlannedPoints = 10
	env := newTestEnv(t, reg)
	res := env.Engine.Check(env.Ctx)
	if res.Err() != nil {
		t.Fatalf("drift should not block by default: %v", res.Err())
	}
	if len(res.Drift) != 1 || res.Drift[0].Field != "planned_points" || res.Drift[0].FromTasks != 8 {
		t.Fatalf("unexpected drift: %+v", res.Drift)
	}
	if !strings.Contains(env.Log.String(), "plan.drift") {
		t.Fatalf("expected drift warning in log")
	}

	env.Engine.Strict = true
	if err := env.Engine.Check(env.Ctx).Err(); !errors.Is(err, engine.ErrIntegrity) {
		t.Fatalf("strict drift should fail, got %v", err)
	}
}

func TestGenerationIsIdempotent(t *testing.T) {
	cfg := config.Default()
	env := newTestEnv(t, cfg.Registry())
	dir := t.TempDir()
	first, second := filepath.Join(dir, "a.xlsx"), filepath.Join(dir, "b.xlsx")
	if err := env.Engine.Generate(env.Ctx, first); err != nil {
		t.Fatal(err)
	}
	env.Engine.Now = time.Now
	if err := env.Engine.Generate(env.Ctx, second); err != nil {
		t.Fatal(err)
	}
	a, b := openRows(t, first), openRows(t, second)
	if len(a) != len(b) {
		t.Fatalf("sheet count differs")
	}
	for sheet, rowsA := range a {
		rowsB := b[sheet]
		if len(rowsA) != len(rowsB) {
			t.Fatalf("%s: row count differs", sheet)
		}
		for i := range rowsA {
			if strings.Join(rowsA[i], "\x1f") != strings.Join(rowsB[i], "\x1f") {
				t.Fatalf("%s row %d differs", sheet, i+1)
			}
		}
	}
	insA, _ := report.InspectFile(first)
	insB, _ := report.InspectFile(second)
	if insA.Identifier == "" || insA.Identifier != insB.Identifier {
		t.Fatalf("identifiers differ: %q vs %q", insA.Identifier, insB.Identifier)
	}
}

func TestIdentifierTracksContent(t *testing.T) {
	a := newTestEnv(t, twoSprints()).Engine
	reg := twoSprints()
	reg.Tasks[0].Title = "changed"
	b := newTestEnv(t, reg).Engine
	idA, err := a.Identifier()
	if err != nil {
		t.Fatal(err)
	}
	idB, err := b.Identifier()
	if err != nil {
		t.Fatal(err)
	}
	if idA == idB {
		t.Fatalf("identifier should change with content")
	}
}

func openRows(t *testing.T, path string) map[string][][]string {
	t.Helper()
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	out := map[string][][]string{}
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			t.Fatal(err)
		}
		for r := 2; r <= len(rows); r++ {
			if formula, _ := f.GetCellFormula(name, "G"+strconv.Itoa(r)); formula != "" {
				rows[r-1] = append(rows[r-1], formula)
			}
		}
		out[name] = rows
	}
	return out
}
