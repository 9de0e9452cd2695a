package domain

import "sort"

// Status values accepted in the tracker's Status column.
const (
	StatusNotStarted   = "Not Started"
	StatusInProgress   = "In Progress"
	StatusCodeComplete = "Code Complete"
	StatusReview       = "Review"
	StatusDone         = "Done"
)

// Statuses lists the tracker statuses in workflow order.
var Statuses = []string{StatusNotStarted, StatusInProgress, StatusCodeComplete, StatusReview, StatusDone}

var (
	TaskTypes = []string{"Feature", "Hardening", "Bug", "Chore", "Spike"}
	AIFlags   = []string{"AI", "Non-AI"}
	Risks     = []string{"Low", "Medium", "High"}
)

type TaskRecord struct {
	SprintNumber int    `json:"sprint_number" yaml:"sprint"`
	SprintName   string `json:"sprint_name" yaml:"sprint_name"`
	ID           string `json:"task_id" yaml:"id"`
	Title        string `json:"title" yaml:"title"`
	UserStory    string `json:"user_story" yaml:"user_story"`
	Area         string `json:"area" yaml:"area"`
	Type         string `json:"task_type" yaml:"type" enum:"Feature,Hardening,Bug,Chore,Spike"`
	AIFlag       string `json:"ai_flag" yaml:"ai" enum:"AI,Non-AI"`
	Risk         string `json:"risk" yaml:"risk" enum:"Low,Medium,High"`
	StoryPoints  int    `json:"story_points" yaml:"points"`
	Dependencies string `json:"dependencies" yaml:"dependencies"`
}

// AcceptanceRef is the backlog checklist reference written next to each task.
func (t TaskRecord) AcceptanceRef() string {
	return "Backlog § Task " + t.ID + " Checklist"
}

type SprintSummary struct {
	Number         int    `json:"sprint_number" yaml:"number"`
	Name           string `json:"sprint_name" yaml:"name"`
	CapacityPoints int    `json:"capacity_points" yaml:"capacity_points"`
	PlannedPoints  int    `json:"planned_points" yaml:"planned_points"`
	TaskCount      int    `json:"task_count" yaml:"task_count"`
	DoneCount      int    `json:"done_count" yaml:"-"`
}

// Remaining mirrors the Remaining formula written to the summary sheet.
func (s SprintSummary) Remaining() int {
	return s.PlannedPoints - s.DoneCount
}

// Registry is the ordered, read-only plan handed to the generator.
type Registry struct {
	Project string          `json:"project"`
	Tasks   []TaskRecord    `json:"tasks"`
	Sprints []SprintSummary `json:"sprints"`
}

// SprintsByNumber returns a copy of the sprint summaries ordered by sprint
// number; equal numbers keep their authored order.
func (r Registry) SprintsByNumber() []SprintSummary {
	out := make([]SprintSummary, len(r.Sprints))
	copy(out, r.Sprints)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// TasksInSprint returns the tasks of one sprint in registry order.
func (r Registry) TasksInSprint(number int) []TaskRecord {
	var out []TaskRecord
	for _, t := range r.Tasks {
		if t.SprintNumber == number {
			out = append(out, t)
		}
	}
	return out
}

// Drift describes a sprint whose supplied totals disagree with its tasks.
type Drift struct {
	SprintNumber int    `json:"sprint_number"`
	Field        string `json:"field" enum:"planned_points,task_count"`
	Supplied     int    `json:"supplied"`
	FromTasks    int    `json:"from_tasks"`
}
