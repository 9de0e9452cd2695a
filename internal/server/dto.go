package server

import (
	"sprintsheet/internal/domain"
	"sprintsheet/internal/engine"
)

// Response payloads

type SprintsResponse struct {
	Project string                 `json:"project"`
	Items   []domain.SprintSummary `json:"items"`
}

type TasksResponse struct {
	Project string              `json:"project"`
	Items   []domain.TaskRecord `json:"items"`
}

type CheckProblem struct {
	TaskID       string `json:"task_id,omitempty"`
	SprintNumber int    `json:"sprint_number"`
	Reason       string `json:"reason"`
}

type CheckResponse struct {
	OK       bool           `json:"ok"`
	Problems []CheckProblem `json:"problems"`
	Drift    []domain.Drift `json:"drift"`
}

func toCheckResponse(res engine.CheckResult) CheckResponse {
	out := CheckResponse{
		OK:       res.Err() == nil,
		Problems: make([]CheckProblem, 0, len(res.Problems)),
		Drift:    res.Drift,
	}
	if out.Drift == nil {
		out.Drift = []domain.Drift{}
	}
	for _, p := range res.Problems {
		out.Problems = append(out.Problems, CheckProblem{TaskID: p.TaskID, SprintNumber: p.SprintNumber, Reason: p.Reason})
	}
	return out
}
