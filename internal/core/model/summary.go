package model

import "time"

// Stage is a job's position in the per-run state machine.
type Stage string

const (
	StagePending   Stage = "pending"
	StageFetching  Stage = "fetching"
	StageAnalyzing Stage = "analyzing"
	StageDeduping  Stage = "deduping"
	StageNotifying Stage = "notifying"
	StageDone      Stage = "done"
	StageFailed    Stage = "failed"
)

// Failure records where and why a job stopped.
type Failure struct {
	Stage   Stage  `json:"stage"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// JobResult is the per-job part of a run summary.
type JobResult struct {
	JobID            string   `json:"job_id"`
	Name             string   `json:"name"`
	State            Stage    `json:"state"`
	Failure          *Failure `json:"failure,omitempty"`
	Messages         int      `json:"messages"`
	Orphans          int      `json:"orphans"`
	TruncatedThreads int      `json:"truncated_threads"`
	Findings         int      `json:"findings"`
	DroppedFindings  int      `json:"dropped_findings"`
	Suppressed       int      `json:"suppressed"`
	Notified         int      `json:"notified"`
	Undeliverable    int      `json:"undeliverable"`
	DeliveryFailures int      `json:"delivery_failures"`
}

// RunSummary is the observable output of one run.
type RunSummary struct {
	RunID             string      `json:"run_id"`
	Trigger           string      `json:"trigger"`
	StartedAt         time.Time   `json:"started_at"`
	FinishedAt        time.Time   `json:"finished_at"`
	JobsCompleted     int         `json:"jobs_completed"`
	JobsFailed        int         `json:"jobs_failed"`
	FindingsSurfaced  int         `json:"findings_surfaced"`
	NotificationsSent int         `json:"notifications_sent"`
	Undeliverable     int         `json:"undeliverable"`
	DeliveryFailures  int         `json:"delivery_failures"`
	Truncations       int         `json:"truncations"`
	Error             string      `json:"error,omitempty"`
	Jobs              []JobResult `json:"jobs"`
}

// Failures returns the failed jobs' results.
func (s RunSummary) Failures() []JobResult {
	var failed []JobResult
	for _, j := range s.Jobs {
		if j.State == StageFailed {
			failed = append(failed, j)
		}
	}
	return failed
}

// Tally fills the aggregate counters from Jobs.
func (s *RunSummary) Tally() {
	s.JobsCompleted, s.JobsFailed = 0, 0
	s.FindingsSurfaced, s.NotificationsSent = 0, 0
	s.Undeliverable, s.DeliveryFailures, s.Truncations = 0, 0, 0
	for _, j := range s.Jobs {
		switch j.State {
		case StageDone:
			s.JobsCompleted++
		case StageFailed:
			s.JobsFailed++
		}
		s.FindingsSurfaced += j.Findings
		s.NotificationsSent += j.Notified
		s.Undeliverable += j.Undeliverable
		s.DeliveryFailures += j.DeliveryFailures
		if j.TruncatedThreads > 0 {
			s.Truncations++
		}
	}
}
