// Package entity defines the core entities used in the application.
package entity

import (
	"log/slog"
)

// Job is one named resource to fetch into a destination file.
type Job struct {
	Name        string `json:"name"        yaml:"name"`
	Source      string `json:"source"      yaml:"url"`
	Destination string `json:"destination" yaml:"-"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (j Job) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", j.Name),
		slog.String("source", j.Source),
		slog.String("destination", j.Destination),
	)
}

// ProgressSample is a single byte-count event emitted while a job is fetched.
// An empty sample after progress marks a transfer that started over.
type ProgressSample struct {
	Downloaded int64
	Total      int64 // <= 0 when unknown
	Finished   bool
}

// TotalKnown reports whether the sample carries a usable total.
func (s ProgressSample) TotalKnown() bool {
	return s.Total > 0
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (s ProgressSample) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("downloaded", s.Downloaded),
		slog.Int64("total", s.Total),
		slog.Bool("finished", s.Finished),
	)
}

// OutcomeStatus is the terminal status of a job.
type OutcomeStatus string

const (
	// OutcomeSuccess indicates that the job produced its destination file.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeFailure indicates that the job failed, including cancellation.
	OutcomeFailure OutcomeStatus = "failure"
)

// Outcome is the terminal record of one job within a batch.
type Outcome struct {
	JobName string        `json:"jobName"`
	Status  OutcomeStatus `json:"status"`
	Detail  string        `json:"detail,omitempty"`
}

// Succeeded returns a success outcome for the named job.
func Succeeded(name string) Outcome {
	return Outcome{JobName: name, Status: OutcomeSuccess}
}

// Failed returns a failure outcome for the named job.
func Failed(name string, err error) Outcome {
	out := Outcome{JobName: name, Status: OutcomeFailure}
	if err != nil {
		out.Detail = err.Error()
	}

	return out
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (o Outcome) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("job", o.JobName),
		slog.String("status", string(o.Status)),
		slog.String("detail", o.Detail),
	)
}

// BatchResult lists job names by outcome, in the order outcomes were recorded.
type BatchResult struct {
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
}

// Total returns the number of jobs the result accounts for.
func (r BatchResult) Total() int {
	return len(r.Succeeded) + len(r.Failed)
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (r BatchResult) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("ok", len(r.Succeeded)),
		slog.Int("fail", len(r.Failed)),
		slog.Any("succeeded", r.Succeeded),
		slog.Any("failed", r.Failed),
	)
}
