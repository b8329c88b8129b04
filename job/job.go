package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/isdmx/jobbox/sandbox"
)

// Status is the lifecycle state of a job
type Status string

// Job states. done and failed are terminal.
const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
	StatusUnknown Status = "unknown"
)

// Terminal reports whether s is absorbing
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Record field names in the state store hash
const (
	FieldStatus          = "status"
	FieldLanguage        = "language"
	FieldTimeout         = "timeout"
	FieldCreatedAt       = "created_at"
	FieldStartedAt       = "started_at"
	FieldFinishedAt      = "finished_at"
	FieldStdout          = "stdout"
	FieldStderr          = "stderr"
	FieldExitCode        = "exit_code"
	FieldTimedOut        = "timed_out"
	FieldDurationMS      = "duration_ms"
	FieldTruncatedStdout = "truncated_stdout"
	FieldTruncatedStderr = "truncated_stderr"
	FieldError           = "error"
)

// DefaultFailureMessage is reported for a failed job with no recorded error
const DefaultFailureMessage = "Job failed"

// Errors returned by Service
var (
	ErrNotFound     = errors.New("job not found")
	ErrUnauthorized = errors.New("invalid API key")
)

// ValidationError rejects a submission before any record exists
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Descriptor is the queue wire format of one job
type Descriptor struct {
	JobID    string `json:"job_id"`
	Language string `json:"language"`
	Code     string `json:"code"`
	Timeout  int    `json:"timeout"`
}

// Encode serializes d for the work queue
func (d Descriptor) Encode() ([]byte, error) {
	return json.Marshal(d)
}

// DecodeDescriptor parses a queue payload. A payload without a job id is malformed.
func DecodeDescriptor(payload []byte) (Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(payload, &d); err != nil {
		return Descriptor{}, fmt.Errorf("failed to decode job payload: %w", err)
	}
	d.JobID = strings.TrimSpace(d.JobID)
	if d.JobID == "" {
		return Descriptor{}, errors.New("job payload missing job_id")
	}
	return d, nil
}

// Record is the parsed view of a job hash
type Record struct {
	JobID      string
	Status     Status
	Language   string
	Timeout    int
	CreatedAt  *float64
	StartedAt  *float64
	FinishedAt *float64
	// Result is set only for done jobs.
	Result *sandbox.Result
	// Error is set only for failed jobs.
	Error string
}

// Timestamp renders t as fractional epoch seconds
func Timestamp(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', 6, 64)
}

// ResultFields flattens r into string fields; booleans become "1"/"0"
func ResultFields(r sandbox.Result) map[string]string {
	return map[string]string{
		FieldStdout:          r.Stdout,
		FieldStderr:          r.Stderr,
		FieldExitCode:        strconv.Itoa(r.ExitCode),
		FieldTimedOut:        formatBool(r.TimedOut),
		FieldDurationMS:      strconv.FormatInt(r.DurationMS, 10),
		FieldTruncatedStdout: formatBool(r.TruncatedStdout),
		FieldTruncatedStderr: formatBool(r.TruncatedStderr),
	}
}

// ParseRecord builds a Record from a job hash.
// Missing or garbled values fall back to zero values instead of failing.
func ParseRecord(jobID string, fields map[string]string) Record {
	rec := Record{
		JobID:      jobID,
		Status:     Status(fields[FieldStatus]),
		Language:   fields[FieldLanguage],
		CreatedAt:  parseFloat(fields[FieldCreatedAt]),
		StartedAt:  parseFloat(fields[FieldStartedAt]),
		FinishedAt: parseFloat(fields[FieldFinishedAt]),
	}
	if rec.Status == "" {
		rec.Status = StatusUnknown
	}
	if timeout, err := strconv.Atoi(fields[FieldTimeout]); err == nil {
		rec.Timeout = timeout
	}

	switch rec.Status {
	case StatusDone:
		exitCode, _ := strconv.Atoi(fields[FieldExitCode])
		durationMS, _ := strconv.ParseInt(fields[FieldDurationMS], 10, 64)
		rec.Result = &sandbox.Result{
			Stdout:          fields[FieldStdout],
			Stderr:          fields[FieldStderr],
			ExitCode:        exitCode,
			TimedOut:        parseBool(fields[FieldTimedOut]),
			DurationMS:      durationMS,
			TruncatedStdout: parseBool(fields[FieldTruncatedStdout]),
			TruncatedStderr: parseBool(fields[FieldTruncatedStderr]),
		}
	case StatusFailed:
		rec.Error = fields[FieldError]
		if rec.Error == "" {
			rec.Error = DefaultFailureMessage
		}
	}

	return rec
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}
