package cron

// Job statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// CronJob is a named maintenance job and its run state.
type CronJob struct {
	Name     string   `json:"name"`
	Enabled  bool     `json:"enabled"`
	Schedule Schedule `json:"schedule"`
	State    JobState `json:"state"`
}

// Schedule is a six-field (seconds first) cron expression.
type Schedule struct {
	Expr string `json:"expr"`
}

type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	NextRunAtMs int64  `json:"nextRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
	LastResult  string `json:"lastResult,omitempty"`
	Runs        int    `json:"runs"`
}
