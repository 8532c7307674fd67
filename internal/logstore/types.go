// Package logstore implements the Centralized Log Store (C7): an
// append-only Postgres-backed table for LogEntry ingest and query, plus
// age-based retention deletion.
package logstore

import "time"

// Level is the severity of a LogEntry.
type Level string

const (
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

var levelRank = map[Level]int{
	LevelDebug:    0,
	LevelInfo:     1,
	LevelWarning:  2,
	LevelError:    3,
	LevelCritical: 4,
}

// ValidLevel reports whether lvl is one of the five recognized severities.
func ValidLevel(lvl Level) bool {
	_, ok := levelRank[lvl]
	return ok
}

// LogEntry is one append-only row.
type LogEntry struct {
	ID          int64             `db:"id" json:"id"`
	Timestamp   time.Time         `db:"timestamp" json:"timestamp"`
	ServiceName string            `db:"service_name" json:"service_name"`
	Level       Level             `db:"level" json:"level"`
	Message     string            `db:"message" json:"message"`
	Context     map[string]string `db:"-" json:"context,omitempty"`
	TraceID     *string           `db:"trace_id" json:"trace_id,omitempty"`
	UserID      *string           `db:"user_id" json:"user_id,omitempty"`
	Hostname    string            `db:"hostname" json:"hostname"`
	ProcessID   *int              `db:"process_id" json:"process_id,omitempty"`
}

// MetricSample is one append-only resource/metric observation.
type MetricSample struct {
	ID          int64             `db:"id" json:"id"`
	ServiceName string            `db:"service_name" json:"service_name"`
	Timestamp   time.Time         `db:"timestamp" json:"timestamp"`
	MetricName  string            `db:"metric_name" json:"metric_name"`
	Value       float64           `db:"value" json:"value"`
	Tags        map[string]string `db:"-" json:"tags,omitempty"`
}

// Query filters the log query API.
type Query struct {
	ServiceName   string
	MinLevel      Level
	Since, Until  time.Time
	TraceID       string
	UserID        string
	Limit, Offset int
}

// DefaultRetention is the default age horizon for the retention task.
const DefaultRetention = 90 * 24 * time.Hour

// MaxBatchSize bounds a single ingest POST.
const MaxBatchSize = 500

// MaxQueryLimit is the hard ceiling on Query.Limit.
const MaxQueryLimit = 1000
