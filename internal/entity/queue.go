package entity

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TimeLayout is the wire format of every timestamp in the deploy repository.
const TimeLayout = "2006-01-02T15:04:05Z"

type Status string

const (
	StatusPending    Status = "pending"
	StatusPromoted   Status = "promoted"
	StatusFailed     Status = "failed"
	StatusSuperseded Status = "superseded"
)

// Statuses lists every status in queue document order.
var Statuses = []Status{StatusPending, StatusPromoted, StatusFailed, StatusSuperseded}

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusPromoted, StatusFailed, StatusSuperseded:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalid, s)
}

// Terminal reports whether entries in s are history. Unknown statuses are not terminal.
func (s Status) Terminal() bool {
	switch s {
	case StatusPromoted, StatusFailed, StatusSuperseded:
		return true
	}
	return false
}

func (s *Status) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw == "" {
		*s = ""
		return nil
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type Source struct {
	RepositoryRef string `yaml:"repositoryRef" json:"repositoryRef"`
	Tag           string `yaml:"tag" json:"tag"`
	Digest        string `yaml:"digest,omitempty" json:"digest,omitempty"`
	WorkflowRun   string `yaml:"workflowRun,omitempty" json:"workflowRun,omitempty"`
}

// Reference is the registry reference to resolve: the digest when pinned, else the tag.
func (s Source) Reference() string {
	if d := strings.TrimSpace(s.Digest); d != "" {
		return d
	}
	return strings.TrimSpace(s.Tag)
}

type QueueEntry struct {
	ID           ID     `yaml:"id" json:"id"`
	Service      string `yaml:"service" json:"service"`
	Env          string `yaml:"env" json:"env"`
	Source       Source `yaml:"source" json:"source"`
	CreatedAt    string `yaml:"createdAt" json:"createdAt"`
	Status       Status `yaml:"status" json:"status"`
	Attempts     int    `yaml:"attempts" json:"attempts"`
	MaxAttempts  int    `yaml:"maxAttempts,omitempty" json:"maxAttempts,omitempty"`
	LastError    string `yaml:"lastError" json:"lastError"`
	Digest       string `yaml:"digest,omitempty" json:"digest,omitempty"`
	EvidenceID   string `yaml:"evidenceId,omitempty" json:"evidenceId,omitempty"`
	Reason       string `yaml:"reason,omitempty" json:"reason,omitempty"`
	PromotedAt   string `yaml:"promotedAt,omitempty" json:"promotedAt,omitempty"`
	FailedAt     string `yaml:"failedAt,omitempty" json:"failedAt,omitempty"`
	SupersededAt string `yaml:"supersededAt,omitempty" json:"supersededAt,omitempty"`
	DeployCommit string `yaml:"deployCommit,omitempty" json:"deployCommit,omitempty"`
}

// Key groups entries that target the same deployment.
type Key struct {
	Service string
	Env     string
}

func (k Key) String() string { return k.Service + "/" + k.Env }

func (e QueueEntry) Key() Key {
	return Key{Service: strings.TrimSpace(e.Service), Env: strings.TrimSpace(e.Env)}
}

// CreatedTime parses CreatedAt. Empty or malformed values sort first.
func (e QueueEntry) CreatedTime() time.Time {
	return ParseTime(e.CreatedAt)
}

// ParseTime accepts RFC3339 with or without fractional seconds and offsets.
// Anything else maps to the zero time.
func ParseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
