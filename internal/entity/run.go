package entity

import "time"

// PromotionRun is the history row of one promote invocation.
type PromotionRun struct {
	ID         ID         `json:"id"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt"`
	DryRun     bool       `json:"dryRun"`
	Commit     string     `json:"commit,omitempty"`
	Promoted   int        `json:"promoted"`
	Retried    int        `json:"retried"`
	Failed     int        `json:"failed"`
	Superseded int        `json:"superseded"`
	Skipped    int        `json:"skipped"`
	Error      string     `json:"error,omitempty"`
	Entries    []RunEntry `json:"entries,omitempty"`
}

type RunEntry struct {
	QueueID    ID     `json:"queueId"`
	Service    string `json:"service"`
	Env        string `json:"env"`
	Outcome    string `json:"outcome"`
	Attempts   int    `json:"attempts"`
	Digest     string `json:"digest,omitempty"`
	EvidenceID ID     `json:"evidenceId,omitempty"`
	Error      string `json:"error,omitempty"`
}
