package entity

import "encoding/json"

// PendingCommit marks deploy.commitSha until the deploy commit exists.
const PendingCommit = "__PENDING_COMMIT__"

type EvidenceSource struct {
	Repo        string `yaml:"repo" json:"repo"`
	Commit      string `yaml:"commit" json:"commit"`
	WorkflowRun string `yaml:"workflowRun,omitempty" json:"workflowRun,omitempty"`
}

type EvidenceImage struct {
	RegistryRef string `yaml:"registryRef" json:"registryRef"`
	Digest      string `yaml:"digest" json:"digest"`
	Ref         string `yaml:"ref" json:"ref"`
}

type EvidenceDeploy struct {
	AppName   string `yaml:"appName,omitempty" json:"appName,omitempty"`
	SyncedAt  string `yaml:"syncedAt" json:"syncedAt"`
	CommitSha string `yaml:"commitSha" json:"commitSha"`
	QueueID   ID     `yaml:"queueId,omitempty" json:"queueId,omitempty"`
}

// EvidenceTests is written by the smoke runner; the promoter only seeds it.
type EvidenceTests struct {
	Smoke map[string]any `yaml:"smoke,omitempty" json:"smoke,omitempty"`
	Extra map[string]any `yaml:",inline" json:"-"`
}

type EvidenceRecord struct {
	ID         ID             `yaml:"evidenceId" json:"evidenceId"`
	Service    string         `yaml:"service" json:"service"`
	Env        string         `yaml:"env" json:"env"`
	Status     Status         `yaml:"status" json:"status"`
	PromotedAt string         `yaml:"promotedAt,omitempty" json:"promotedAt,omitempty"`
	Source     EvidenceSource `yaml:"source" json:"source"`
	Image      EvidenceImage  `yaml:"image" json:"image"`
	Deploy     EvidenceDeploy `yaml:"deploy" json:"deploy"`
	Tests      EvidenceTests  `yaml:"tests" json:"tests"`
	Approvals  map[string]any `yaml:"approvals" json:"approvals"`
	Extra      map[string]any `yaml:",inline" json:"-"`
}

// SmokeStatus reads tests.smoke.status, "unknown" when unset.
func (r EvidenceRecord) SmokeStatus() string {
	if s, ok := r.Tests.Smoke["status"].(string); ok && s != "" {
		return s
	}
	return "unknown"
}

// MarshalJSON folds foreign top-level keys back into the object.
func (r EvidenceRecord) MarshalJSON() ([]byte, error) {
	type plain EvidenceRecord
	b, err := json.Marshal(plain(r))
	if err != nil || len(r.Extra) == 0 {
		return b, err
	}
	out := make(map[string]any)
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return json.Marshal(out)
}
