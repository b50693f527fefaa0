// Package evidence maintains the per-promotion audit records under
// evidence/records. Records are shared with other producers (the smoke runner,
// approval tooling), so every write is a field-level merge.
package evidence

import (
	"bytes"
	"strings"
	"time"

	"github.com/yz4230/release-promoter/internal/entity"
	"github.com/yz4230/release-promoter/internal/utils"
	"gopkg.in/yaml.v3"
)

const unknown = "unknown"

// Delta carries the promotion-owned fields of one record.
type Delta struct {
	ID          entity.ID     `json:"evidenceId"`
	Service     string        `json:"service"`
	Env         string        `json:"env"`
	Status      entity.Status `json:"status"`
	RegistryRef string        `json:"registryRef"`
	Digest      string        `json:"digest"`
	Tag         string        `json:"tag"`
	WorkflowRun string        `json:"workflowRun,omitempty"`
	SyncedAt    string        `json:"syncedAt"`
	QueueID     entity.ID     `json:"queueId"`
}

// ID derives the record id for a promotion. The same service, day and tag
// always map to the same record so reruns converge on one file.
func ID(e entity.QueueEntry, promotedAt time.Time) entity.ID {
	if e.EvidenceID != "" {
		return entity.NewID(e.EvidenceID)
	}
	tag := strings.TrimSpace(e.Source.Tag)
	if tag == "" {
		tag = unknown
	}
	service := strings.TrimSpace(e.Service)
	return entity.ID(promotedAt.UTC().Format("20060102") + "-" + utils.SanitizeID(service) + "-" + utils.SanitizeID(tag))
}

// CommitFromTag extracts the source commit from CI tags of the form sha-<commit>.
func CommitFromTag(tag string) string {
	if c, ok := strings.CutPrefix(tag, "sha-"); ok && c != "" {
		return c
	}
	return unknown
}

// Upsert merges d into existing (nil for a new record). Promotion-owned fields
// are overwritten; tests, approvals, deploy.appName and unknown keys are kept
// and only seeded when absent.
func Upsert(existing *entity.EvidenceRecord, d Delta) (entity.EvidenceRecord, bool, error) {
	var before entity.EvidenceRecord
	if existing != nil {
		before = *existing
	}
	after := before
	after.ID = d.ID
	after.Service = d.Service
	after.Env = d.Env
	after.Status = d.Status
	after.Source.Repo = d.RegistryRef
	after.Source.Commit = CommitFromTag(d.Tag)
	if d.WorkflowRun != "" {
		after.Source.WorkflowRun = d.WorkflowRun
	}
	after.Image = entity.EvidenceImage{
		RegistryRef: d.RegistryRef,
		Digest:      d.Digest,
		Ref:         d.RegistryRef + "@" + d.Digest,
	}
	after.Deploy.SyncedAt = d.SyncedAt
	after.Deploy.CommitSha = entity.PendingCommit
	after.Deploy.QueueID = d.QueueID
	if after.Deploy.AppName == "" {
		after.Deploy.AppName = d.Service + "-" + d.Env
	}
	if after.Tests.Smoke == nil {
		after.Tests.Smoke = map[string]any{"status": "pending"}
	}
	if after.Approvals == nil {
		after.Approvals = map[string]any{}
	}

	if existing == nil {
		return after, true, nil
	}
	changed, err := differs(before, after)
	return after, changed, err
}

// BackfillCommit records the deploy commit once it exists.
func BackfillCommit(r entity.EvidenceRecord, sha string) (entity.EvidenceRecord, bool) {
	if r.Deploy.CommitSha == sha {
		return r, false
	}
	r.Deploy.CommitSha = sha
	return r, true
}

func differs(a, b entity.EvidenceRecord) (bool, error) {
	ab, err := Encode(a)
	if err != nil {
		return false, err
	}
	bb, err := Encode(b)
	if err != nil {
		return false, err
	}
	return !bytes.Equal(ab, bb), nil
}

func Encode(r entity.EvidenceRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
