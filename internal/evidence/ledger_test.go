package evidence

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yz4230/release-promoter/internal/entity"
	"gopkg.in/yaml.v3"
)

var (
	digestA = "sha256:" + strings.Repeat("a", 64)
	digestB = "sha256:" + strings.Repeat("b", 64)
)

func testDelta(d string) Delta {
	return Delta{
		ID:          "20240101-api-v1",
		Service:     "api",
		Env:         "dev",
		Status:      entity.StatusPromoted,
		RegistryRef: "harbor.example.com/app/api",
		Digest:      d,
		Tag:         "sha-1f2e3d4",
		SyncedAt:    "2024-01-01T00:05:00Z",
		QueueID:     "q1",
	}
}

func TestID(t *testing.T) {
	day := time.Date(2024, 1, 2, 23, 59, 0, 0, time.UTC)
	tests := []struct {
		name  string
		entry entity.QueueEntry
		want  entity.ID
	}{
		{"plain", entity.QueueEntry{Service: "api", Source: entity.Source{Tag: "v1.2.0"}}, "20240102-api-v1.2.0"},
		{"unsafe tag", entity.QueueEntry{Service: "api", Source: entity.Source{Tag: "feature/x+y"}}, "20240102-api-feature-x-y"},
		{"no tag", entity.QueueEntry{Service: "api", Source: entity.Source{Digest: digestA}}, "20240102-api-unknown"},
		{"explicit", entity.QueueEntry{Service: "api", EvidenceID: "custom-id"}, "custom-id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ID(tt.entry, day))
		})
	}
}

func TestIDIsStablePerDay(t *testing.T) {
	e := entity.QueueEntry{Service: "api", Source: entity.Source{Tag: "v1"}}
	morning := time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC)
	evening := time.Date(2024, 1, 2, 22, 0, 0, 0, time.UTC)
	assert.Equal(t, ID(e, morning), ID(e, evening))
	assert.NotEqual(t, ID(e, morning), ID(e, morning.AddDate(0, 0, 1)))
}

func TestCommitFromTag(t *testing.T) {
	assert.Equal(t, "1f2e3d4", CommitFromTag("sha-1f2e3d4"))
	assert.Equal(t, "unknown", CommitFromTag("sha-"))
	assert.Equal(t, "unknown", CommitFromTag("v1.0.0"))
}

func TestUpsertNewRecord(t *testing.T) {
	got, changed, err := Upsert(nil, testDelta(digestA))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, entity.ID("20240101-api-v1"), got.ID)
	assert.Equal(t, entity.StatusPromoted, got.Status)
	assert.Equal(t, "harbor.example.com/app/api@"+digestA, got.Image.Ref)
	assert.Equal(t, digestA, got.Image.Digest)
	assert.Equal(t, "1f2e3d4", got.Source.Commit)
	assert.Equal(t, entity.PendingCommit, got.Deploy.CommitSha)
	assert.Equal(t, "api-dev", got.Deploy.AppName)
	assert.Equal(t, "pending", got.SmokeStatus())
	assert.NotNil(t, got.Approvals)
	assert.Empty(t, got.Approvals)
	require.NoError(t, Validate(got))
}

func TestUpsertPreservesForeignFields(t *testing.T) {
	src := `
evidenceId: 20240101-api-v1
service: api
env: dev
status: promoted
source: {repo: harbor.example.com/app/api, commit: 1f2e3d4}
image: {registryRef: harbor.example.com/app/api, digest: ` + digestA + `, ref: harbor.example.com/app/api@` + digestA + `}
deploy: {appName: api-dev-eu, syncedAt: "2024-01-01T00:00:00Z", commitSha: deadbeef}
tests:
  smoke: {status: passed, url: https://ci.example.com/1}
  e2e: {status: skipped}
approvals:
  releasePr: https://github.com/acme/deploy/pull/7
  prs: [https://github.com/acme/api/pull/3]
reviewer: alice
`
	var existing entity.EvidenceRecord
	require.NoError(t, yaml.Unmarshal([]byte(src), &existing))
	approvalsBefore := existing.Approvals

	got, changed, err := Upsert(&existing, testDelta(digestB))
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, approvalsBefore, got.Approvals)
	assert.Equal(t, "passed", got.SmokeStatus())
	assert.Equal(t, "https://ci.example.com/1", got.Tests.Smoke["url"])
	assert.Equal(t, map[string]any{"status": "skipped"}, got.Tests.Extra["e2e"])
	assert.Equal(t, "alice", got.Extra["reviewer"])
	assert.Equal(t, "api-dev-eu", got.Deploy.AppName)

	assert.Equal(t, digestB, got.Image.Digest)
	assert.Equal(t, "2024-01-01T00:05:00Z", got.Deploy.SyncedAt)
	assert.Equal(t, entity.PendingCommit, got.Deploy.CommitSha)
}

func TestUpsertNoChange(t *testing.T) {
	first, _, err := Upsert(nil, testDelta(digestA))
	require.NoError(t, err)
	_, changed, err := Upsert(&first, testDelta(digestA))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestBackfillCommit(t *testing.T) {
	r, _, err := Upsert(nil, testDelta(digestA))
	require.NoError(t, err)

	r, changed := BackfillCommit(r, "abc123")
	assert.True(t, changed)
	assert.Equal(t, "abc123", r.Deploy.CommitSha)

	_, changed = BackfillCommit(r, "abc123")
	assert.False(t, changed)
}

func TestEncodeKeepsForeignKeys(t *testing.T) {
	r, _, err := Upsert(nil, testDelta(digestA))
	require.NoError(t, err)
	r.Extra = map[string]any{"reviewer": "bob"}

	b, err := Encode(r)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(b, []byte("reviewer: bob")))
	assert.True(t, bytes.Contains(b, []byte("evidenceId: 20240101-api-v1")))
}

func TestValidate(t *testing.T) {
	r, _, err := Upsert(nil, testDelta(digestA))
	require.NoError(t, err)
	require.NoError(t, Validate(r))

	r.Source.Repo = ""
	r.Deploy.CommitSha = ""
	err = Validate(r)
	require.ErrorIs(t, err, entity.ErrInvalid)
	assert.Contains(t, err.Error(), "source.repo")
	assert.Contains(t, err.Error(), "deploy.commitSha")
}
