package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yz4230/release-promoter/internal/entity"
	"github.com/yz4230/release-promoter/internal/manifest"
	"github.com/yz4230/release-promoter/internal/promoter"
)

var digestA = "sha256:" + strings.Repeat("a", 64)

var defaults = manifest.Defaults{Replicas: 1, ResourceProfile: "mvp-small"}

type staticResolver string

func (s staticResolver) Resolve(context.Context, string, string) (string, error) {
	return string(s), nil
}

func testContext() context.Context {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	return logger.WithContext(context.Background())
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, rel))
	require.NoError(t, err)
	return string(data)
}

const queueYAML = `pending:
  - id: q1
    service: api
    env: dev
    source:
      repositoryRef: harbor.example.com/app/api
      tag: v1
    createdAt: "2024-01-01T00:00:00Z"
    attempts: 0
    lastError: ""
promoted: []
failed: []
superseded: []
`

func TestLoadQueue(t *testing.T) {
	root := t.TempDir()
	ws := NewWorkspace(root)

	doc, err := ws.LoadQueue(testContext())
	require.NoError(t, err)
	assert.Empty(t, doc.Pending)
	assert.NotNil(t, doc.Promoted)

	writeFile(t, root, QueuePath, queueYAML)
	doc, err = ws.LoadQueue(testContext())
	require.NoError(t, err)
	require.Len(t, doc.Pending, 1)
	assert.Equal(t, entity.StatusPending, doc.Pending[0].Status)
}

func TestLoadQueueRejectsCorruptDocuments(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"id in two lists", "pending: [{id: q1, service: api}]\npromoted: [{id: q1, service: api}]\n"},
		{"duplicate id", "failed: [{id: q1}, {id: q1}]\n"},
		{"status mismatch", "promoted: [{id: q1, status: failed}]\n"},
		{"unknown status", "pending: [{id: q1, status: done}]\n"},
		{"not yaml", "pending: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeFile(t, root, QueuePath, tt.body)
			_, err := NewWorkspace(root).LoadQueue(testContext())
			require.ErrorIs(t, err, entity.ErrCorruptQueue)
		})
	}
}

func TestLoadEvidenceNotFound(t *testing.T) {
	_, err := NewWorkspace(t.TempDir()).LoadEvidence(testContext(), "missing")
	require.ErrorIs(t, err, entity.ErrNotFound)
}

func TestPromotionPlanApplyAndRerun(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, QueuePath, queueYAML)
	writeFile(t, root, ManifestPath("dev", "api"), "service: api\nimage: old\nreplicas: 4\ningress: {host: api.example.com}\n")
	ws := NewWorkspace(root)
	ctx := testContext()
	now := time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC)
	p := promoter.New(staticResolver(digestA), promoter.Options{Now: func() time.Time { return now }})

	doc, err := ws.LoadQueue(ctx)
	require.NoError(t, err)
	res := p.Run(ctx, doc)

	plan, err := PlanPromotion(ctx, ws, res, defaults)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		QueuePath,
		ManifestPath("dev", "api"),
		EvidencePath("20240101-api-v1"),
	}, plan.Paths())
	require.Len(t, plan.Records, 1)
	assert.Equal(t, entity.PendingCommit, plan.Records[0].Deploy.CommitSha)

	// planning writes nothing
	assert.Contains(t, readFile(t, root, QueuePath), "pending:\n  - id: q1")

	require.NoError(t, ws.Apply(ctx, plan))
	m := readFile(t, root, ManifestPath("dev", "api"))
	assert.Contains(t, m, "image: harbor.example.com/app/api@"+digestA)
	assert.Contains(t, m, "replicas: 4")
	assert.Contains(t, m, "host: api.example.com")
	assert.Contains(t, m, "resourceProfile: mvp-small")

	again, err := PlanPromotion(ctx, ws, res, defaults)
	require.NoError(t, err)
	assert.True(t, again.Empty(), "unexpected writes: %v", again.Paths())

	doc, err = ws.LoadQueue(ctx)
	require.NoError(t, err)
	rerun := p.Run(ctx, doc)
	assert.False(t, rerun.Changed)
	plan, err = PlanPromotion(ctx, ws, rerun, defaults)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

func TestPlanPromotionPreservesApprovals(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, QueuePath, queueYAML)
	writeFile(t, root, EvidencePath("20240101-api-v1"), `evidenceId: 20240101-api-v1
service: api
env: dev
status: promoted
tests:
  smoke: {status: passed}
approvals:
  releasePr: https://github.com/acme/deploy/pull/7
`)
	ws := NewWorkspace(root)
	ctx := testContext()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p := promoter.New(staticResolver(digestA), promoter.Options{Now: func() time.Time { return now }})

	doc, err := ws.LoadQueue(ctx)
	require.NoError(t, err)
	plan, err := PlanPromotion(ctx, ws, p.Run(ctx, doc), defaults)
	require.NoError(t, err)
	require.NoError(t, ws.Apply(ctx, plan))

	r, err := ws.LoadEvidence(ctx, "20240101-api-v1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"releasePr": "https://github.com/acme/deploy/pull/7"}, r.Approvals)
	assert.Equal(t, "passed", r.SmokeStatus())
	assert.Equal(t, digestA, r.Image.Digest)
}

func TestPlanBackfill(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, EvidencePath("e1"), "evidenceId: e1\nservice: api\ndeploy: {commitSha: __PENDING_COMMIT__}\n")
	ws := NewWorkspace(root)
	ctx := testContext()

	plan, err := PlanBackfill(ctx, ws, []entity.ID{"e1"}, "abc123")
	require.NoError(t, err)
	require.NoError(t, ws.Apply(ctx, plan))

	r, err := ws.LoadEvidence(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "abc123", r.Deploy.CommitSha)

	plan, err = PlanBackfill(ctx, ws, []entity.ID{"e1"}, "abc123")
	require.NoError(t, err)
	assert.True(t, plan.Empty())

	_, err = PlanBackfill(ctx, ws, []entity.ID{"nope"}, "abc123")
	require.ErrorIs(t, err, entity.ErrNotFound)
}

func TestPlanCollect(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, EvidencePath("old"), "evidenceId: old\nservice: api\nenv: dev\ndeploy: {syncedAt: \"2024-01-01T00:00:00Z\"}\n")
	writeFile(t, root, EvidencePath("new"), "evidenceId: new\nservice: web\nenv: dev\ndeploy: {syncedAt: \"2024-01-02T00:00:00Z\"}\nreviewer: alice\n")
	writeFile(t, root, filepath.Join(RecordsDir, "README.md"), "not a record")
	ws := NewWorkspace(root)
	ctx := testContext()

	plan, err := PlanCollect(ctx, ws)
	require.NoError(t, err)
	require.NoError(t, ws.Apply(ctx, plan))

	var index []map[string]any
	require.NoError(t, json.Unmarshal([]byte(readFile(t, root, IndexPath)), &index))
	require.Len(t, index, 2)
	assert.Equal(t, "new", index[0]["evidenceId"])
	assert.Equal(t, "alice", index[0]["reviewer"])
	assert.Equal(t, EvidencePath("new"), index[0]["_recordPath"])
	assert.Equal(t, "old", index[1]["evidenceId"])

	summary := readFile(t, root, SummaryPath)
	assert.True(t, strings.HasPrefix(summary, "# Latest Evidence Summary"))
	assert.Less(t, strings.Index(summary, "| web |"), strings.Index(summary, "| api |"))
}

func TestApplyLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	ws := NewWorkspace(root)
	plan := &Plan{}
	plan.put("a/b/c.yaml", []byte("x: 1\n"))
	plan.put("a/b/c.yaml", []byte("x: 2\n"))
	require.Len(t, plan.Writes, 1)

	require.NoError(t, ws.Apply(testContext(), plan))
	assert.Equal(t, "x: 2\n", readFile(t, root, "a/b/c.yaml"))
	entries, err := os.ReadDir(filepath.Join(root, "a/b"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPlanBackfillStampsQueueEntry(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, QueuePath, "pending: []\npromoted:\n  - id: q1\n    service: api\n    env: dev\n    attempts: 1\n")
	writeFile(t, root, EvidencePath("e1"), "evidenceId: e1\nservice: api\ndeploy: {commitSha: __PENDING_COMMIT__, queueId: q1}\n")
	ws := NewWorkspace(root)
	ctx := testContext()

	plan, err := PlanBackfill(ctx, ws, []entity.ID{"e1"}, "abc123")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{EvidencePath("e1"), QueuePath}, plan.Paths())
	require.NoError(t, ws.Apply(ctx, plan))

	doc, err := ws.LoadQueue(ctx)
	require.NoError(t, err)
	require.Len(t, doc.Promoted, 1)
	assert.Equal(t, "abc123", doc.Promoted[0].DeployCommit)
	assert.Equal(t, entity.StatusPromoted, doc.Promoted[0].Status)
}

func TestManifestPathKeepsServiceName(t *testing.T) {
	assert.Equal(t, filepath.Join("envs", "dev", "api.yaml"), ManifestPath("dev", "api"))
	assert.Equal(t, filepath.Join("envs", "dev", "api.yaml.yaml"), ManifestPath("dev", "api.yaml"))
}

func TestPromotionNeverWritesOutsideWorkspace(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "checkout")
	writeFile(t, root, QueuePath, strings.Replace(queueYAML, "service: api", "service: ../../../escaped", 1))
	ws := NewWorkspace(root)
	ctx := testContext()
	p := promoter.New(staticResolver(digestA), promoter.Options{})

	doc, err := ws.LoadQueue(ctx)
	require.NoError(t, err)
	res := p.Run(ctx, doc)
	assert.Empty(t, res.Effects.Manifests)

	plan, err := PlanPromotion(ctx, ws, res, defaults)
	require.NoError(t, err)
	assert.Equal(t, []string{QueuePath}, plan.Paths())
	require.NoError(t, ws.Apply(ctx, plan))

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "checkout", entries[0].Name())
	assert.Contains(t, readFile(t, root, QueuePath), "invalid entry: service")
}
