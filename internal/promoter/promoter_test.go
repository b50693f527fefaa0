package promoter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yz4230/release-promoter/internal/entity"
	"github.com/yz4230/release-promoter/internal/registry"
)

var (
	digestA = "sha256:" + strings.Repeat("a", 64)
	digestB = "sha256:" + strings.Repeat("b", 64)
	fixedAt = time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC)
)

const repo = "harbor.example.com/app/api"

type fakeResolver struct {
	digests map[string]string
	err     error
	calls   []string
}

func (f *fakeResolver) Resolve(_ context.Context, repository, reference string) (string, error) {
	f.calls = append(f.calls, repository+":"+reference)
	if f.err != nil {
		return "", f.err
	}
	if d, ok := f.digests[reference]; ok {
		return d, nil
	}
	return "", &registry.ResolveError{Kind: registry.ErrNotFound, Repository: repository, Reference: reference}
}

func testContext() context.Context {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	return logger.WithContext(context.Background())
}

func newPromoter(r Resolver) *Promoter {
	return New(r, Options{MaxAttempts: 3, Environments: []string{"dev"}, Now: func() time.Time { return fixedAt }})
}

func pendingEntry(id, createdAt string) entity.QueueEntry {
	return entity.QueueEntry{
		ID:        entity.ID(id),
		Service:   "api",
		Env:       "dev",
		Source:    entity.Source{RepositoryRef: repo, Tag: "v1"},
		CreatedAt: createdAt,
		Status:    entity.StatusPending,
	}
}

func TestRunEndToEnd(t *testing.T) {
	resolver := &fakeResolver{digests: map[string]string{"v1": digestA}}
	doc := entity.QueueDocument{Pending: []entity.QueueEntry{pendingEntry("q1", "2024-01-01T00:00:00Z")}}

	res := newPromoter(resolver).Run(testContext(), doc)

	assert.True(t, res.Changed)
	assert.Empty(t, res.Queue.Pending)
	require.Len(t, res.Queue.Promoted, 1)
	got := res.Queue.Promoted[0]
	assert.Equal(t, entity.ID("q1"), got.ID)
	assert.Equal(t, entity.StatusPromoted, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, digestA, got.Digest)
	assert.Equal(t, "2024-01-01T00:05:00Z", got.PromotedAt)
	assert.Empty(t, got.LastError)
	assert.Equal(t, "20240101-api-v1", got.EvidenceID)

	require.Len(t, res.Effects.Manifests, 1)
	assert.Equal(t, repo+"@"+digestA, res.Effects.Manifests[0].Image())
	require.Len(t, res.Effects.Evidence, 1)
	ev := res.Effects.Evidence[0]
	assert.Equal(t, entity.StatusPromoted, ev.Status)
	assert.Equal(t, digestA, ev.Digest)
	assert.Equal(t, "2024-01-01T00:05:00Z", ev.SyncedAt)
	assert.Equal(t, entity.ID("q1"), ev.QueueID)

	assert.Equal(t, 1, res.Count(OutcomePromoted))
	// input untouched
	assert.Len(t, doc.Pending, 1)
	assert.Zero(t, doc.Pending[0].Attempts)
}

func TestRunIdempotent(t *testing.T) {
	resolver := &fakeResolver{digests: map[string]string{"v1": digestA}}
	p := newPromoter(resolver)
	first := p.Run(testContext(), entity.QueueDocument{Pending: []entity.QueueEntry{pendingEntry("q1", "2024-01-01T00:00:00Z")}})
	require.Len(t, first.Queue.Promoted, 1)

	second := p.Run(testContext(), first.Queue)
	assert.False(t, second.Changed)
	assert.True(t, second.Effects.Empty())
	assert.Equal(t, first.Queue, second.Queue)
	assert.Len(t, resolver.calls, 1)
}

func TestRunSkipsStalePendingCopy(t *testing.T) {
	resolver := &fakeResolver{digests: map[string]string{"v1": digestA}}
	promoted := pendingEntry("q1", "2024-01-01T00:00:00Z")
	promoted.Status = entity.StatusPromoted
	promoted.Attempts = 1
	promoted.Digest = digestB
	doc := entity.QueueDocument{
		Pending:  []entity.QueueEntry{pendingEntry("q1", "2024-01-01T00:00:00Z")},
		Promoted: []entity.QueueEntry{promoted},
	}

	res := newPromoter(resolver).Run(testContext(), doc)

	assert.Empty(t, resolver.calls)
	assert.True(t, res.Effects.Empty())
	assert.Empty(t, res.Queue.Pending)
	assert.Equal(t, []entity.QueueEntry{promoted}, res.Queue.Promoted)
	assert.Equal(t, 1, res.Count(OutcomeSkipped))
}

func TestRunSupersedes(t *testing.T) {
	resolver := &fakeResolver{digests: map[string]string{"v1": digestA, "v2": digestB}}
	older := pendingEntry("q1", "2024-01-01T00:00:00Z")
	newer := pendingEntry("q2", "2024-01-01T01:00:00Z")
	newer.Source.Tag = "v2"
	doc := entity.QueueDocument{Pending: []entity.QueueEntry{newer, older}}

	res := newPromoter(resolver).Run(testContext(), doc)

	require.Len(t, res.Queue.Superseded, 1)
	sup := res.Queue.Superseded[0]
	assert.Equal(t, entity.ID("q1"), sup.ID)
	assert.Equal(t, entity.StatusSuperseded, sup.Status)
	assert.NotEmpty(t, sup.Reason)
	assert.Equal(t, "2024-01-01T00:05:00Z", sup.SupersededAt)

	require.Len(t, res.Queue.Promoted, 1)
	assert.Equal(t, entity.ID("q2"), res.Queue.Promoted[0].ID)
	assert.Equal(t, []string{repo + ":v2"}, resolver.calls)
	require.NoError(t, res.Queue.Validate())
}

func TestRunRetryAndExhaustion(t *testing.T) {
	transient := &registry.ResolveError{Kind: registry.ErrTransient, Repository: repo, Reference: "v1", Err: errors.New("timeout")}
	tests := []struct {
		name        string
		attempts    int
		maxAttempts int
		wantPending bool
	}{
		{"first failure retries", 0, 0, true},
		{"second failure retries", 1, 0, true},
		{"last attempt fails", 2, 0, false},
		{"entry override", 0, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := pendingEntry("q1", "2024-01-01T00:00:00Z")
			e.Attempts = tt.attempts
			e.MaxAttempts = tt.maxAttempts
			res := newPromoter(&fakeResolver{err: transient}).Run(testContext(), entity.QueueDocument{Pending: []entity.QueueEntry{e}})

			assert.True(t, res.Effects.Empty())
			assert.True(t, res.Changed)
			var got entity.QueueEntry
			if tt.wantPending {
				require.Len(t, res.Queue.Pending, 1)
				assert.Empty(t, res.Queue.Failed)
				got = res.Queue.Pending[0]
				assert.Equal(t, entity.StatusPending, got.Status)
				assert.Empty(t, got.FailedAt)
			} else {
				require.Len(t, res.Queue.Failed, 1)
				assert.Empty(t, res.Queue.Pending)
				got = res.Queue.Failed[0]
				assert.Equal(t, entity.StatusFailed, got.Status)
				assert.Equal(t, "2024-01-01T00:05:00Z", got.FailedAt)
			}
			assert.Equal(t, tt.attempts+1, got.Attempts)
			assert.Contains(t, got.LastError, "timeout")
		})
	}
}

func TestRunNotFoundConsumesAttempt(t *testing.T) {
	e := pendingEntry("q1", "2024-01-01T00:00:00Z")
	e.Source.Tag = "missing"
	res := newPromoter(&fakeResolver{}).Run(testContext(), entity.QueueDocument{Pending: []entity.QueueEntry{e}})

	require.Len(t, res.Queue.Pending, 1)
	assert.Equal(t, 1, res.Queue.Pending[0].Attempts)
	assert.Contains(t, res.Queue.Pending[0].LastError, "not found")
}

func TestRunInvalidEntries(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*entity.QueueEntry)
		want   string
	}{
		{"no service", func(e *entity.QueueEntry) { e.Service = " " }, "missing service"},
		{"no env", func(e *entity.QueueEntry) { e.Env = "" }, "missing env"},
		{"no repository", func(e *entity.QueueEntry) { e.Source.RepositoryRef = "" }, "missing source.repositoryRef"},
		{"no reference", func(e *entity.QueueEntry) { e.Source.Tag = "" }, "missing source.tag or source.digest"},
		{"env not allowed", func(e *entity.QueueEntry) { e.Env = "prod" }, "env prod is not promotable"},
		{"service path traversal", func(e *entity.QueueEntry) { e.Service = "../../../escaped" }, `service "../../../escaped" must match`},
		{"service with slash", func(e *entity.QueueEntry) { e.Service = "team/api" }, `service "team/api" must match`},
		{"env dot dot", func(e *entity.QueueEntry) { e.Env = ".." }, `env ".." must match`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &fakeResolver{digests: map[string]string{"v1": digestA}}
			e := pendingEntry("q1", "2024-01-01T00:00:00Z")
			tt.mutate(&e)
			res := newPromoter(resolver).Run(testContext(), entity.QueueDocument{Pending: []entity.QueueEntry{e}})

			assert.Empty(t, resolver.calls)
			require.Len(t, res.Queue.Pending, 1)
			got := res.Queue.Pending[0]
			assert.Equal(t, 1, got.Attempts)
			assert.True(t, strings.HasPrefix(got.LastError, "invalid entry: "), got.LastError)
			assert.Contains(t, got.LastError, tt.want)
		})
	}
}

func TestRunFailureDoesNotAbortBatch(t *testing.T) {
	resolver := &fakeResolver{digests: map[string]string{"v1": digestA}}
	bad := pendingEntry("q1", "2024-01-01T00:00:00Z")
	bad.Service = "web"
	bad.Source.Tag = "broken"
	good := pendingEntry("q2", "2024-01-01T00:00:00Z")

	res := newPromoter(resolver).Run(testContext(), entity.QueueDocument{Pending: []entity.QueueEntry{bad, good}})

	require.Len(t, res.Queue.Pending, 1)
	assert.Equal(t, entity.ID("q1"), res.Queue.Pending[0].ID)
	require.Len(t, res.Queue.Promoted, 1)
	assert.Equal(t, entity.ID("q2"), res.Queue.Promoted[0].ID)
	assert.Equal(t, 1, res.Count(OutcomeRetry))
	assert.Equal(t, 1, res.Count(OutcomePromoted))
}

type countingClient struct{ calls int }

func (c *countingClient) ManifestDigest(context.Context, string, string) (string, error) {
	c.calls++
	return digestB, nil
}

func TestRunPinnedDigestSkipsRegistry(t *testing.T) {
	client := &countingClient{}
	e := pendingEntry("q1", "2024-01-01T00:00:00Z")
	e.Source.Digest = digestA

	res := newPromoter(registry.NewResolver(client, time.Second)).Run(testContext(), entity.QueueDocument{Pending: []entity.QueueEntry{e}})

	assert.Zero(t, client.calls)
	require.Len(t, res.Queue.Promoted, 1)
	assert.Equal(t, digestA, res.Queue.Promoted[0].Digest)
}

func TestRunEmptyQueue(t *testing.T) {
	res := newPromoter(&fakeResolver{}).Run(testContext(), entity.QueueDocument{})
	assert.False(t, res.Changed)
	assert.NotNil(t, res.Queue.Pending)
	assert.NotNil(t, res.Queue.Superseded)
}
