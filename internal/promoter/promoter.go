// Package promoter moves pending release queue entries to their terminal
// lists. Run is pure apart from registry lookups: it returns the new queue and
// the manifest and evidence writes it wants, and never touches the workspace.
package promoter

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/yz4230/release-promoter/internal/entity"
	"github.com/yz4230/release-promoter/internal/evidence"
	"github.com/yz4230/release-promoter/internal/manifest"
	"github.com/yz4230/release-promoter/internal/utils"
)

// Resolver is satisfied by *registry.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, repository, reference string) (string, error)
}

type Outcome string

const (
	OutcomePromoted   Outcome = "promoted"
	OutcomeRetry      Outcome = "retry"
	OutcomeFailed     Outcome = "failed"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeSuperseded Outcome = "superseded"
)

// EntryResult reports what happened to one entry during a run.
type EntryResult struct {
	ID         entity.ID `json:"id"`
	Service    string    `json:"service"`
	Env        string    `json:"env"`
	Outcome    Outcome   `json:"outcome"`
	Attempts   int       `json:"attempts"`
	Digest     string    `json:"digest,omitempty"`
	EvidenceID entity.ID `json:"evidenceId,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Effects are the writes a run asks the workspace for.
type Effects struct {
	Manifests []manifest.Delta `json:"manifests"`
	Evidence  []evidence.Delta `json:"evidence"`
}

func (e Effects) Empty() bool { return len(e.Manifests) == 0 && len(e.Evidence) == 0 }

type Result struct {
	Queue   entity.QueueDocument
	Effects Effects
	Entries []EntryResult
	// Changed is false when the queue is untouched and there is nothing to write.
	Changed bool
}

// Count returns how many entries ended with outcome o.
func (r Result) Count(o Outcome) int {
	return lo.CountBy(r.Entries, func(e EntryResult) bool { return e.Outcome == o })
}

type Options struct {
	// MaxAttempts applies to entries without their own maxAttempts.
	MaxAttempts int
	// Environments restricts promotion targets; empty allows any env.
	Environments []string
	Now          func() time.Time
}

type Promoter struct {
	resolver    Resolver
	maxAttempts int
	envs        []string
	now         func() time.Time
}

func New(resolver Resolver, opts Options) *Promoter {
	p := &Promoter{
		resolver:    resolver,
		maxAttempts: opts.MaxAttempts,
		envs:        opts.Environments,
		now:         opts.Now,
	}
	if p.maxAttempts < 1 {
		p.maxAttempts = 3
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// ErrInvalidEntry prefixes lastError of entries missing required fields.
var ErrInvalidEntry = errors.New("invalid entry")

// Run processes one queue snapshot. Entry failures are recorded on the entry
// and never abort the batch.
func (p *Promoter) Run(ctx context.Context, doc entity.QueueDocument) Result {
	log := zerolog.Ctx(ctx)
	now := p.now().UTC()

	before := doc.Clone()
	before.Normalize()
	next := before.Clone()

	var res Result

	// Terminal ids are history; a stale pending copy of one is dropped untouched.
	done := next.Index()
	fresh := lo.Filter(next.Pending, func(e entity.QueueEntry, _ int) bool {
		s := done[e.ID]
		if !s.Terminal() {
			return true
		}
		log.Info().Str("entry", e.ID.String()).Str("list", string(s)).Msg("entry already terminal, skipping")
		res.Entries = append(res.Entries, resultOf(e, OutcomeSkipped))
		return false
	})

	survivors, superseded := Supersede(fresh, now)
	for _, e := range superseded {
		log.Info().Str("entry", e.ID.String()).Str("service", e.Service).Str("env", e.Env).Msg(e.Reason)
		next.Superseded = append(next.Superseded, e)
		res.Entries = append(res.Entries, resultOf(e, OutcomeSuperseded))
	}

	next.Pending = []entity.QueueEntry{}
	for _, e := range survivors {
		e, outcome := p.process(ctx, e, now, &res.Effects)
		switch outcome {
		case OutcomePromoted:
			next.Promoted = append(next.Promoted, e)
		case OutcomeFailed:
			next.Failed = append(next.Failed, e)
		default:
			next.Pending = append(next.Pending, e)
		}
		r := resultOf(e, outcome)
		r.Error = e.LastError
		res.Entries = append(res.Entries, r)
	}

	res.Queue = next
	res.Changed = !res.Effects.Empty() || !reflect.DeepEqual(before, next)
	return res
}

func (p *Promoter) process(ctx context.Context, e entity.QueueEntry, now time.Time, effects *Effects) (entity.QueueEntry, Outcome) {
	log := zerolog.Ctx(ctx).With().
		Str("entry", e.ID.String()).
		Str("service", e.Service).
		Str("env", e.Env).
		Logger()

	if err := p.validate(e); err != nil {
		return p.fail(&log, e, now, err)
	}

	repo := strings.TrimSpace(e.Source.RepositoryRef)
	digest, err := p.resolver.Resolve(ctx, repo, e.Source.Reference())
	if err != nil {
		return p.fail(&log, e, now, err)
	}

	stamp := entity.FormatTime(now)
	e.Attempts++
	e.Status = entity.StatusPromoted
	e.PromotedAt = stamp
	e.LastError = ""
	e.Digest = digest
	id := evidence.ID(e, now)
	e.EvidenceID = id.String()

	key := e.Key()
	effects.Manifests = append(effects.Manifests, manifest.Delta{
		Service:     key.Service,
		Env:         key.Env,
		RegistryRef: repo,
		Digest:      digest,
		QueueID:     e.ID,
	})
	effects.Evidence = append(effects.Evidence, evidence.Delta{
		ID:          id,
		Service:     key.Service,
		Env:         key.Env,
		Status:      entity.StatusPromoted,
		RegistryRef: repo,
		Digest:      digest,
		Tag:         strings.TrimSpace(e.Source.Tag),
		WorkflowRun: e.Source.WorkflowRun,
		SyncedAt:    stamp,
		QueueID:     e.ID,
	})

	log.Info().Int("attempts", e.Attempts).Str("digest", digest).Str("outcome", string(OutcomePromoted)).Msg("entry promoted")
	return e, OutcomePromoted
}

func (p *Promoter) fail(log *zerolog.Logger, e entity.QueueEntry, now time.Time, err error) (entity.QueueEntry, Outcome) {
	e.Attempts++
	e.LastError = err.Error()
	outcome := OutcomeRetry
	if e.Attempts >= p.limit(e) {
		e.Status = entity.StatusFailed
		e.FailedAt = entity.FormatTime(now)
		outcome = OutcomeFailed
	}
	log.Warn().Err(err).Int("attempts", e.Attempts).Str("outcome", string(outcome)).Msg("entry not promoted")
	return e, outcome
}

func (p *Promoter) limit(e entity.QueueEntry) int {
	if e.MaxAttempts > 0 {
		return e.MaxAttempts
	}
	return p.maxAttempts
}

func (p *Promoter) validate(e entity.QueueEntry) error {
	var missing []string
	if strings.TrimSpace(e.Service) == "" {
		missing = append(missing, "service")
	}
	if strings.TrimSpace(e.Env) == "" {
		missing = append(missing, "env")
	}
	if strings.TrimSpace(e.Source.RepositoryRef) == "" {
		missing = append(missing, "source.repositoryRef")
	}
	if e.Source.Reference() == "" {
		missing = append(missing, "source.tag or source.digest")
	}
	if len(missing) > 0 {
		return invalid("missing " + strings.Join(missing, ", "))
	}
	key := e.Key()
	if !utils.IsSafeName(key.Service) {
		return invalid(fmt.Sprintf("service %q must match [a-zA-Z0-9._-]", key.Service))
	}
	if !utils.IsSafeName(key.Env) {
		return invalid(fmt.Sprintf("env %q must match [a-zA-Z0-9._-]", key.Env))
	}
	if env := key.Env; len(p.envs) > 0 && !slices.Contains(p.envs, env) {
		return invalid("env " + env + " is not promotable")
	}
	return nil
}

func invalid(detail string) error {
	return fmt.Errorf("%w: %s", ErrInvalidEntry, detail)
}

func resultOf(e entity.QueueEntry, o Outcome) EntryResult {
	return EntryResult{
		ID:         e.ID,
		Service:    e.Service,
		Env:        e.Env,
		Outcome:    o,
		Attempts:   e.Attempts,
		Digest:     e.Digest,
		EvidenceID: entity.NewID(e.EvidenceID),
	}
}
