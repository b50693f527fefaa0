package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/do"
	"github.com/samber/lo"
	"github.com/yz4230/release-promoter/internal/archive"
	"github.com/yz4230/release-promoter/internal/config"
	"github.com/yz4230/release-promoter/internal/entity"
	"github.com/yz4230/release-promoter/internal/evidence"
	"github.com/yz4230/release-promoter/internal/git"
	"github.com/yz4230/release-promoter/internal/manifest"
	"github.com/yz4230/release-promoter/internal/notify"
	"github.com/yz4230/release-promoter/internal/promoter"
	"github.com/yz4230/release-promoter/internal/repository"
	"github.com/yz4230/release-promoter/internal/storage"
)

type PromoteOptions struct {
	// DryRun computes and plans everything and writes nothing.
	DryRun bool
	Commit bool
	Push   bool
}

type PromoteReport struct {
	Run    *entity.PromotionRun
	Result promoter.Result
	// Paths are the files written, or that would be written on a dry run.
	Paths []string
	// Records are the evidence records as last written.
	Records []entity.EvidenceRecord
}

type PromoteUsecase interface {
	Execute(ctx context.Context, opts PromoteOptions) (*PromoteReport, error)
}

type promoteUsecaseImpl struct {
	cfg       *config.Config
	workspace storage.Workspace
	promoter  *promoter.Promoter
	vcs       git.VersionControlClient
	// runs is resolved on first use so dry runs never open the history store.
	runs      func() (repository.RunRepository, error)
	publisher notify.Publisher
	archiver  archive.Archiver
	now       func() time.Time
}

// Execute runs one promotion pass. Entry failures end up in the report;
// only batch-level problems (unreadable or corrupt workspace, failed evidence
// gate, failed commit or push) are returned as errors. History, events and
// the archive are written after the fact, never fail the run and are all
// skipped on a dry run.
func (u *promoteUsecaseImpl) Execute(ctx context.Context, opts PromoteOptions) (*PromoteReport, error) {
	run := &entity.PromotionRun{
		ID:        entity.NewRunID(),
		StartedAt: u.now().UTC(),
		DryRun:    opts.DryRun,
	}
	ctx = zerolog.Ctx(ctx).With().Str("run", run.ID.String()).Logger().WithContext(ctx)
	report := &PromoteReport{Run: run}

	err := u.execute(ctx, opts, report)
	run.FinishedAt = u.now().UTC()
	if err != nil {
		run.Error = err.Error()
	}
	if !opts.DryRun {
		u.recordHistory(ctx, run)
		u.publish(ctx, run)
		u.archive(ctx, report.Records)
	}
	return report, err
}

func (u *promoteUsecaseImpl) execute(ctx context.Context, opts PromoteOptions, report *PromoteReport) error {
	log := zerolog.Ctx(ctx)

	doc, err := u.workspace.LoadQueue(ctx)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	res := u.promoter.Run(ctx, doc)
	report.Result = res
	fillRun(report.Run, res)

	plan, err := storage.PlanPromotion(ctx, u.workspace, res, manifest.Defaults{
		Replicas:        u.cfg.Manifest.DefaultReplicas,
		ResourceProfile: u.cfg.Manifest.DefaultResourceProfile,
	})
	if err != nil {
		return fmt.Errorf("plan writes: %w", err)
	}
	report.Paths = plan.Paths()
	if plan.Empty() {
		log.Info().Msg("no changes made, nothing ready or no normalization needed")
		return nil
	}
	if err := gate(plan.Records); err != nil {
		return err
	}

	counts := res.Queue.Counts()
	event := log.Info().
		Bool("dry_run", opts.DryRun).
		Int("env_changes", len(res.Effects.Manifests)).
		Int("evidence_changes", len(plan.Records)).
		Int("promoted", res.Count(promoter.OutcomePromoted)).
		Int("pending", counts[entity.StatusPending]).
		Int("failed", counts[entity.StatusFailed]).
		Int("superseded", counts[entity.StatusSuperseded]).
		Strs("paths", report.Paths)
	if opts.DryRun {
		event.Msg("dry run, nothing written")
		return nil
	}
	event.Msg("applying promotion")

	if err := u.workspace.Apply(ctx, plan); err != nil {
		return fmt.Errorf("apply writes: %w", err)
	}
	report.Records = plan.Records
	if !opts.Commit {
		return nil
	}
	return u.commit(ctx, opts, report, res, plan)
}

func (u *promoteUsecaseImpl) commit(ctx context.Context, opts PromoteOptions, report *PromoteReport, res promoter.Result, plan *storage.Plan) error {
	log := zerolog.Ctx(ctx)
	g := u.cfg.Git

	if err := u.vcs.ConfigUser(ctx, g.AuthorName, g.AuthorEmail); err != nil {
		return fmt.Errorf("configure git author: %w", err)
	}
	if err := u.vcs.Add(ctx, plan.Paths()...); err != nil {
		return fmt.Errorf("stage changes: %w", err)
	}
	staged, err := u.vcs.StagedFiles(ctx)
	if err != nil {
		return fmt.Errorf("list staged files: %w", err)
	}
	if len(staged) == 0 {
		log.Info().Msg("no changes to commit")
		return nil
	}
	if err := u.vcs.Commit(ctx, CommitMessage(res.Effects)); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	sha, err := u.vcs.Head(ctx)
	if err != nil {
		return fmt.Errorf("resolve commit: %w", err)
	}
	report.Run.Commit = sha

	ids := lo.Map(plan.Records, func(r entity.EvidenceRecord, _ int) entity.ID { return r.ID })
	backfill, err := storage.PlanBackfill(ctx, u.workspace, ids, sha)
	if err != nil {
		return fmt.Errorf("plan commit backfill: %w", err)
	}
	if !backfill.Empty() {
		if err := gate(backfill.Records); err != nil {
			return err
		}
		if err := u.workspace.Apply(ctx, backfill); err != nil {
			return fmt.Errorf("apply commit backfill: %w", err)
		}
		if err := u.vcs.Add(ctx, backfill.Paths()...); err != nil {
			return fmt.Errorf("stage commit backfill: %w", err)
		}
		if err := u.vcs.Amend(ctx); err != nil {
			return fmt.Errorf("amend commit: %w", err)
		}
		report.Records = backfill.Records
	}
	log.Info().Str("commit", sha).Strs("files", staged).Msg("committed promotion")

	if !opts.Push {
		return nil
	}
	refspec := "HEAD:" + g.Branch
	if err := u.vcs.Push(ctx, g.Remote, refspec); err != nil {
		return fmt.Errorf("push %s %s: %w", g.Remote, refspec, err)
	}
	log.Info().Str("remote", g.Remote).Str("refspec", refspec).Msg("pushed promotion")
	return nil
}

func (u *promoteUsecaseImpl) recordHistory(ctx context.Context, run *entity.PromotionRun) {
	runs, err := u.runs()
	if err == nil {
		_, err = runs.Create(ctx, run)
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to record run history")
	}
}

func (u *promoteUsecaseImpl) publish(ctx context.Context, run *entity.PromotionRun) {
	if err := u.publisher.Publish(ctx, notify.EventsOf(run)); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to publish promotion events")
	}
}

func (u *promoteUsecaseImpl) archive(ctx context.Context, records []entity.EvidenceRecord) {
	for _, r := range records {
		if _, err := u.archiver.ArchiveRecord(ctx, r); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("evidence", r.ID.String()).Msg("failed to archive evidence")
		}
	}
}

// gate rejects malformed evidence before anything reaches disk.
func gate(records []entity.EvidenceRecord) error {
	var errs []error
	for _, r := range records {
		if err := evidence.Validate(r); err != nil {
			errs = append(errs, fmt.Errorf("evidence %s: %w", r.ID, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("evidence gate: %w", errors.Join(errs...))
	}
	return nil
}

func fillRun(run *entity.PromotionRun, res promoter.Result) {
	run.Promoted = res.Count(promoter.OutcomePromoted)
	run.Retried = res.Count(promoter.OutcomeRetry)
	run.Failed = res.Count(promoter.OutcomeFailed)
	run.Superseded = res.Count(promoter.OutcomeSuperseded)
	run.Skipped = res.Count(promoter.OutcomeSkipped)
	run.Entries = lo.Map(res.Entries, func(e promoter.EntryResult, _ int) entity.RunEntry {
		return entity.RunEntry{
			QueueID:    e.ID,
			Service:    e.Service,
			Env:        e.Env,
			Outcome:    string(e.Outcome),
			Attempts:   e.Attempts,
			Digest:     e.Digest,
			EvidenceID: e.EvidenceID,
			Error:      e.Error,
		}
	})
}

// CommitMessage names the first promotion of a run, or the normalization
// when nothing was promoted.
func CommitMessage(effects promoter.Effects) string {
	if len(effects.Evidence) == 0 {
		return "promote: queue normalize [skip ci]"
	}
	first := effects.Evidence[0]
	ref := first.Tag
	if ref == "" {
		ref = evidence.ShortDigest(first.Digest)
	}
	msg := fmt.Sprintf("promote(%s): %s %s", first.Env, first.Service, ref)
	if n := len(effects.Evidence) - 1; n > 0 {
		msg += fmt.Sprintf(" (+%d more)", n)
	}
	return msg + " [skip ci]"
}

func NewPromoteUsecase(injector *do.Injector) (PromoteUsecase, error) {
	return &promoteUsecaseImpl{
		cfg:       do.MustInvoke[*config.Config](injector),
		workspace: do.MustInvoke[storage.Workspace](injector),
		promoter:  do.MustInvoke[*promoter.Promoter](injector),
		vcs:       do.MustInvoke[git.VersionControlClient](injector),
		runs: func() (repository.RunRepository, error) {
			return do.Invoke[repository.RunRepository](injector)
		},
		publisher: do.MustInvoke[notify.Publisher](injector),
		archiver:  do.MustInvoke[archive.Archiver](injector),
		now:       time.Now,
	}, nil
}
