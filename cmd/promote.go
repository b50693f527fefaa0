package cmd

import (
	"errors"

	"github.com/rs/zerolog"
	"github.com/samber/do"
	"github.com/spf13/cobra"
	"github.com/yz4230/release-promoter/internal/notify"
	"github.com/yz4230/release-promoter/internal/usecase"
)

var promoteFlags struct {
	dryRun            bool
	commit            bool
	push              bool
	maxAttempts       int
	registryURL       string
	registryMode      string
	skipRegistryCheck bool
}

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Run one promotion pass over release/queue.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("dry-run") {
			cfg.DryRun = promoteFlags.dryRun
		}
		if flags.Changed("commit") {
			cfg.Git.Commit = promoteFlags.commit
		}
		if flags.Changed("push") {
			cfg.Git.Push = promoteFlags.push
		}
		if flags.Changed("max-attempts") {
			cfg.MaxAttempts = promoteFlags.maxAttempts
		}
		if flags.Changed("registry-url") {
			cfg.Registry.URL = promoteFlags.registryURL
		}
		if flags.Changed("registry-mode") {
			cfg.Registry.Mode = promoteFlags.registryMode
		}
		if flags.Changed("skip-registry-check") {
			cfg.Registry.SkipCheck = promoteFlags.skipRegistryCheck
		}

		if cfg.Registry.SkipCheck && !cfg.DryRun {
			return errors.New("--skip-registry-check requires --dry-run")
		}

		ctx, injector, err := setup(cmd)
		if err != nil {
			return err
		}
		publisher := do.MustInvoke[notify.Publisher](injector)
		defer publisher.Close()

		promote := do.MustInvoke[usecase.PromoteUsecase](injector)
		report, err := promote.Execute(ctx, usecase.PromoteOptions{
			DryRun: cfg.DryRun,
			Commit: cfg.Git.Commit,
			Push:   cfg.Git.Commit && cfg.Git.Push,
		})
		if report != nil {
			log := zerolog.Ctx(ctx)
			for _, e := range report.Result.Entries {
				log.Info().
					Str("entry", e.ID.String()).
					Str("service", e.Service).
					Str("env", e.Env).
					Str("outcome", string(e.Outcome)).
					Int("attempts", e.Attempts).
					Str("digest", e.Digest).
					Str("error", e.Error).
					Msg("entry processed")
			}
			log.Info().
				Str("run", report.Run.ID.String()).
				Int("promoted", report.Run.Promoted).
				Int("retried", report.Run.Retried).
				Int("failed", report.Run.Failed).
				Int("superseded", report.Run.Superseded).
				Int("skipped", report.Run.Skipped).
				Str("commit", report.Run.Commit).
				Msg("promotion finished")
		}
		return err
	},
}

func init() {
	f := promoteCmd.Flags()
	f.BoolVar(&promoteFlags.dryRun, "dry-run", false, "Plan the promotion without writing anything")
	f.BoolVar(&promoteFlags.commit, "commit", false, "Commit the written files")
	f.BoolVar(&promoteFlags.push, "push", false, "Push the commit (implies nothing without --commit)")
	f.IntVar(&promoteFlags.maxAttempts, "max-attempts", 3, "Attempts before an entry is moved to failed")
	f.StringVar(&promoteFlags.registryURL, "registry-url", "", "Registry base URL")
	f.StringVar(&promoteFlags.registryMode, "registry-mode", "http", "Registry lookup mode: http or docker")
	f.BoolVar(&promoteFlags.skipRegistryCheck, "skip-registry-check", false, "Do not contact the registry (dry runs only)")
}
