package cmd

import (
	"errors"

	"github.com/rs/zerolog"
	"github.com/samber/do"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/yz4230/release-promoter/internal/entity"
	"github.com/yz4230/release-promoter/internal/usecase"
)

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Maintain the evidence ledger",
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Rebuild evidence/index.json and the latest summary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, injector, err := setup(cmd)
		if err != nil {
			return err
		}
		usecase := do.MustInvoke[usecase.CollectEvidenceUsecase](injector)
		paths, err := usecase.Execute(ctx)
		if err != nil {
			return err
		}
		zerolog.Ctx(ctx).Info().Strs("paths", paths).Msg("evidence collected")
		return nil
	},
}

var backfillFlags struct {
	commit string
}

var backfillCmd = &cobra.Command{
	Use:   "backfill --commit SHA ID...",
	Short: "Stamp the deploy commit into evidence records",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFlags.commit == "" {
			return errors.New("--commit is required")
		}
		ctx, injector, err := setup(cmd)
		if err != nil {
			return err
		}
		usecase := do.MustInvoke[usecase.BackfillEvidenceUsecase](injector)
		ids := lo.Map(args, func(a string, _ int) entity.ID { return entity.NewID(a) })
		paths, err := usecase.Execute(ctx, backfillFlags.commit, ids)
		if err != nil {
			return err
		}
		zerolog.Ctx(ctx).Info().Str("commit", backfillFlags.commit).Strs("paths", paths).Msg("evidence backfilled")
		return nil
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFlags.commit, "commit", "", "Deploy commit sha")
	evidenceCmd.AddCommand(collectCmd)
	evidenceCmd.AddCommand(backfillCmd)
}
