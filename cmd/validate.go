package cmd

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samber/do"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/yz4230/release-promoter/internal/entity"
	"github.com/yz4230/release-promoter/internal/usecase"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check workspace documents",
}

var validateQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Check release/queue.yaml",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, injector, err := setup(cmd)
		if err != nil {
			return err
		}
		usecase := do.MustInvoke[usecase.ValidateQueueUsecase](injector)
		counts, err := usecase.Execute(ctx)
		if err != nil {
			return err
		}
		zerolog.Ctx(ctx).Info().
			Int("pending", counts[entity.StatusPending]).
			Int("promoted", counts[entity.StatusPromoted]).
			Int("failed", counts[entity.StatusFailed]).
			Int("superseded", counts[entity.StatusSuperseded]).
			Msg("queue ok")
		return nil
	},
}

var validateEvidenceCmd = &cobra.Command{
	Use:   "evidence [ID...]",
	Short: "Check evidence records, all of them when no id is given",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, injector, err := setup(cmd)
		if err != nil {
			return err
		}
		usecase := do.MustInvoke[usecase.ValidateEvidenceUsecase](injector)
		n, err := usecase.Execute(ctx, lo.Map(args, func(a string, _ int) entity.ID { return entity.NewID(a) }))
		if err != nil {
			return fmt.Errorf("evidence validation failed: %w", err)
		}
		zerolog.Ctx(ctx).Info().Int("records", n).Msg("evidence ok")
		return nil
	},
}

func init() {
	validateCmd.AddCommand(validateQueueCmd)
	validateCmd.AddCommand(validateEvidenceCmd)
}
