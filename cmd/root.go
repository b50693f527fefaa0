package cmd

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/do"
	"github.com/spf13/cobra"
	"github.com/yz4230/release-promoter/internal/config"
	"github.com/yz4230/release-promoter/internal/inject"
)

var rootFlags struct {
	verbose bool
	config  string
	root    string
}

// cfg is loaded before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "promoter",
	Short:         "Promote queued releases into environment manifests and record evidence",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		if rootFlags.verbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}

		loaded, err := config.Load(rootFlags.config)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("root") {
			loaded.Root = rootFlags.root
		}
		cfg = loaded
		log.Debug().Str("root", cfg.Root).Msg("loaded config")
		return nil
	},
}

// setup puts the logger into the command context and builds the injector.
// Flag overrides must be applied to cfg before calling it.
func setup(cmd *cobra.Command) (context.Context, *do.Injector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	ctx := log.Logger.WithContext(cmd.Context())
	return ctx, inject.New(cfg, log.Logger), nil
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&rootFlags.verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&rootFlags.config, "config", "", "Config file (default "+config.DefaultFile+" when present)")
	rootCmd.PersistentFlags().StringVarP(&rootFlags.root, "root", "r", ".", "Deploy repository checkout to operate on")

	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(evidenceCmd)
	rootCmd.AddCommand(serveCmd)
}
