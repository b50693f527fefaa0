package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/yz4230/release-promoter/internal/server"
)

var serveFlags struct {
	port int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only status API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.Port = serveFlags.port
		}
		_, injector, err := setup(cmd)
		if err != nil {
			return err
		}

		srvCfg := &server.Config{Port: cfg.Port, Logger: log.Logger}
		srv := server.New(srvCfg, injector)
		chSignal := make(chan os.Signal, 1)
		signal.Notify(chSignal, os.Interrupt, syscall.SIGTERM)

		wg := &sync.WaitGroup{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srvCfg.Logger.Fatal().Err(err).Msg("server error")
			}
		}()

		sig := <-chSignal
		srvCfg.Logger.Info().Str("signal", sig.String()).Msg("shutting down server...")
		if err := srv.Stop(context.Background()); err != nil {
			srvCfg.Logger.Error().Err(err).Msg("error during server shutdown")
		}

		wg.Wait()
		srvCfg.Logger.Info().Msg("server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVarP(&serveFlags.port, "port", "p", 8080, "Port to listen on")
}
