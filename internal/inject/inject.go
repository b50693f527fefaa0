// Package inject wires the promoter's services into a samber/do injector.
package inject

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/samber/do"
	"github.com/yz4230/release-promoter/internal/archive"
	"github.com/yz4230/release-promoter/internal/config"
	"github.com/yz4230/release-promoter/internal/git"
	"github.com/yz4230/release-promoter/internal/notify"
	"github.com/yz4230/release-promoter/internal/promoter"
	"github.com/yz4230/release-promoter/internal/registry"
	"github.com/yz4230/release-promoter/internal/repository"
	"github.com/yz4230/release-promoter/internal/storage"
	"github.com/yz4230/release-promoter/internal/usecase"
	"gorm.io/gorm"
)

// New returns an injector for cfg. Services are built lazily on first use,
// so a command that never touches the registry never dials it.
func New(cfg *config.Config, logger zerolog.Logger) *do.Injector {
	injector := do.New()
	do.ProvideValue(injector, cfg)
	Provide(injector, logger)
	return injector
}

// Provide registers every service except *config.Config, which must already be present.
func Provide(injector *do.Injector, logger zerolog.Logger) {
	do.Provide(injector, func(i *do.Injector) (storage.Workspace, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return storage.NewWorkspace(cfg.Root), nil
	})
	do.Provide(injector, func(i *do.Injector) (*gorm.DB, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return repository.NewSQLiteDB(historyDir(cfg))
	})
	do.Provide(injector, func(i *do.Injector) (repository.RunRepository, error) {
		db := do.MustInvoke[*gorm.DB](i)
		return repository.NewRunRepository(db), nil
	})
	do.Provide(injector, func(i *do.Injector) (git.VersionControlClient, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return git.NewExecClient(cfg.Root), nil
	})
	do.Provide(injector, func(i *do.Injector) (registry.Client, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return newRegistryClient(cfg, logger)
	})
	do.Provide(injector, func(i *do.Injector) (*promoter.Promoter, error) {
		cfg := do.MustInvoke[*config.Config](i)
		client := do.MustInvoke[registry.Client](i)
		return promoter.New(registry.NewResolver(client, cfg.Registry.Timeout), promoter.Options{
			MaxAttempts:  cfg.MaxAttempts,
			Environments: cfg.Environments,
		}), nil
	})
	do.Provide(injector, func(i *do.Injector) (notify.Publisher, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if len(cfg.Kafka.Brokers) == 0 {
			return notify.NopPublisher{}, nil
		}
		logger.Debug().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("publishing promotion events")
		return notify.NewKafkaPublisher(notify.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
	})
	do.Provide(injector, func(i *do.Injector) (archive.Archiver, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.Archive.Bucket == "" {
			return archive.NopArchiver{}, nil
		}
		logger.Debug().Str("bucket", cfg.Archive.Bucket).Str("prefix", cfg.Archive.Prefix).Msg("archiving evidence")
		return archive.NewS3Archiver(context.Background(), cfg.Archive.Bucket, cfg.Archive.Prefix)
	})

	do.Provide(injector, usecase.NewPromoteUsecase)
	do.Provide(injector, usecase.NewValidateQueueUsecase)
	do.Provide(injector, usecase.NewValidateEvidenceUsecase)
	do.Provide(injector, usecase.NewCollectEvidenceUsecase)
	do.Provide(injector, usecase.NewBackfillEvidenceUsecase)
	do.Provide(injector, usecase.NewGetQueueUsecase)
	do.Provide(injector, usecase.NewListEvidenceUsecase)
	do.Provide(injector, usecase.NewGetEvidenceUsecase)
	do.Provide(injector, usecase.NewListRunsUsecase)
	do.Provide(injector, usecase.NewGetRunUsecase)
}

func newRegistryClient(cfg *config.Config, logger zerolog.Logger) (registry.Client, error) {
	r := cfg.Registry
	if r.SkipCheck {
		logger.Warn().Msg("registry check skipped, tags resolve to synthetic digests")
		return registry.StaticClient{}, nil
	}
	switch r.Mode {
	case config.RegistryModeDocker:
		return registry.NewDockerClient(r.Username, r.Password, r.URL)
	case config.RegistryModeHTTP, "":
		return registry.NewHTTPClient(registry.HTTPClientConfig{
			URL:      r.URL,
			Username: r.Username,
			Password: r.Password,
		})
	}
	return nil, fmt.Errorf("unknown registry mode %q", r.Mode)
}

// historyDir resolves cfg.HistoryDir against the workspace root.
func historyDir(cfg *config.Config) string {
	if cfg.HistoryDir == "" || filepath.IsAbs(cfg.HistoryDir) {
		return cfg.HistoryDir
	}
	return filepath.Join(cfg.Root, cfg.HistoryDir)
}
