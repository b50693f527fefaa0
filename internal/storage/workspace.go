// Package storage reads and writes the deploy repository checkout.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/yz4230/release-promoter/internal/entity"
	"github.com/yz4230/release-promoter/internal/utils"
	"gopkg.in/yaml.v3"
)

const (
	QueuePath   = "release/queue.yaml"
	EnvsDir     = "envs"
	RecordsDir  = "evidence/records"
	IndexPath   = "evidence/index.json"
	SummaryPath = "evidence/summary/latest.md"
)

func ManifestPath(env, service string) string {
	return filepath.Join(EnvsDir, env, service+".yaml")
}

func EvidencePath(id entity.ID) string {
	return filepath.Join(RecordsDir, utils.SanitizeID(id.String())+".yaml")
}

type Workspace interface {
	Root() string
	LoadQueue(ctx context.Context) (entity.QueueDocument, error)
	// LoadManifest returns nil when the manifest does not exist yet.
	LoadManifest(ctx context.Context, env, service string) (*entity.EnvManifest, error)
	// LoadEvidence returns entity.ErrNotFound when the record does not exist.
	LoadEvidence(ctx context.Context, id entity.ID) (*entity.EvidenceRecord, error)
	ListEvidence(ctx context.Context) ([]entity.EvidenceRecord, error)
	Apply(ctx context.Context, plan *Plan) error
}

type WorkspaceImpl struct {
	rootDir string
}

func (w *WorkspaceImpl) Root() string { return w.rootDir }

// LoadQueue decodes the queue and rejects documents that break the one-list-per-id rule.
func (w *WorkspaceImpl) LoadQueue(ctx context.Context) (entity.QueueDocument, error) {
	var doc entity.QueueDocument
	data, err := w.read(QueuePath)
	if errors.Is(err, fs.ErrNotExist) {
		zerolog.Ctx(ctx).Debug().Str("path", QueuePath).Msg("queue missing, starting empty")
		doc.Normalize()
		return doc, nil
	}
	if err != nil {
		return doc, err
	}
	doc, err = DecodeQueue(data)
	if err != nil {
		return doc, fmt.Errorf("%s: %w", QueuePath, err)
	}
	return doc, nil
}

func (w *WorkspaceImpl) LoadManifest(ctx context.Context, env, service string) (*entity.EnvManifest, error) {
	path := ManifestPath(env, service)
	data, err := w.read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m entity.EnvManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &m, nil
}

func (w *WorkspaceImpl) LoadEvidence(ctx context.Context, id entity.ID) (*entity.EvidenceRecord, error) {
	path := EvidencePath(id)
	data, err := w.read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("evidence %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var r entity.EvidenceRecord
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &r, nil
}

// ListEvidence returns every record under evidence/records in file name order.
func (w *WorkspaceImpl) ListEvidence(ctx context.Context) ([]entity.EvidenceRecord, error) {
	entries, err := os.ReadDir(w.abs(RecordsDir))
	if errors.Is(err, fs.ErrNotExist) {
		return []entity.EvidenceRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", RecordsDir, err)
	}
	names := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		return e.Name(), !e.IsDir() && strings.HasSuffix(e.Name(), ".yaml")
	})
	slices.Sort(names)

	records := make([]entity.EvidenceRecord, 0, len(names))
	for _, name := range names {
		path := filepath.Join(RecordsDir, name)
		data, err := w.read(path)
		if err != nil {
			return nil, err
		}
		var r entity.EvidenceRecord
		if err := yaml.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		records = append(records, r)
	}
	zerolog.Ctx(ctx).Debug().Int("count", len(records)).Msg("loaded evidence records")
	return records, nil
}

// Apply writes every file of plan. Each file is replaced atomically; a crash
// between files leaves a subset written, which a rerun converges.
func (w *WorkspaceImpl) Apply(ctx context.Context, plan *Plan) error {
	log := zerolog.Ctx(ctx)
	for _, wr := range plan.Writes {
		if err := writeAtomic(w.abs(wr.Path), wr.Data); err != nil {
			return fmt.Errorf("write %s: %w", wr.Path, err)
		}
		log.Debug().Str("path", wr.Path).Int("bytes", len(wr.Data)).Msg("wrote file")
	}
	return nil
}

func (w *WorkspaceImpl) read(rel string) ([]byte, error) {
	data, err := os.ReadFile(w.abs(rel))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	return data, err
}

func (w *WorkspaceImpl) abs(rel string) string {
	return filepath.Join(w.rootDir, rel)
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// DecodeQueue parses, normalizes and validates a queue document.
func DecodeQueue(data []byte) (entity.QueueDocument, error) {
	var doc entity.QueueDocument
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return doc, fmt.Errorf("%w: %w", entity.ErrCorruptQueue, err)
		}
	}
	doc.Normalize()
	return doc, doc.Validate()
}

func EncodeQueue(doc entity.QueueDocument) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func NewWorkspace(root string) Workspace {
	return &WorkspaceImpl{rootDir: lo.Must(filepath.Abs(root))}
}
