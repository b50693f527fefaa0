package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/yz4230/release-promoter/internal/entity"
	"github.com/yz4230/release-promoter/internal/evidence"
	"github.com/yz4230/release-promoter/internal/manifest"
	"github.com/yz4230/release-promoter/internal/promoter"
)

// Write is one file replacement, Path relative to the workspace root.
type Write struct {
	Path string `json:"path"`
	Data []byte `json:"-"`
}

// Plan holds the writes of one operation. Records are the evidence records
// among them, kept decoded for the commit gate and the archive.
type Plan struct {
	Writes  []Write
	Records []entity.EvidenceRecord
}

func (p *Plan) Empty() bool { return len(p.Writes) == 0 }

func (p *Plan) Paths() []string {
	return lo.Map(p.Writes, func(w Write, _ int) string { return w.Path })
}

// put replaces an earlier write to the same path.
func (p *Plan) put(path string, data []byte) {
	for i := range p.Writes {
		if p.Writes[i].Path == path {
			p.Writes[i].Data = data
			return
		}
	}
	p.Writes = append(p.Writes, Write{Path: path, Data: data})
}

func (p *Plan) putRecord(r entity.EvidenceRecord) error {
	data, err := evidence.Encode(r)
	if err != nil {
		return fmt.Errorf("encode evidence %s: %w", r.ID, err)
	}
	p.put(EvidencePath(r.ID), data)
	for i := range p.Records {
		if p.Records[i].ID == r.ID {
			p.Records[i] = r
			return nil
		}
	}
	p.Records = append(p.Records, r)
	return nil
}

// PlanPromotion merges a promoter result into the workspace files. Files whose
// merged content is unchanged are left out, so planning an already applied
// result yields an empty plan.
func PlanPromotion(ctx context.Context, ws Workspace, res promoter.Result, defaults manifest.Defaults) (*Plan, error) {
	log := zerolog.Ctx(ctx)
	plan := &Plan{}

	current, err := ws.LoadQueue(ctx)
	if err != nil {
		return nil, err
	}
	next := res.Queue.Clone()
	next.Normalize()
	if err := next.Validate(); err != nil {
		return nil, err
	}
	if !reflect.DeepEqual(current, next) {
		data, err := EncodeQueue(next)
		if err != nil {
			return nil, fmt.Errorf("encode queue: %w", err)
		}
		plan.put(QueuePath, data)
	}

	for _, d := range res.Effects.Manifests {
		existing, err := ws.LoadManifest(ctx, d.Env, d.Service)
		if err != nil {
			return nil, err
		}
		merged, changed, err := manifest.Merge(existing, d, defaults)
		if err != nil {
			return nil, fmt.Errorf("merge manifest %s/%s: %w", d.Env, d.Service, err)
		}
		if !changed {
			log.Debug().Str("service", d.Service).Str("env", d.Env).Msg("manifest unchanged")
			continue
		}
		data, err := manifest.Encode(merged)
		if err != nil {
			return nil, fmt.Errorf("encode manifest %s/%s: %w", d.Env, d.Service, err)
		}
		plan.put(ManifestPath(d.Env, d.Service), data)
	}

	for _, d := range res.Effects.Evidence {
		existing, err := plannedOrLoaded(ctx, ws, plan, d.ID)
		if err != nil {
			return nil, err
		}
		record, changed, err := evidence.Upsert(existing, d)
		if err != nil {
			return nil, fmt.Errorf("merge evidence %s: %w", d.ID, err)
		}
		if !changed {
			log.Debug().Str("evidence", d.ID.String()).Msg("evidence unchanged")
			continue
		}
		if err := plan.putRecord(record); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// PlanBackfill stamps sha into deploy.commitSha of the given records and into
// deployCommit of the promoted queue entries they reference.
func PlanBackfill(ctx context.Context, ws Workspace, ids []entity.ID, sha string) (*Plan, error) {
	plan := &Plan{}
	queueIDs := make(map[entity.ID]bool)
	for _, id := range ids {
		r, err := ws.LoadEvidence(ctx, id)
		if err != nil {
			return nil, err
		}
		if !r.Deploy.QueueID.IsZero() {
			queueIDs[r.Deploy.QueueID] = true
		}
		updated, changed := evidence.BackfillCommit(*r, sha)
		if !changed {
			continue
		}
		if err := plan.putRecord(updated); err != nil {
			return nil, err
		}
	}
	if len(queueIDs) == 0 {
		return plan, nil
	}

	doc, err := ws.LoadQueue(ctx)
	if err != nil {
		return nil, err
	}
	touched := false
	for i, e := range doc.Promoted {
		if queueIDs[e.ID] && e.DeployCommit != sha {
			doc.Promoted[i].DeployCommit = sha
			touched = true
		}
	}
	if touched {
		data, err := EncodeQueue(doc)
		if err != nil {
			return nil, fmt.Errorf("encode queue: %w", err)
		}
		plan.put(QueuePath, data)
	}
	return plan, nil
}

// PlanCollect renders evidence/index.json and the markdown summary from all records.
func PlanCollect(ctx context.Context, ws Workspace) (*Plan, error) {
	records, err := ws.ListEvidence(ctx)
	if err != nil {
		return nil, err
	}
	feed := evidence.Feed(records)

	indexed := lo.Map(feed, func(r entity.EvidenceRecord, _ int) entity.EvidenceRecord {
		extra := maps.Clone(r.Extra)
		if extra == nil {
			extra = map[string]any{}
		}
		extra["_recordPath"] = EvidencePath(r.ID)
		r.Extra = extra
		return r
	})
	index, err := json.MarshalIndent(indexed, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode index: %w", err)
	}

	var summary bytes.Buffer
	if err := evidence.WriteSummary(&summary, feed); err != nil {
		return nil, fmt.Errorf("render summary: %w", err)
	}

	plan := &Plan{}
	plan.put(IndexPath, append(index, '\n'))
	plan.put(SummaryPath, summary.Bytes())
	zerolog.Ctx(ctx).Info().Int("records", len(records)).Msg("collected evidence")
	return plan, nil
}

func plannedOrLoaded(ctx context.Context, ws Workspace, plan *Plan, id entity.ID) (*entity.EvidenceRecord, error) {
	if r, ok := lo.Find(plan.Records, func(r entity.EvidenceRecord) bool { return r.ID == id }); ok {
		return &r, nil
	}
	r, err := ws.LoadEvidence(ctx, id)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, nil
	}
	return r, err
}
