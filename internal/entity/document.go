package entity

import (
	"errors"
	"fmt"
	"slices"
)

// QueueDocument is one snapshot of release/queue.yaml.
// Pending entries are mutable; the other lists only grow.
type QueueDocument struct {
	Pending    []QueueEntry `yaml:"pending" json:"pending"`
	Promoted   []QueueEntry `yaml:"promoted" json:"promoted"`
	Failed     []QueueEntry `yaml:"failed" json:"failed"`
	Superseded []QueueEntry `yaml:"superseded" json:"superseded"`
}

func (d *QueueDocument) List(s Status) []QueueEntry {
	switch s {
	case StatusPending:
		return d.Pending
	case StatusPromoted:
		return d.Promoted
	case StatusFailed:
		return d.Failed
	case StatusSuperseded:
		return d.Superseded
	}
	panic(fmt.Sprintf("unknown status %q", string(s)))
}

// Clone returns a deep copy; entries hold no pointers so a slice copy is enough.
func (d QueueDocument) Clone() QueueDocument {
	return QueueDocument{
		Pending:    slices.Clone(d.Pending),
		Promoted:   slices.Clone(d.Promoted),
		Failed:     slices.Clone(d.Failed),
		Superseded: slices.Clone(d.Superseded),
	}
}

// Normalize fills empty entry statuses from the list they live in and
// replaces nil lists with empty ones so the document always encodes all four keys.
func (d *QueueDocument) Normalize() {
	fill := func(list []QueueEntry, s Status) []QueueEntry {
		if list == nil {
			return []QueueEntry{}
		}
		for i := range list {
			if list[i].Status == "" {
				list[i].Status = s
			}
		}
		return list
	}
	d.Pending = fill(d.Pending, StatusPending)
	d.Promoted = fill(d.Promoted, StatusPromoted)
	d.Failed = fill(d.Failed, StatusFailed)
	d.Superseded = fill(d.Superseded, StatusSuperseded)
}

// Validate checks the document-wide invariants: every id is non-empty,
// unique and appears in exactly one list whose status matches the entry.
func (d *QueueDocument) Validate() error {
	seen := make(map[ID]Status)
	var errs []error
	for _, s := range Statuses {
		for i, e := range d.List(s) {
			if e.ID.IsZero() {
				errs = append(errs, fmt.Errorf("%s[%d]: missing id", s, i))
				continue
			}
			if prev, ok := seen[e.ID]; ok {
				if prev == s {
					errs = append(errs, fmt.Errorf("%s[%d]: id %q listed twice", s, i, e.ID))
				} else {
					errs = append(errs, fmt.Errorf("%s[%d]: id %q also present in %s", s, i, e.ID, prev))
				}
				continue
			}
			seen[e.ID] = s
			if e.Status != "" && e.Status != s {
				errs = append(errs, fmt.Errorf("%s[%d]: id %q has status %q", s, i, e.ID, e.Status))
			}
			if e.Attempts < 0 {
				errs = append(errs, fmt.Errorf("%s[%d]: id %q has negative attempts", s, i, e.ID))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrCorruptQueue, errors.Join(errs...))
	}
	return nil
}

// Index maps every id to the list holding it.
func (d *QueueDocument) Index() map[ID]Status {
	idx := make(map[ID]Status)
	for _, s := range Statuses {
		for _, e := range d.List(s) {
			idx[e.ID] = s
		}
	}
	return idx
}

func (d *QueueDocument) Counts() map[Status]int {
	return map[Status]int{
		StatusPending:    len(d.Pending),
		StatusPromoted:   len(d.Promoted),
		StatusFailed:     len(d.Failed),
		StatusSuperseded: len(d.Superseded),
	}
}
