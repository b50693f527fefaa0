package promoter

import (
	"fmt"
	"slices"
	"time"

	"github.com/yz4230/release-promoter/internal/entity"
)

type group struct {
	key entity.Key
	// solo is the queue position + 1 of an entry that cannot be keyed.
	solo int
}

// Supersede keeps the newest pending entry per service/env and moves the rest
// out. Groups are returned in order of first appearance; within a group
// entries are ordered by createdAt, ties keeping queue order. Entries without
// a service or env are never grouped so validation can reject them one by one.
func Supersede(pending []entity.QueueEntry, now time.Time) (survivors, superseded []entity.QueueEntry) {
	var order []group
	groups := make(map[group][]entity.QueueEntry)
	for i, e := range pending {
		g := group{key: e.Key()}
		if g.key.Service == "" || g.key.Env == "" {
			g.solo = i + 1
		}
		if _, ok := groups[g]; !ok {
			order = append(order, g)
		}
		groups[g] = append(groups[g], e)
	}

	stamp := entity.FormatTime(now)
	for _, g := range order {
		entries := groups[g]
		slices.SortStableFunc(entries, func(a, b entity.QueueEntry) int {
			return a.CreatedTime().Compare(b.CreatedTime())
		})
		keeper := entries[len(entries)-1]
		survivors = append(survivors, keeper)
		for _, older := range entries[:len(entries)-1] {
			older.Status = entity.StatusSuperseded
			older.SupersededAt = stamp
			older.Reason = fmt.Sprintf("replaced by newer pending entry %s for same service+env", keeper.ID)
			superseded = append(superseded, older)
		}
	}
	return survivors, superseded
}
