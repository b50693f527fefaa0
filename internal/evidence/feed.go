package evidence

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/yz4230/release-promoter/internal/entity"
)

// SummaryLimit caps the rows of the markdown summary.
const SummaryLimit = 50

var approvalLinks = []string{"specPr", "archPr", "demoPr", "uatPr", "releasePr"}

// Timestamp orders records: deploy.syncedAt, else promotedAt.
func Timestamp(r entity.EvidenceRecord) time.Time {
	if t := entity.ParseTime(r.Deploy.SyncedAt); !t.IsZero() {
		return t
	}
	return entity.ParseTime(r.PromotedAt)
}

// Feed returns records newest first. Ties keep their input order.
func Feed(records []entity.EvidenceRecord) []entity.EvidenceRecord {
	out := slices.Clone(records)
	slices.SortStableFunc(out, func(a, b entity.EvidenceRecord) int {
		return Timestamp(b).Compare(Timestamp(a))
	})
	return out
}

// ShortDigest returns the first 16 hex characters of a digest or image ref.
func ShortDigest(ref string) string {
	_, hex, ok := strings.Cut(ref, "sha256:")
	if !ok {
		return ""
	}
	return hex[:min(16, len(hex))]
}

// WriteSummary renders the newest records (already ordered by Feed) as a markdown table.
func WriteSummary(w io.Writer, records []entity.EvidenceRecord) error {
	var b strings.Builder
	b.WriteString("# Latest Evidence Summary\n\n")
	b.WriteString("| service | env | digest | syncedAt | smoke | links |\n")
	b.WriteString("| --- | --- | --- | --- | --- | --- |\n")
	for _, r := range records[:min(SummaryLimit, len(records))] {
		fmt.Fprintf(&b, "| %s | %s | `%s` | %s | %s | %s |\n",
			orDash(r.Service),
			orDash(r.Env),
			orDash(ShortDigest(r.Image.Ref)),
			orDash(r.Deploy.SyncedAt),
			r.SmokeStatus(),
			links(r),
		)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func links(r entity.EvidenceRecord) string {
	var out []string
	if r.Source.WorkflowRun != "" {
		out = append(out, fmt.Sprintf("[run](%s)", r.Source.WorkflowRun))
	}
	for _, key := range approvalLinks {
		if v, ok := r.Approvals[key].(string); ok && v != "" {
			out = append(out, fmt.Sprintf("[%s](%s)", key, v))
		}
	}
	if prs, ok := r.Approvals["prs"].([]any); ok {
		urls := lo.FilterMap(prs, func(pr any, _ int) (string, bool) {
			s, ok := pr.(string)
			return s, ok && s != ""
		})
		for i, u := range urls {
			out = append(out, fmt.Sprintf("[pr%d](%s)", i+1, u))
		}
	}
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, " ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
