package audit

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"submission_service/internal/domain"
)

var csvHeader = []string{
	"seq", "createdAt", "action", "actorId", "submissionId", "version",
	"projectId", "milestoneType", "ip", "userAgent", "hash",
}

// WriteCSV writes every event matching filter, newest first, page by page.
// Paging fields of filter are ignored.
func (s *Store) WriteCSV(ctx context.Context, filter domain.AuditFilter, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	filter.Limit = MaxLimit
	for page := 1; ; page++ {
		filter.Page = page
		res, err := s.List(ctx, filter)
		if err != nil {
			return err
		}
		for _, e := range res.Items {
			record := []string{
				strconv.FormatInt(e.Seq, 10),
				e.CreatedAt.Format(time.RFC3339),
				string(e.Action),
				e.ActorID.String(),
				e.SubmissionID.String(),
				strconv.Itoa(e.VersionNumber),
				e.ProjectID.String(),
				e.MilestoneType,
				e.IP,
				e.UserAgent,
				e.Hash,
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
		if len(res.Items) < MaxLimit || page*MaxLimit >= res.Total {
			break
		}
	}

	cw.Flush()
	return cw.Error()
}
