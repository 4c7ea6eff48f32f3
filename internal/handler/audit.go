package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"submission_service/internal/audit"
	"submission_service/internal/domain"
)

type AuditStore interface {
	List(ctx context.Context, filter domain.AuditFilter) (domain.AuditPage, error)
	Verify(ctx context.Context) (audit.VerifyResult, error)
	WriteCSV(ctx context.Context, filter domain.AuditFilter, w io.Writer) error
}

type AuditHandler struct {
	store AuditStore
}

func NewAuditHandler(store AuditStore) *AuditHandler {
	return &AuditHandler{store: store}
}

// RegisterRoutes mounts the audit endpoints. adminOnly runs after authentication.
func (h *AuditHandler) RegisterRoutes(r chi.Router, authMiddleware, adminOnly func(http.Handler) http.Handler) {
	r.With(authMiddleware, adminOnly).Get("/events", h.listEvents)
	r.With(authMiddleware, adminOnly).Get("/verify", h.verify)
}

type auditEventResponse struct {
	ID            uuid.UUID `json:"id"`
	Seq           int64     `json:"seq"`
	SubmissionID  uuid.UUID `json:"submissionId"`
	ActorID       uuid.UUID `json:"actorId"`
	Action        string    `json:"action"`
	VersionNumber int       `json:"versionNumber"`
	ProjectID     uuid.UUID `json:"projectId"`
	MilestoneType string    `json:"milestoneType"`
	IP            string    `json:"ip,omitempty"`
	UserAgent     string    `json:"userAgent,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	Hash          string    `json:"hash"`
}

type auditPageResponse struct {
	Total int                  `json:"total"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
	Items []auditEventResponse `json:"items"`
}

func (h *AuditHandler) listEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="file-events.csv"`)
		if err := h.store.WriteCSV(r.Context(), filter, w); err != nil {
			panic(http.ErrAbortHandler)
		}
		return
	}

	page, err := h.store.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := auditPageResponse{Total: page.Total, Page: page.Page, Limit: page.Limit, Items: make([]auditEventResponse, 0, len(page.Items))}
	for _, e := range page.Items {
		resp.Items = append(resp.Items, auditEventResponse{
			ID:            e.ID,
			Seq:           e.Seq,
			SubmissionID:  e.SubmissionID,
			ActorID:       e.ActorID,
			Action:        string(e.Action),
			VersionNumber: e.VersionNumber,
			ProjectID:     e.ProjectID,
			MilestoneType: e.MilestoneType,
			IP:            e.IP,
			UserAgent:     e.UserAgent,
			CreatedAt:     e.CreatedAt,
			Hash:          e.Hash,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AuditHandler) verify(w http.ResponseWriter, r *http.Request) {
	res, err := h.store.Verify(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func parseAuditFilter(r *http.Request) (domain.AuditFilter, error) {
	q := r.URL.Query()
	var f domain.AuditFilter

	ids := map[string]**uuid.UUID{
		"actorId":      &f.ActorID,
		"projectId":    &f.ProjectID,
		"submissionId": &f.SubmissionID,
	}
	for name, dst := range ids {
		if v := q.Get(name); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return f, fmt.Errorf("%s is not a valid id: %w", name, BadRequestError)
			}
			*dst = &id
		}
	}

	if v := q.Get("action"); v != "" {
		action := domain.AuditAction(v)
		if !action.IsValid() {
			return f, fmt.Errorf("unknown action %q: %w", v, BadRequestError)
		}
		f.Action = &action
	}
	if v := q.Get("milestoneType"); v != "" {
		f.MilestoneType = &v
	}

	dates := map[string]**time.Time{"from": &f.From, "to": &f.To}
	for name, dst := range dates {
		if v := q.Get(name); v != "" {
			t, err := parseDate(v)
			if err != nil {
				return f, err
			}
			*dst = &t
		}
	}

	var err error
	if f.Page, err = optionalInt(q.Get("page")); err != nil {
		return f, err
	}
	if f.Limit, err = optionalInt(q.Get("limit")); err != nil {
		return f, err
	}
	return f, nil
}

func optionalInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number: %w", s, BadRequestError)
	}
	return n, nil
}
