package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"submission_service/internal/domain"
	"submission_service/internal/service"
	"submission_service/pkg/logging"
)

// multipartOverhead is the room left for form fields and boundaries on top
// of the file size limit.
const multipartOverhead = 1 << 20

type SubmissionService interface {
	Upload(ctx context.Context, in service.UploadInput) (*service.UploadResult, error)
	ListVersions(ctx context.Context, in service.ListVersionsInput) ([]service.VersionSummary, error)
	Open(ctx context.Context, submissionID uuid.UUID, number int, disposition domain.Disposition) (*service.Download, error)
	Restore(ctx context.Context, submissionID uuid.UUID, number int) (*service.RestoreResult, error)
	Evaluate(ctx context.Context, submissionID uuid.UUID, in service.EvaluationInput) (*domain.Submission, error)
}

type SubmissionHandler struct {
	svc SubmissionService
}

func NewSubmissionHandler(svc SubmissionService) *SubmissionHandler {
	return &SubmissionHandler{svc: svc}
}

func (h *SubmissionHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.With(authMiddleware).Post("/upload", h.upload)
	r.With(authMiddleware).Get("/versions", h.listVersions)
	r.With(authMiddleware).Get("/{id}/versions/{version}/download", h.serve(domain.DispositionAttachment))
	r.With(authMiddleware).Get("/{id}/versions/{version}/preview", h.serve(domain.DispositionInline))
	r.With(authMiddleware).Post("/{id}/versions/{version}/restore", h.restore)
	r.With(authMiddleware).Post("/{id}/evaluate", h.evaluate)
}

// upload streams the multipart body. The projectId and milestoneType fields
// must precede the file part.
func (h *SubmissionHandler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, service.MaxUploadSize+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, r, fmt.Errorf("expected a multipart form: %w", BadRequestError))
		return
	}

	fields := make(map[string]string, 2)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, r, fmt.Errorf("file is required: %w", BadRequestError))
			return
		}
		if err != nil {
			writeError(w, r, fmt.Errorf("malformed multipart form: %w", BadRequestError))
			return
		}

		if part.FormName() != "file" {
			value, err := io.ReadAll(io.LimitReader(part, 1024))
			_ = part.Close()
			if err != nil {
				writeError(w, r, fmt.Errorf("malformed multipart form: %w", BadRequestError))
				return
			}
			fields[part.FormName()] = string(value)
			continue
		}

		res, err := h.svc.Upload(r.Context(), service.UploadInput{
			ProjectID:     fields["projectId"],
			MilestoneType: fields["milestoneType"],
			Filename:      part.FileName(),
			Size:          -1,
			Body:          part,
		})
		_ = part.Close()
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
		return
	}
}

func (h *SubmissionHandler) listVersions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	versions, err := h.svc.ListVersions(r.Context(), service.ListVersionsInput{
		ProjectID:     q.Get("projectId"),
		MilestoneType: q.Get("milestoneType"),
		StudentID:     q.Get("studentId"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (h *SubmissionHandler) serve(disposition domain.Disposition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUIDParam(r, "id")
		if err != nil {
			writeError(w, r, err)
			return
		}
		number, err := parseVersionParam(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		d, err := h.svc.Open(r.Context(), id, number, disposition)
		if err != nil {
			writeError(w, r, err)
			return
		}

		header := w.Header()
		header.Set("Content-Type", d.MediaType)
		header.Set("Content-Length", strconv.FormatInt(d.Size, 10))
		header.Set("Content-Disposition", mime.FormatMediaType(string(disposition), map[string]string{"filename": d.Filename}))
		header.Set("X-Content-Type-Options", "nosniff")
		header.Set("Cache-Control", "private, no-store")
		if d.Checksum.Hex != "" {
			header.Set("X-Checksum", d.Checksum.String())
		}

		cw := &countingWriter{w: w}
		if err := d.WriteTo(r.Context(), cw); err != nil {
			if cw.n == 0 {
				for _, k := range []string{"Content-Length", "Content-Disposition", "X-Checksum", "X-Content-Type-Options"} {
					header.Del(k)
				}
				writeError(w, r, err)
				return
			}
			logging.FromContext(r.Context()).Error(r.Context(), "stream aborted mid-response",
				zap.String("submission_id", id.String()), zap.Int("version", number),
				zap.Int64("written", cw.n), zap.Error(err))
			panic(http.ErrAbortHandler)
		}
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (h *SubmissionHandler) restore(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	number, err := parseVersionParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.Restore(r.Context(), id, number)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type evaluateRequest struct {
	RubricScores    map[string]float64 `json:"rubricScores"`
	Comments        *string            `json:"comments"`
	Status          *string            `json:"status"`
	RevisionDueDate *string            `json:"revisionDueDate"`
}

type evaluationResponse struct {
	ID              uuid.UUID          `json:"id"`
	Status          string             `json:"status"`
	RubricScores    map[string]float64 `json:"rubricScores,omitempty"`
	TotalScore      *float64           `json:"totalScore,omitempty"`
	RevisionDueDate *time.Time         `json:"revisionDueDate,omitempty"`
	EditedAt        time.Time          `json:"editedAt"`
}

func (h *SubmissionHandler) evaluate(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req evaluateRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("invalid request body: %w", BadRequestError))
		return
	}

	in := service.EvaluationInput{
		RubricScores: req.RubricScores,
		Comments:     req.Comments,
		Status:       req.Status,
	}
	if req.RevisionDueDate != nil && *req.RevisionDueDate != "" {
		due, err := parseDate(*req.RevisionDueDate)
		if err != nil {
			writeError(w, r, err)
			return
		}
		in.RevisionDueDate = &due
	}

	sub, err := h.svc.Evaluate(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evaluationResponse{
		ID:              sub.ID,
		Status:          string(sub.Status),
		RubricScores:    sub.RubricScores,
		TotalScore:      sub.TotalScore,
		RevisionDueDate: sub.RevisionDueDate,
		EditedAt:        sub.EditedAt,
	})
}

// parseDate accepts RFC 3339 timestamps and plain dates.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q: %w", s, BadRequestError)
}
