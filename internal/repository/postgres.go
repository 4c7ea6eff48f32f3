package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"submission_service/internal/domain"
	"submission_service/internal/errdefs"
)

const submissionColumns = `id, project_id, milestone_type, student_id, faculty_id, status,
 rubric_scores, total_score, revision_due_date, created_at, edited_at`

const versionColumns = `submission_id, number, locator, checksum_algo, checksum, original_name,
 media_type, size_bytes, enc_algorithm, enc_nonce, enc_tag, enc_size, enc_chunk_size,
 scan_status, scan_engine, scan_details, scanned_at, comments, created_at`

type Postgres struct {
	db  *pgxpool.Pool
	now func() time.Time
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

func (r *Postgres) AppendVersion(ctx context.Context, key domain.SubmissionKey, build BuildFunc) (*domain.Submission, int, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, 0, err
	}

	var (
		sub  *domain.Submission
		next int
	)
	err = r.inTx(ctx, func(tx pgx.Tx) error {
		now := r.now().UTC()
		_, err := tx.Exec(ctx, `
INSERT INTO submissions (id, project_id, milestone_type, student_id, status, created_at, edited_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (project_id, milestone_type, student_id) DO NOTHING
`, id, key.ProjectID, key.MilestoneType, key.StudentID, string(domain.SubmissionStatusSubmitted), now)
		if err != nil {
			return handleError(err)
		}

		sub, err = r.load(ctx, tx, `
SELECT `+submissionColumns+`
FROM submissions
WHERE project_id = $1 AND milestone_type = $2 AND student_id = $3
FOR UPDATE
`, key.ProjectID, key.MilestoneType, key.StudentID)
		if err != nil {
			return err
		}

		next, err = r.append(ctx, tx, sub, build, true)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return sub, next, nil
}

func (r *Postgres) AppendVersionTo(ctx context.Context, submissionID uuid.UUID, build BuildFunc) (*domain.Submission, int, error) {
	var (
		sub  *domain.Submission
		next int
	)
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		sub, err = r.load(ctx, tx, `
SELECT `+submissionColumns+`
FROM submissions
WHERE id = $1
FOR UPDATE
`, submissionID)
		if err != nil {
			return err
		}

		next, err = r.append(ctx, tx, sub, build, false)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return sub, next, nil
}

// append runs inside the transaction that holds the submission row lock.
func (r *Postgres) append(ctx context.Context, tx pgx.Tx, sub *domain.Submission, build BuildFunc, resubmit bool) (int, error) {
	next := sub.NextVersionNumber()
	v, err := build(next)
	if err != nil {
		return 0, err
	}
	v.Number = next
	if v.CreatedAt.IsZero() {
		v.CreatedAt = r.now().UTC()
	}
	if err := commitVersion(sub, v, resubmit); err != nil {
		return 0, err
	}

	_, err = tx.Exec(ctx, `
INSERT INTO submission_versions (`+versionColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
`, versionArgs(sub.ID, v)...)
	if err != nil {
		return 0, handleError(err)
	}

	_, err = tx.Exec(ctx, `
UPDATE submissions
SET status = $2, revision_due_date = $3, edited_at = $4
WHERE id = $1
`, sub.ID, string(sub.Status), sub.RevisionDueDate, sub.EditedAt)
	if err != nil {
		return 0, handleError(err)
	}
	return next, nil
}

func (r *Postgres) Get(ctx context.Context, submissionID uuid.UUID) (*domain.Submission, error) {
	return r.load(ctx, r.db, `
SELECT `+submissionColumns+`
FROM submissions
WHERE id = $1
`, submissionID)
}

func (r *Postgres) FindByKey(ctx context.Context, key domain.SubmissionKey) (*domain.Submission, error) {
	return r.load(ctx, r.db, `
SELECT `+submissionColumns+`
FROM submissions
WHERE project_id = $1 AND milestone_type = $2 AND student_id = $3
`, key.ProjectID, key.MilestoneType, key.StudentID)
}

func (r *Postgres) UpdateEvaluation(ctx context.Context, submissionID uuid.UUID, fn func(*domain.Submission) error) (*domain.Submission, error) {
	var sub *domain.Submission
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		sub, err = r.load(ctx, tx, `
SELECT `+submissionColumns+`
FROM submissions
WHERE id = $1
FOR UPDATE
`, submissionID)
		if err != nil {
			return err
		}

		before := sub.Clone()
		if err := fn(sub); err != nil {
			return err
		}

		var scores []byte
		if sub.RubricScores != nil {
			if scores, err = json.Marshal(sub.RubricScores); err != nil {
				return fmt.Errorf("encode rubric scores: %w", err)
			}
		}
		_, err = tx.Exec(ctx, `
UPDATE submissions
SET faculty_id = $2, status = $3, rubric_scores = $4, total_score = $5,
    revision_due_date = $6, edited_at = $7
WHERE id = $1
`, sub.ID, sub.FacultyID, string(sub.Status), scores, sub.TotalScore, sub.RevisionDueDate, sub.EditedAt)
		if err != nil {
			return handleError(err)
		}

		for _, v := range sub.Versions {
			old, _ := before.Version(v.Number)
			if sameComment(old.Comments, v.Comments) {
				continue
			}
			_, err := tx.Exec(ctx, `
UPDATE submission_versions SET comments = $3 WHERE submission_id = $1 AND number = $2
`, sub.ID, v.Number, v.Comments)
			if err != nil {
				return handleError(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *Postgres) load(ctx context.Context, q pgxscan.Querier, query string, args ...any) (*domain.Submission, error) {
	var row submissionRow
	if err := pgxscan.Get(ctx, q, &row, query, args...); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("submission: %w", errdefs.ErrNotFound)
		}
		return nil, handleError(err)
	}

	var versions []versionRow
	err := pgxscan.Select(ctx, q, &versions, `
SELECT `+versionColumns+`
FROM submission_versions
WHERE submission_id = $1
ORDER BY number
`, row.ID)
	if err != nil {
		return nil, handleError(err)
	}

	return row.toDomain(versions)
}

func (r *Postgres) inTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return handleError(err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, rbErr)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return handleError(err)
	}
	return nil
}

func sameComment(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
