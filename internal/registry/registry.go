package registry

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"submission_service/internal/domain"
	"submission_service/internal/errdefs"
)

// Postgres reads project membership and user contacts owned by other
// services. It never writes.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (r *Postgres) IsProjectMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	query := `
SELECT EXISTS (
  SELECT 1 FROM project_students
  WHERE project_id = $1 AND student_id = $2 AND status = 'active'
)
`
	var member bool
	if err := r.db.QueryRow(ctx, query, projectID, userID).Scan(&member); err != nil {
		return false, fmt.Errorf("membership lookup: %w", err)
	}
	return member, nil
}

type projectRow struct {
	Name      string     `db:"name"`
	FacultyID *uuid.UUID `db:"faculty_id"`
}

func (r *Postgres) project(ctx context.Context, projectID uuid.UUID) (projectRow, error) {
	var row projectRow
	err := pgxscan.Get(ctx, r.db, &row, `SELECT name, faculty_id FROM projects WHERE id = $1`, projectID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return row, fmt.Errorf("project %s: %w", projectID, errdefs.ErrNotFound)
		}
		return row, fmt.Errorf("project lookup: %w", err)
	}
	return row, nil
}

// SupervisingFaculty returns nil when the project has no faculty assigned.
func (r *Postgres) SupervisingFaculty(ctx context.Context, projectID uuid.UUID) (*uuid.UUID, error) {
	row, err := r.project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return row.FacultyID, nil
}

func (r *Postgres) ProjectName(ctx context.Context, projectID uuid.UUID) (string, error) {
	row, err := r.project(ctx, projectID)
	if err != nil {
		return "", err
	}
	return row.Name, nil
}

type contactRow struct {
	ID    uuid.UUID `db:"id"`
	Name  string    `db:"name"`
	Email string    `db:"email"`
}

func (r *Postgres) Contact(ctx context.Context, userID uuid.UUID) (domain.Contact, error) {
	var row contactRow
	err := pgxscan.Get(ctx, r.db, &row, `SELECT id, name, email FROM users WHERE id = $1`, userID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return domain.Contact{}, fmt.Errorf("user %s: %w", userID, errdefs.ErrNotFound)
		}
		return domain.Contact{}, fmt.Errorf("contact lookup: %w", err)
	}
	return domain.Contact{ID: row.ID, Name: row.Name, Email: row.Email}, nil
}
