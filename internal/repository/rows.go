package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"submission_service/internal/domain"
)

type submissionRow struct {
	ID              uuid.UUID  `db:"id"`
	ProjectID       uuid.UUID  `db:"project_id"`
	MilestoneType   string     `db:"milestone_type"`
	StudentID       uuid.UUID  `db:"student_id"`
	FacultyID       *uuid.UUID `db:"faculty_id"`
	Status          string     `db:"status"`
	RubricScores    []byte     `db:"rubric_scores"`
	TotalScore      *float64   `db:"total_score"`
	RevisionDueDate *time.Time `db:"revision_due_date"`
	CreatedAt       time.Time  `db:"created_at"`
	EditedAt        time.Time  `db:"edited_at"`
}

type versionRow struct {
	SubmissionID uuid.UUID `db:"submission_id"`
	Number       int       `db:"number"`
	Locator      string    `db:"locator"`
	ChecksumAlgo string    `db:"checksum_algo"`
	Checksum     string    `db:"checksum"`
	OriginalName string    `db:"original_name"`
	MediaType    string    `db:"media_type"`
	SizeBytes    int64     `db:"size_bytes"`
	EncAlgorithm *string   `db:"enc_algorithm"`
	EncNonce     []byte    `db:"enc_nonce"`
	EncTag       []byte    `db:"enc_tag"`
	EncSize      *int64    `db:"enc_size"`
	EncChunkSize *int32    `db:"enc_chunk_size"`
	ScanStatus   string    `db:"scan_status"`
	ScanEngine   *string   `db:"scan_engine"`
	ScanDetails  *string   `db:"scan_details"`
	ScannedAt    time.Time `db:"scanned_at"`
	Comments     *string   `db:"comments"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r submissionRow) toDomain(versions []versionRow) (*domain.Submission, error) {
	sub := &domain.Submission{
		ID:              r.ID,
		ProjectID:       r.ProjectID,
		MilestoneType:   r.MilestoneType,
		StudentID:       r.StudentID,
		FacultyID:       r.FacultyID,
		Status:          domain.SubmissionStatus(r.Status),
		TotalScore:      r.TotalScore,
		RevisionDueDate: r.RevisionDueDate,
		CreatedAt:       r.CreatedAt,
		EditedAt:        r.EditedAt,
	}
	if len(r.RubricScores) > 0 {
		if err := json.Unmarshal(r.RubricScores, &sub.RubricScores); err != nil {
			return nil, fmt.Errorf("decode rubric scores: %w", err)
		}
	}
	sub.Versions = make([]domain.Version, 0, len(versions))
	for _, v := range versions {
		sub.Versions = append(sub.Versions, v.toDomain())
	}
	return sub, nil
}

func (r versionRow) toDomain() domain.Version {
	v := domain.Version{
		Number:       r.Number,
		Locator:      r.Locator,
		Checksum:     domain.Digest{Algorithm: r.ChecksumAlgo, Hex: r.Checksum},
		OriginalName: r.OriginalName,
		MediaType:    r.MediaType,
		Size:         r.SizeBytes,
		Scan: domain.ScanResult{
			Status:    domain.ScanStatus(r.ScanStatus),
			Engine:    deref(r.ScanEngine),
			Details:   deref(r.ScanDetails),
			ScannedAt: r.ScannedAt,
		},
		Comments:  r.Comments,
		CreatedAt: r.CreatedAt,
	}
	if r.EncAlgorithm != nil {
		env := &domain.Envelope{
			Algorithm: *r.EncAlgorithm,
			Nonce:     r.EncNonce,
			Tag:       r.EncTag,
		}
		if r.EncSize != nil {
			env.CiphertextSize = *r.EncSize
		}
		if r.EncChunkSize != nil {
			env.ChunkSize = int(*r.EncChunkSize)
		}
		v.Envelope = env
	}
	return v
}

func versionArgs(submissionID uuid.UUID, v domain.Version) []any {
	var (
		algorithm *string
		nonce     []byte
		tag       []byte
		size      *int64
		chunkSize *int32
	)
	if v.Envelope != nil {
		algorithm = &v.Envelope.Algorithm
		nonce = v.Envelope.Nonce
		tag = v.Envelope.Tag
		size = &v.Envelope.CiphertextSize
		cs := int32(v.Envelope.ChunkSize)
		chunkSize = &cs
	}
	return []any{
		submissionID,
		v.Number,
		v.Locator,
		v.Checksum.Algorithm,
		v.Checksum.Hex,
		v.OriginalName,
		v.MediaType,
		v.Size,
		algorithm,
		nonce,
		tag,
		size,
		chunkSize,
		string(v.Scan.Status),
		nullable(v.Scan.Engine),
		nullable(v.Scan.Details),
		v.Scan.ScannedAt,
		v.Comments,
		v.CreatedAt,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
