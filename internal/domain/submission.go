package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"submission_service/internal/errdefs"
)

// SubmissionKey identifies the single aggregate of a (project, milestone, student) triple.
type SubmissionKey struct {
	ProjectID     uuid.UUID
	MilestoneType string
	StudentID     uuid.UUID
}

type Submission struct {
	ID              uuid.UUID
	ProjectID       uuid.UUID
	MilestoneType   string
	StudentID       uuid.UUID
	FacultyID       *uuid.UUID
	Status          SubmissionStatus
	RubricScores    map[string]float64
	TotalScore      *float64
	RevisionDueDate *time.Time
	Versions        []Version
	CreatedAt       time.Time
	EditedAt        time.Time
}

func NewSubmission(id uuid.UUID, key SubmissionKey, now time.Time) *Submission {
	return &Submission{
		ID:            id,
		ProjectID:     key.ProjectID,
		MilestoneType: key.MilestoneType,
		StudentID:     key.StudentID,
		Status:        SubmissionStatusSubmitted,
		CreatedAt:     now,
		EditedAt:      now,
	}
}

func (s *Submission) Key() SubmissionKey {
	return SubmissionKey{ProjectID: s.ProjectID, MilestoneType: s.MilestoneType, StudentID: s.StudentID}
}

func (s *Submission) NextVersionNumber() int {
	max := 0
	for _, v := range s.Versions {
		if v.Number > max {
			max = v.Number
		}
	}
	return max + 1
}

// AppendVersion commits v as the next version without touching the review
// state. v.Number must equal NextVersionNumber; callers hold the submission lock.
func (s *Submission) AppendVersion(v Version) error {
	if next := s.NextVersionNumber(); v.Number != next {
		return fmt.Errorf("version %d out of sequence, expected %d: %w", v.Number, next, errdefs.ErrConflict)
	}
	s.Versions = append(s.Versions, v)
	s.EditedAt = v.CreatedAt
	return nil
}

// Resubmit commits a freshly uploaded version and puts the submission back
// into review.
func (s *Submission) Resubmit(v Version) error {
	if err := s.AppendVersion(v); err != nil {
		return err
	}
	s.Status = SubmissionStatusSubmitted
	s.RevisionDueDate = nil
	return nil
}

func (s *Submission) LatestVersion() (Version, bool) {
	if len(s.Versions) == 0 {
		return Version{}, false
	}
	latest := s.Versions[0]
	for _, v := range s.Versions[1:] {
		if v.Number > latest.Number {
			latest = v
		}
	}
	return latest, true
}

func (s *Submission) Version(number int) (Version, bool) {
	for _, v := range s.Versions {
		if v.Number == number {
			return v, true
		}
	}
	return Version{}, false
}

func (s *Submission) Locked() bool {
	return s.Status == SubmissionStatusApproved
}

type Evaluation struct {
	FacultyID       uuid.UUID
	RubricScores    map[string]float64
	Comments        *string
	Status          *SubmissionStatus
	RevisionDueDate *time.Time
}

// Evaluate applies an evaluation. An approved submission only accepts a
// repeated approval without any other change.
func (s *Submission) Evaluate(e Evaluation, now time.Time) error {
	if e.Status != nil && !e.Status.IsValid() {
		return fmt.Errorf("unknown status %q: %w", *e.Status, errdefs.ErrValidation)
	}
	if s.Locked() {
		edits := e.RubricScores != nil || e.Comments != nil || e.RevisionDueDate != nil ||
			(e.Status != nil && *e.Status != SubmissionStatusApproved)
		if edits {
			return fmt.Errorf("evaluation is locked after approval: %w", errdefs.ErrConflict)
		}
		return nil
	}

	if e.RubricScores != nil {
		scores := make(map[string]float64, len(e.RubricScores))
		total := 0.0
		for criterion, score := range e.RubricScores {
			scores[criterion] = score
			total += score
		}
		s.RubricScores = scores
		s.TotalScore = &total
		facultyID := e.FacultyID
		s.FacultyID = &facultyID
	}

	if e.Comments != nil && len(s.Versions) > 0 {
		latest, _ := s.LatestVersion()
		for i := range s.Versions {
			if s.Versions[i].Number == latest.Number {
				comment := *e.Comments
				s.Versions[i].Comments = &comment
			}
		}
	}

	if e.Status != nil {
		s.Status = *e.Status
		if s.Status == SubmissionStatusRevisionsRequested {
			if e.RevisionDueDate != nil {
				due := *e.RevisionDueDate
				s.RevisionDueDate = &due
			}
		} else {
			s.RevisionDueDate = nil
		}
	}

	s.EditedAt = now
	return nil
}

// Clone returns a deep copy so callers never share ledger slices with a store.
func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	c := *s
	if s.FacultyID != nil {
		id := *s.FacultyID
		c.FacultyID = &id
	}
	if s.RubricScores != nil {
		c.RubricScores = make(map[string]float64, len(s.RubricScores))
		for k, v := range s.RubricScores {
			c.RubricScores[k] = v
		}
	}
	if s.TotalScore != nil {
		total := *s.TotalScore
		c.TotalScore = &total
	}
	if s.RevisionDueDate != nil {
		due := *s.RevisionDueDate
		c.RevisionDueDate = &due
	}
	c.Versions = make([]Version, len(s.Versions))
	for i, v := range s.Versions {
		c.Versions[i] = v.CloneAs(v.Number, v.Locator, v.CreatedAt)
		if v.Comments != nil {
			comment := *v.Comments
			c.Versions[i].Comments = &comment
		}
	}
	return &c
}
