package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"

	"submission_service/internal/domain"
	"submission_service/internal/errdefs"
	"submission_service/pkg/db"
)

type RepositorySuite struct {
	suite.Suite
	newRepo func() SubmissionRepository
	reset   func()
	repo    SubmissionRepository
}

func (s *RepositorySuite) SetupTest() {
	if s.reset != nil {
		s.reset()
	}
	s.repo = s.newRepo()
}

func newKey() domain.SubmissionKey {
	return domain.SubmissionKey{
		ProjectID:     uuid.New(),
		MilestoneType: "synopsis",
		StudentID:     uuid.New(),
	}
}

func sealedVersion(name string) BuildFunc {
	return func(next int) (domain.Version, error) {
		return domain.Version{
			Locator:      fmt.Sprintf("p/m/s/%d-%s.enc", next, name),
			Checksum:     domain.Digest{Algorithm: "sha256", Hex: "c1"},
			OriginalName: name,
			MediaType:    "application/pdf",
			Size:         42,
			Envelope: &domain.Envelope{
				Algorithm:      "aes-256-gcm-stream",
				Nonce:          make([]byte, 12),
				Tag:            make([]byte, 16),
				CiphertextSize: 58,
				ChunkSize:      65536,
			},
			Scan: domain.ScanResult{
				Status:    domain.ScanStatusSkipped,
				ScannedAt: time.Now().UTC().Truncate(time.Microsecond),
				Details:   "AV engine not configured",
			},
		}, nil
	}
}

func (s *RepositorySuite) TestAppendCreatesThenAppends() {
	ctx := context.Background()
	key := newKey()

	sub, n, err := s.repo.AppendVersion(ctx, key, sealedVersion("doc.pdf"))
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Equal(domain.SubmissionStatusSubmitted, sub.Status)

	sub2, n, err := s.repo.AppendVersion(ctx, key, sealedVersion("doc.pdf"))
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Equal(sub.ID, sub2.ID)

	found, err := s.repo.FindByKey(ctx, key)
	s.Require().NoError(err)
	s.Len(found.Versions, 2)
	s.Equal(1, found.Versions[0].Number)
	s.Equal(2, found.Versions[1].Number)
	s.Require().NotNil(found.Versions[1].Envelope)
	s.Equal(int64(58), found.Versions[1].Envelope.CiphertextSize)
	s.Equal(domain.ScanStatusSkipped, found.Versions[1].Scan.Status)
}

func (s *RepositorySuite) TestBuildFailureCommitsNothing() {
	ctx := context.Background()
	key := newKey()
	boom := errors.New("seal failed")

	_, _, err := s.repo.AppendVersion(ctx, key, func(int) (domain.Version, error) {
		return domain.Version{}, boom
	})
	s.ErrorIs(err, boom)

	_, err = s.repo.FindByKey(ctx, key)
	s.ErrorIs(err, errdefs.ErrNotFound)
}

func (s *RepositorySuite) TestAppendVersionTo() {
	ctx := context.Background()
	sub, _, err := s.repo.AppendVersion(ctx, newKey(), sealedVersion("a.pdf"))
	s.Require().NoError(err)

	_, n, err := s.repo.AppendVersionTo(ctx, sub.ID, sealedVersion("a.pdf"))
	s.Require().NoError(err)
	s.Equal(2, n)

	_, _, err = s.repo.AppendVersionTo(ctx, uuid.New(), sealedVersion("a.pdf"))
	s.ErrorIs(err, errdefs.ErrNotFound)
}

func (s *RepositorySuite) TestAppendVersionToKeepsReviewState() {
	ctx := context.Background()
	key := newKey()
	sub, _, err := s.repo.AppendVersion(ctx, key, sealedVersion("a.pdf"))
	s.Require().NoError(err)

	revisions := domain.SubmissionStatusRevisionsRequested
	due := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	_, err = s.repo.UpdateEvaluation(ctx, sub.ID, func(sub *domain.Submission) error {
		return sub.Evaluate(domain.Evaluation{FacultyID: uuid.New(), Status: &revisions, RevisionDueDate: &due}, time.Now())
	})
	s.Require().NoError(err)

	restored, _, err := s.repo.AppendVersionTo(ctx, sub.ID, sealedVersion("a.pdf"))
	s.Require().NoError(err)
	s.Equal(domain.SubmissionStatusRevisionsRequested, restored.Status)

	got, err := s.repo.Get(ctx, sub.ID)
	s.Require().NoError(err)
	s.Equal(domain.SubmissionStatusRevisionsRequested, got.Status)
	s.Require().NotNil(got.RevisionDueDate)
	s.True(due.Equal(*got.RevisionDueDate))

	resubmitted, _, err := s.repo.AppendVersion(ctx, key, sealedVersion("a.pdf"))
	s.Require().NoError(err)
	s.Equal(domain.SubmissionStatusSubmitted, resubmitted.Status)
	s.Nil(resubmitted.RevisionDueDate)
}

func (s *RepositorySuite) TestConcurrentAppendsAreGapless() {
	ctx := context.Background()
	key := newKey()
	const workers = 50

	var wg sync.WaitGroup
	numbers := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, n, err := s.repo.AppendVersion(ctx, key, sealedVersion("race.pdf"))
			if err == nil {
				numbers <- n
			}
		}()
	}
	wg.Wait()
	close(numbers)

	var got []int
	for n := range numbers {
		got = append(got, n)
	}
	sort.Ints(got)
	s.Require().Len(got, workers)
	for i, n := range got {
		s.Equal(i+1, n)
	}

	sub, err := s.repo.FindByKey(ctx, key)
	s.Require().NoError(err)
	s.Len(sub.Versions, workers)
}

func (s *RepositorySuite) TestUpdateEvaluation() {
	ctx := context.Background()
	sub, _, err := s.repo.AppendVersion(ctx, newKey(), sealedVersion("a.pdf"))
	s.Require().NoError(err)

	faculty := uuid.New()
	approved := domain.SubmissionStatusApproved
	comment := "good work"
	updated, err := s.repo.UpdateEvaluation(ctx, sub.ID, func(sub *domain.Submission) error {
		return sub.Evaluate(domain.Evaluation{
			FacultyID:    faculty,
			RubricScores: map[string]float64{"design": 4, "report": 3.5},
			Comments:     &comment,
			Status:       &approved,
		}, time.Now())
	})
	s.Require().NoError(err)
	s.Equal(domain.SubmissionStatusApproved, updated.Status)

	got, err := s.repo.Get(ctx, sub.ID)
	s.Require().NoError(err)
	s.Equal(domain.SubmissionStatusApproved, got.Status)
	s.Require().NotNil(got.TotalScore)
	s.InDelta(7.5, *got.TotalScore, 0.0001)
	s.Equal(map[string]float64{"design": 4, "report": 3.5}, got.RubricScores)
	s.Require().NotNil(got.FacultyID)
	s.Equal(faculty, *got.FacultyID)
	s.Require().NotNil(got.Versions[0].Comments)
	s.Equal(comment, *got.Versions[0].Comments)

	_, err = s.repo.UpdateEvaluation(ctx, sub.ID, func(sub *domain.Submission) error {
		return sub.Evaluate(domain.Evaluation{FacultyID: faculty, Comments: &comment}, time.Now())
	})
	s.ErrorIs(err, errdefs.ErrConflict)
}

func (s *RepositorySuite) TestGetUnknown() {
	_, err := s.repo.Get(context.Background(), uuid.New())
	s.ErrorIs(err, errdefs.ErrNotFound)
}

func TestMemoryRepository(t *testing.T) {
	suite.Run(t, &RepositorySuite{
		newRepo: func() SubmissionRepository { return NewMemory() },
	})
}

func TestPostgresRepository(t *testing.T) {
	url := os.Getenv("TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("TEST_POSTGRES_URL not set")
	}

	pool, err := db.New(context.Background(), db.Config{
		URL:            url,
		MaxConns:       60,
		AutoMigrate:    true,
		MigrationsPath: "file://../../migrations",
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	suite.Run(t, &RepositorySuite{
		newRepo: func() SubmissionRepository { return NewPostgres(pool) },
		reset:   func() { truncate(t, pool) },
	})
}

func truncate(t *testing.T, pool *pgxpool.Pool) {
	_, err := pool.Exec(context.Background(), `TRUNCATE submission_versions, submissions`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}
