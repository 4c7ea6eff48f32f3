package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"submission_service/internal/domain"
	"submission_service/internal/errdefs"
)

// Memory keeps aggregates in process. Appends to one submission are
// serialized by a keyed mutex; different submissions never contend.
type Memory struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*domain.Submission
	byKey map[domain.SubmissionKey]uuid.UUID
	locks *KeyedMutex
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		byID:  make(map[uuid.UUID]*domain.Submission),
		byKey: make(map[domain.SubmissionKey]uuid.UUID),
		locks: NewKeyedMutex(),
		now:   time.Now,
	}
}

func lockKey(key domain.SubmissionKey) string {
	return key.ProjectID.String() + "|" + key.MilestoneType + "|" + key.StudentID.String()
}

func (m *Memory) AppendVersion(ctx context.Context, key domain.SubmissionKey, build BuildFunc) (*domain.Submission, int, error) {
	unlock := m.locks.Lock(lockKey(key))
	defer unlock()

	m.mu.RLock()
	var sub *domain.Submission
	if id, ok := m.byKey[key]; ok {
		sub = m.byID[id].Clone()
	}
	m.mu.RUnlock()

	if sub == nil {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, 0, err
		}
		sub = domain.NewSubmission(id, key, m.now().UTC())
	}

	return m.append(ctx, sub, build, true)
}

func (m *Memory) AppendVersionTo(ctx context.Context, submissionID uuid.UUID, build BuildFunc) (*domain.Submission, int, error) {
	key, err := m.keyOf(submissionID)
	if err != nil {
		return nil, 0, err
	}
	unlock := m.locks.Lock(lockKey(key))
	defer unlock()

	sub, err := m.Get(ctx, submissionID)
	if err != nil {
		return nil, 0, err
	}
	return m.append(ctx, sub, build, false)
}

// append runs with the submission lock held and sub already cloned.
func (m *Memory) append(ctx context.Context, sub *domain.Submission, build BuildFunc, resubmit bool) (*domain.Submission, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	next := sub.NextVersionNumber()
	v, err := build(next)
	if err != nil {
		return nil, 0, err
	}
	v.Number = next
	if v.CreatedAt.IsZero() {
		v.CreatedAt = m.now().UTC()
	}
	if err := commitVersion(sub, v, resubmit); err != nil {
		return nil, 0, err
	}

	m.mu.Lock()
	m.byID[sub.ID] = sub.Clone()
	m.byKey[sub.Key()] = sub.ID
	m.mu.Unlock()

	return sub, next, nil
}

func (m *Memory) Get(_ context.Context, submissionID uuid.UUID) (*domain.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.byID[submissionID]
	if !ok {
		return nil, fmt.Errorf("submission %s: %w", submissionID, errdefs.ErrNotFound)
	}
	return sub.Clone(), nil
}

func (m *Memory) FindByKey(ctx context.Context, key domain.SubmissionKey) (*domain.Submission, error) {
	m.mu.RLock()
	id, ok := m.byKey[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("submission for project %s milestone %q: %w", key.ProjectID, key.MilestoneType, errdefs.ErrNotFound)
	}
	return m.Get(ctx, id)
}

func (m *Memory) UpdateEvaluation(ctx context.Context, submissionID uuid.UUID, fn func(*domain.Submission) error) (*domain.Submission, error) {
	key, err := m.keyOf(submissionID)
	if err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(lockKey(key))
	defer unlock()

	sub, err := m.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if err := fn(sub); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.byID[sub.ID] = sub.Clone()
	m.mu.Unlock()

	return sub, nil
}

func (m *Memory) keyOf(submissionID uuid.UUID) (domain.SubmissionKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.byID[submissionID]
	if !ok {
		return domain.SubmissionKey{}, fmt.Errorf("submission %s: %w", submissionID, errdefs.ErrNotFound)
	}
	return sub.Key(), nil
}
