package registry

import (
	"context"
	"time"

	"github.com/google/uuid"

	"submission_service/internal/cache"
)

type Source interface {
	IsProjectMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error)
	SupervisingFaculty(ctx context.Context, projectID uuid.UUID) (*uuid.UUID, error)
	ProjectName(ctx context.Context, projectID uuid.UUID) (string, error)
}

const noFaculty = "-"

// Cached memoizes registry answers for ttl. Errors are never cached.
type Cached struct {
	next  Source
	cache cache.Cache
	ttl   time.Duration
}

func NewCached(next Source, c cache.Cache, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: c, ttl: ttl}
}

func (c *Cached) IsProjectMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	key := "registry:member:" + projectID.String() + ":" + userID.String()
	if v, ok := c.cache.Get(ctx, key); ok {
		return string(v) == "1", nil
	}

	member, err := c.next.IsProjectMember(ctx, projectID, userID)
	if err != nil {
		return false, err
	}
	v := "0"
	if member {
		v = "1"
	}
	c.cache.Set(ctx, key, []byte(v), c.ttl)
	return member, nil
}

func (c *Cached) SupervisingFaculty(ctx context.Context, projectID uuid.UUID) (*uuid.UUID, error) {
	key := "registry:faculty:" + projectID.String()
	if v, ok := c.cache.Get(ctx, key); ok {
		if string(v) == noFaculty {
			return nil, nil
		}
		if id, err := uuid.ParseBytes(v); err == nil {
			return &id, nil
		}
	}

	faculty, err := c.next.SupervisingFaculty(ctx, projectID)
	if err != nil {
		return nil, err
	}
	v := noFaculty
	if faculty != nil {
		v = faculty.String()
	}
	c.cache.Set(ctx, key, []byte(v), c.ttl)
	return faculty, nil
}

func (c *Cached) ProjectName(ctx context.Context, projectID uuid.UUID) (string, error) {
	key := "registry:project-name:" + projectID.String()
	if v, ok := c.cache.Get(ctx, key); ok {
		return string(v), nil
	}

	name, err := c.next.ProjectName(ctx, projectID)
	if err != nil {
		return "", err
	}
	c.cache.Set(ctx, key, []byte(name), c.ttl)
	return name, nil
}
