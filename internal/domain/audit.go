package domain

import (
	"time"

	"github.com/google/uuid"
)

type AuditEvent struct {
	ID            uuid.UUID
	Seq           int64
	SubmissionID  uuid.UUID
	ActorID       uuid.UUID
	Action        AuditAction
	VersionNumber int
	ProjectID     uuid.UUID
	MilestoneType string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
	PrevHash      string
	Hash          string
}

type AuditFilter struct {
	ActorID       *uuid.UUID
	ProjectID     *uuid.UUID
	SubmissionID  *uuid.UUID
	Action        *AuditAction
	MilestoneType *string
	From          *time.Time
	To            *time.Time
	Page          int
	Limit         int
}

type AuditPage struct {
	Total int
	Page  int
	Limit int
	Items []AuditEvent
}
