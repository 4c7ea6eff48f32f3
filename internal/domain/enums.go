package domain

type UserRole string

const (
	UserRoleStudent UserRole = "student"
	UserRoleFaculty UserRole = "faculty"
	UserRoleAdmin   UserRole = "admin"
)

type SubmissionStatus string

const (
	SubmissionStatusSubmitted          SubmissionStatus = "submitted"
	SubmissionStatusUnderReview        SubmissionStatus = "under-review"
	SubmissionStatusApproved           SubmissionStatus = "approved"
	SubmissionStatusRevisionsRequested SubmissionStatus = "revisions-requested"
)

func (s SubmissionStatus) IsValid() bool {
	switch s {
	case SubmissionStatusSubmitted, SubmissionStatusUnderReview,
		SubmissionStatusApproved, SubmissionStatusRevisionsRequested:
		return true
	default:
		return false
	}
}

type ScanStatus string

const (
	ScanStatusClean    ScanStatus = "clean"
	ScanStatusInfected ScanStatus = "infected"
	ScanStatusSkipped  ScanStatus = "skipped"
	ScanStatusError    ScanStatus = "error"
)

type AuditAction string

const (
	AuditActionUpload   AuditAction = "upload"
	AuditActionDownload AuditAction = "download"
	AuditActionPreview  AuditAction = "preview"
	AuditActionRestore  AuditAction = "restore"
)

func (a AuditAction) IsValid() bool {
	switch a {
	case AuditActionUpload, AuditActionDownload, AuditActionPreview, AuditActionRestore:
		return true
	default:
		return false
	}
}

type Disposition string

const (
	DispositionInline     Disposition = "inline"
	DispositionAttachment Disposition = "attachment"
)
