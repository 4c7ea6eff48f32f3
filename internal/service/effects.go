package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"submission_service/internal/domain"
	"submission_service/internal/errdefs"
	"submission_service/internal/mail"
	"submission_service/pkg/ctxdata"
	"submission_service/pkg/retry"
)

var inApp = []string{"in-app"}

// enqueue hands fn to the background queue. Without a queue the effect runs
// inline and its error is only logged.
func (s *Service) enqueue(ctx context.Context, name string, fn func(ctx context.Context) error) {
	if s.queue != nil {
		s.queue.Enqueue(ctx, name, fn)
		return
	}
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn(ctx, "side effect failed", zap.String("task", name), zap.Error(err))
	}
}

func (s *Service) recordAudit(ctx context.Context, p principal, action domain.AuditAction, sub *domain.Submission, version int) {
	if s.audit == nil {
		return
	}
	client := ctxdata.GetClient(ctx)
	event := domain.AuditEvent{
		SubmissionID:  sub.ID,
		ActorID:       p.ID,
		Action:        action,
		VersionNumber: version,
		ProjectID:     sub.ProjectID,
		MilestoneType: sub.MilestoneType,
		IP:            client.IP,
		UserAgent:     client.UserAgent,
		CreatedAt:     s.now().UTC(),
	}
	s.enqueue(ctx, "audit."+string(action), func(ctx context.Context) error {
		_, err := s.audit.Append(ctx, event)
		if errors.Is(err, errdefs.ErrValidation) {
			return retry.Permanent(err)
		}
		return err
	})
}

func (s *Service) notify(ctx context.Context, name string, n domain.Notification) {
	if s.notifier == nil {
		return
	}
	if n.Channels == nil {
		n.Channels = inApp
	}
	s.enqueue(ctx, name, func(ctx context.Context) error {
		return s.notifier.Notify(ctx, n)
	})
}

func (s *Service) announceUpload(ctx context.Context, sub *domain.Submission, v domain.Version) {
	submissionID, studentID, projectID := sub.ID, sub.StudentID, sub.ProjectID
	milestone, number := sub.MilestoneType, v.Number

	s.notify(ctx, "notify.upload.student", domain.Notification{
		Recipient: studentID,
		Type:      "success",
		Title:     "Upload successful",
		Message:   fmt.Sprintf("Uploaded %s v%d.", milestone, number),
		Module:    "student",
	})

	if s.notifier != nil {
		s.enqueue(ctx, "notify.upload.faculty", func(ctx context.Context) error {
			faculty, err := s.registry.SupervisingFaculty(ctx, projectID)
			if err != nil || faculty == nil {
				return err
			}
			return s.notifier.Notify(ctx, domain.Notification{
				Recipient: *faculty,
				Type:      "info",
				Title:     "New submission",
				Message:   fmt.Sprintf("A student uploaded %s v%d.", milestone, number),
				Channels:  inApp,
				Module:    "faculty",
				Meta: map[string]string{
					"projectId":     projectID.String(),
					"milestoneType": milestone,
					"submissionId":  submissionID.String(),
				},
			})
		})
	}

	if s.mailer == nil || s.directory == nil {
		return
	}

	size := humanize.IBytes(uint64(v.Size))
	at := v.CreatedAt
	s.enqueue(ctx, "email.upload.student", func(ctx context.Context) error {
		var (
			student domain.Contact
			project string
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			student, err = s.directory.Contact(gctx, studentID)
			return err
		})
		g.Go(func() (err error) {
			project, err = s.registry.ProjectName(gctx, projectID)
			return err
		})
		if err := g.Wait(); err != nil {
			return permanentIfMissing(err)
		}
		if student.Email == "" {
			return nil
		}
		m, err := s.templates.Uploaded(mail.UploadedData{
			Student:   student,
			Project:   project,
			Milestone: milestone,
			Version:   number,
			Size:      size,
			At:        at,
			ProjectID: projectID.String(),
		})
		if err != nil {
			return retry.Permanent(err)
		}
		return s.mailer.Send(ctx, m)
	})

	s.enqueue(ctx, "email.upload.faculty", func(ctx context.Context) error {
		facultyID, err := s.registry.SupervisingFaculty(ctx, projectID)
		if err != nil || facultyID == nil {
			return err
		}
		var (
			faculty, student domain.Contact
			project          string
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			faculty, err = s.directory.Contact(gctx, *facultyID)
			return err
		})
		g.Go(func() (err error) {
			student, err = s.directory.Contact(gctx, studentID)
			return err
		})
		g.Go(func() (err error) {
			project, err = s.registry.ProjectName(gctx, projectID)
			return err
		})
		if err := g.Wait(); err != nil {
			return permanentIfMissing(err)
		}
		if faculty.Email == "" {
			return nil
		}
		m, err := s.templates.NewSubmission(mail.NewSubmissionData{
			Faculty:   faculty,
			Student:   student,
			Project:   project,
			Milestone: milestone,
			Version:   number,
		})
		if err != nil {
			return retry.Permanent(err)
		}
		return s.mailer.Send(ctx, m)
	})
}

func (s *Service) announceEvaluation(ctx context.Context, sub *domain.Submission, facultyID uuid.UUID) {
	message := fmt.Sprintf("Your %s has been evaluated.", sub.MilestoneType)
	if sub.Status == domain.SubmissionStatusRevisionsRequested && sub.RevisionDueDate != nil {
		message += " Revisions due by " + sub.RevisionDueDate.Format("Mon Jan 02 2006") + "."
	}
	s.notify(ctx, "notify.evaluation", domain.Notification{
		Recipient: sub.StudentID,
		Type:      "info",
		Title:     "Submission evaluated",
		Message:   message,
		Module:    "faculty",
	})

	if s.mailer == nil || s.directory == nil {
		return
	}
	snapshot := sub.Clone()
	s.enqueue(ctx, "email.evaluation", func(ctx context.Context) error {
		var (
			student, faculty domain.Contact
			project          string
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			student, err = s.directory.Contact(gctx, snapshot.StudentID)
			return err
		})
		g.Go(func() (err error) {
			faculty, err = s.directory.Contact(gctx, facultyID)
			return err
		})
		g.Go(func() (err error) {
			project, err = s.registry.ProjectName(gctx, snapshot.ProjectID)
			return err
		})
		if err := g.Wait(); err != nil {
			return permanentIfMissing(err)
		}
		if student.Email == "" {
			return nil
		}
		m, err := s.templates.Evaluated(mail.EvaluatedData{
			Student:    student,
			Faculty:    faculty,
			Project:    project,
			Milestone:  snapshot.MilestoneType,
			Status:     snapshot.Status,
			TotalScore: snapshot.TotalScore,
			DueDate:    snapshot.RevisionDueDate,
		})
		if err != nil {
			return retry.Permanent(err)
		}
		return s.mailer.Send(ctx, m)
	})
}

// permanentIfMissing stops retries for contacts or projects that do not exist.
func permanentIfMissing(err error) error {
	if errors.Is(err, errdefs.ErrNotFound) {
		return retry.Permanent(err)
	}
	return err
}
