package mail

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"submission_service/internal/domain"
	"submission_service/pkg/retry"
)

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

type SendGridMailer struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
}

func NewSendGridMailer(key, appName, fromEmail string) *SendGridMailer {
	return &SendGridMailer{
		key:        key,
		from:       sgmail.NewEmail(appName, fromEmail),
		subjPrefix: "[" + appName + "] ",
	}
}

func (s *SendGridMailer) prepare(m domain.Mail) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + m.Subject
	p.AddTos(sgmail.NewEmail(m.Name, m.To))

	msg := sgmail.NewV3Mail()
	msg.SetFrom(s.from)
	msg.AddPersonalizations(p)

	text := m.Text
	if text == "" {
		text = m.Subject
	}
	msg.AddContent(
		sgmail.NewContent("text/plain", text),
		sgmail.NewContent("text/html", m.HTML),
	)
	return msg
}

// Send delivers one message. 4xx answers are permanent so the queue does not retry them.
func (s *SendGridMailer) Send(ctx context.Context, m domain.Mail) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.To == "" {
		return retry.Permanent(fmt.Errorf("mail %q has no recipient", m.Subject))
	}

	req := sendgrid.GetRequest(s.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(m))

	res, err := sendgrid.API(req)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	if res.StatusCode >= http.StatusInternalServerError || res.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("sending email - status: %d - body: %s", res.StatusCode, res.Body)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return retry.Permanent(fmt.Errorf("sending email - status: %d - body: %s", res.StatusCode, res.Body))
	}
	return nil
}
