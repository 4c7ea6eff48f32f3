package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"submission_service/internal/domain"
)

type Mailer interface {
	Send(ctx context.Context, m domain.Mail) error
}

// Templates renders the messages sent by the submission service.
type Templates struct {
	appName     string
	frontendURL string
}

func NewTemplates(appName, frontendURL string) *Templates {
	return &Templates{appName: appName, frontendURL: frontendURL}
}

var (
	uploadedTmpl = template.Must(template.New("uploaded").Parse(`<p>Hi {{.Name}},</p>
<p>Your submission has been received successfully.</p>
<ul>
  <li><strong>Project:</strong> {{.Project}}</li>
  <li><strong>Milestone:</strong> {{.Milestone}}</li>
  <li><strong>Version:</strong> v{{.Version}}</li>
  <li><strong>Size:</strong> {{.Size}}</li>
  <li><strong>Uploaded at:</strong> {{.At}}</li>
</ul>
<p><a href="{{.Link}}">View your versions</a></p>
<p>{{.App}}</p>
`))

	newSubmissionTmpl = template.Must(template.New("new-submission").Parse(`<p>Hi {{.Name}},</p>
<p>A student has uploaded a new submission.</p>
<ul>
  <li><strong>Project:</strong> {{.Project}}</li>
  <li><strong>Milestone:</strong> {{.Milestone}}</li>
  <li><strong>Version:</strong> v{{.Version}}</li>
  <li><strong>Uploaded by:</strong> {{.Student}}</li>
</ul>
<p><a href="{{.Link}}">Open Faculty dashboard</a></p>
<p>{{.App}}</p>
`))

	evaluatedTmpl = template.Must(template.New("evaluated").Parse(`<p>Hi {{.Name}},</p>
<p>Your submission has been evaluated by {{.Faculty}}.</p>
<ul>
  <li><strong>Project:</strong> {{.Project}}</li>
  <li><strong>Milestone:</strong> {{.Milestone}}</li>
  <li><strong>Status:</strong> {{.Status}}</li>
  {{- if .TotalScore}}
  <li><strong>Total Score:</strong> {{.TotalScore}}</li>
  {{- end}}
  {{- if .DueDate}}
  <li><strong>Revisions due by:</strong> {{.DueDate}}</li>
  {{- end}}
</ul>
<p><a href="{{.Link}}">Open your evaluations</a></p>
<p>{{.App}}</p>
`))
)

type UploadedData struct {
	Student   domain.Contact
	Project   string
	Milestone string
	Version   int
	Size      string
	At        time.Time
	ProjectID string
}

func (t *Templates) Uploaded(d UploadedData) (domain.Mail, error) {
	html, err := render(uploadedTmpl, map[string]any{
		"Name":      orDefault(d.Student.Name, "Student"),
		"Project":   orDefault(d.Project, "-"),
		"Milestone": d.Milestone,
		"Version":   d.Version,
		"Size":      d.Size,
		"At":        d.At.Format(time.RFC1123),
		"Link":      t.frontendURL + "/student/submissions?projectId=" + d.ProjectID,
		"App":       t.appName,
	})
	if err != nil {
		return domain.Mail{}, err
	}
	return domain.Mail{
		To:      d.Student.Email,
		Name:    d.Student.Name,
		Subject: fmt.Sprintf("Submission uploaded: %s • %s v%d", orDefault(d.Project, "Project"), d.Milestone, d.Version),
		HTML:    html,
		Text:    fmt.Sprintf("Your submission %s v%d has been received.", d.Milestone, d.Version),
	}, nil
}

type NewSubmissionData struct {
	Faculty   domain.Contact
	Student   domain.Contact
	Project   string
	Milestone string
	Version   int
}

func (t *Templates) NewSubmission(d NewSubmissionData) (domain.Mail, error) {
	student := orDefault(d.Student.Name, "Student")
	if d.Student.Email != "" {
		student += " (" + d.Student.Email + ")"
	}
	html, err := render(newSubmissionTmpl, map[string]any{
		"Name":      orDefault(d.Faculty.Name, "Faculty"),
		"Project":   orDefault(d.Project, "-"),
		"Milestone": d.Milestone,
		"Version":   d.Version,
		"Student":   student,
		"Link":      t.frontendURL + "/faculty",
		"App":       t.appName,
	})
	if err != nil {
		return domain.Mail{}, err
	}
	return domain.Mail{
		To:      d.Faculty.Email,
		Name:    d.Faculty.Name,
		Subject: fmt.Sprintf("New student submission: %s • %s v%d", orDefault(d.Project, "Project"), d.Milestone, d.Version),
		HTML:    html,
		Text:    fmt.Sprintf("%s uploaded %s v%d.", student, d.Milestone, d.Version),
	}, nil
}

type EvaluatedData struct {
	Student    domain.Contact
	Faculty    domain.Contact
	Project    string
	Milestone  string
	Status     domain.SubmissionStatus
	TotalScore *float64
	DueDate    *time.Time
}

func (t *Templates) Evaluated(d EvaluatedData) (domain.Mail, error) {
	data := map[string]any{
		"Name":      orDefault(d.Student.Name, "Student"),
		"Faculty":   orDefault(d.Faculty.Name, "your faculty"),
		"Project":   orDefault(d.Project, "-"),
		"Milestone": d.Milestone,
		"Status":    string(d.Status),
		"Link":      t.frontendURL + "/student/evaluations",
		"App":       t.appName,
	}
	if d.TotalScore != nil {
		data["TotalScore"] = fmt.Sprintf("%g", *d.TotalScore)
	}
	if d.DueDate != nil {
		data["DueDate"] = d.DueDate.Format("Mon Jan 02 2006")
	}
	html, err := render(evaluatedTmpl, data)
	if err != nil {
		return domain.Mail{}, err
	}
	return domain.Mail{
		To:      d.Student.Email,
		Name:    d.Student.Name,
		Subject: fmt.Sprintf("Submission evaluated: %s • %s", orDefault(d.Project, "Project"), d.Milestone),
		HTML:    html,
		Text:    fmt.Sprintf("Your %s has been evaluated: %s.", d.Milestone, d.Status),
	}, nil
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
