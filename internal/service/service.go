package service

import (
	"time"

	"submission_service/internal/digest"
	"submission_service/internal/mail"
	"submission_service/internal/repository"
	"submission_service/pkg/logging"
)

type Config struct {
	Environment string
	// AllowPlaintextFallback keeps an unsealed payload when sealing fails.
	// Ignored in production.
	AllowPlaintextFallback bool
	DigestAlgorithm        string
}

func (c Config) production() bool {
	return c.Environment == "production"
}

type Deps struct {
	Repo      repository.SubmissionRepository
	Registry  ProjectRegistry
	Directory UserDirectory
	Store     FileStore
	// Sealer may be nil when no key is available; uploads then fail unless
	// the plaintext fallback applies.
	Sealer    Sealer
	Scanner   Scanner
	Audit     AuditSink
	Notifier  Notifier
	Mailer    Mailer
	Templates *mail.Templates
	Queue     TaskQueue
	Logger    *logging.Logger
}

type Service struct {
	cfg       Config
	repo      repository.SubmissionRepository
	registry  ProjectRegistry
	directory UserDirectory
	store     FileStore
	sealer    Sealer
	scanner   Scanner
	audit     AuditSink
	notifier  Notifier
	mailer    Mailer
	templates *mail.Templates
	queue     TaskQueue
	logger    *logging.Logger
	now       func() time.Time
}

func New(cfg Config, deps Deps) *Service {
	if cfg.DigestAlgorithm == "" {
		cfg.DigestAlgorithm = digest.SHA256
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	templates := deps.Templates
	if templates == nil {
		templates = mail.NewTemplates("CapManage", "")
	}
	return &Service{
		cfg:       cfg,
		repo:      deps.Repo,
		registry:  deps.Registry,
		directory: deps.Directory,
		store:     deps.Store,
		sealer:    deps.Sealer,
		scanner:   deps.Scanner,
		audit:     deps.Audit,
		notifier:  deps.Notifier,
		mailer:    deps.Mailer,
		templates: templates,
		queue:     deps.Queue,
		logger:    logger,
		now:       time.Now,
	}
}
