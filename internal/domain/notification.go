package domain

import (
	"github.com/google/uuid"
)

type Notification struct {
	Recipient uuid.UUID         `json:"recipient"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Channels  []string          `json:"channels"`
	Module    string            `json:"module"`
	Meta      map[string]string `json:"meta,omitempty"`
}

type Contact struct {
	ID    uuid.UUID
	Name  string
	Email string
}

type Mail struct {
	To      string
	Name    string
	Subject string
	HTML    string
	Text    string
}
