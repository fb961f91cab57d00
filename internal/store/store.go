// Package store persists SOS events and reads students and their emergency
// contacts. Events are insert-only: nothing here updates or deletes them.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidEvent = errors.New("invalid sos event")

type Student struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Contact struct {
	Name  string `json:"contact_name"`
	Phone string `json:"contact_phone,omitempty"`
	Email string `json:"contact_email,omitempty"`
}

type SosEvent struct {
	ID              string    `json:"id"`
	StudentID       string    `json:"student_id"`
	Transcript      string    `json:"transcript"`
	Emotion         string    `json:"emotion"`
	EmotionScore    float64   `json:"emotion_score"`
	StressLevel     string    `json:"stress_level"`
	StressScore     float64   `json:"stress_score"`
	ContextLabel    string    `json:"context_label"`
	ContextScore    float64   `json:"context_score"`
	KeywordDetected bool      `json:"keyword_detected"`
	RiskScore       int       `json:"risk_score"`
	RiskLevel       string    `json:"risk_level"`
	Reasoning       string    `json:"reasoning"`
	Latitude        *float64  `json:"latitude"`
	Longitude       *float64  `json:"longitude"`
	Priority        int       `json:"priority"`
	CreatedAt       time.Time `json:"created_at"`
}

// EventView is an event joined with its student for the supervisor feed.
type EventView struct {
	SosEvent
	StudentName  string `json:"student_name,omitempty"`
	StudentEmail string `json:"student_email,omitempty"`
}

type ContactStore interface {
	GetContacts(ctx context.Context, studentID string) ([]Contact, error)
	// GetStudent returns nil, nil when the student is unknown.
	GetStudent(ctx context.Context, studentID string) (*Student, error)
}

type EventStore interface {
	// InsertEvent assigns ID and CreatedAt and returns the stored record.
	InsertEvent(ctx context.Context, event SosEvent) (SosEvent, error)
	ListEvents(ctx context.Context) ([]EventView, error)
}

type Store interface {
	ContactStore
	EventStore
	Ping(ctx context.Context) error
	Close() error
}

func validate(e SosEvent) error {
	if e.StudentID == "" {
		return errors.Join(ErrInvalidEvent, errors.New("student_id is required"))
	}
	if (e.Latitude == nil) != (e.Longitude == nil) {
		return errors.Join(ErrInvalidEvent, errors.New("latitude and longitude must be set together"))
	}
	return nil
}
