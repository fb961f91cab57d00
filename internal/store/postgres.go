package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

type Postgres struct {
	db           *sql.DB
	logger       *slog.Logger
	queryTimeout time.Duration
}

var _ Store = (*Postgres)(nil)

func OpenPostgres(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	p := NewPostgres(db, cfg.QueryTimeout, logger)
	if err := p.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	p.logger.Info("connected to database", "max_open_conns", cfg.MaxOpenConns)
	return p, nil
}

func NewPostgres(db *sql.DB, queryTimeout time.Duration, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	if queryTimeout <= 0 {
		queryTimeout = 5 * time.Second
	}
	return &Postgres{db: db, logger: logger, queryTimeout: queryTimeout}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS students (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS emergency_contacts (
		id BIGSERIAL PRIMARY KEY,
		student_id UUID NOT NULL REFERENCES students(id),
		contact_name TEXT NOT NULL,
		contact_phone TEXT,
		contact_email TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS sos_events (
		id UUID PRIMARY KEY,
		student_id UUID NOT NULL,
		transcript TEXT NOT NULL,
		emotion TEXT NOT NULL DEFAULT '',
		emotion_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		stress_level TEXT NOT NULL,
		stress_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		context_label TEXT NOT NULL DEFAULT '',
		context_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		keyword_detected BOOLEAN NOT NULL DEFAULT false,
		risk_score INTEGER NOT NULL,
		risk_level TEXT NOT NULL,
		reasoning TEXT NOT NULL DEFAULT '',
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		priority INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_emergency_contacts_student ON emergency_contacts (student_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_sos_events_created_at ON sos_events (created_at DESC)`,
}

func (p *Postgres) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	p.logger.Info("database migrations applied", "count", len(migrations))
	return nil
}

const selectContacts = `SELECT contact_name, contact_phone, contact_email
FROM emergency_contacts
WHERE student_id = $1
ORDER BY id`

func (p *Postgres) GetContacts(ctx context.Context, studentID string) ([]Contact, error) {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, selectContacts, studentID)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		var (
			c            Contact
			phone, email sql.NullString
		)
		if err := rows.Scan(&c.Name, &phone, &email); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		c.Phone = phone.String
		c.Email = email.String
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return contacts, nil
}

const selectStudent = `SELECT id, name, email FROM students WHERE id = $1`

func (p *Postgres) GetStudent(ctx context.Context, studentID string) (*Student, error) {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	var s Student
	err := p.db.QueryRowContext(ctx, selectStudent, studentID).Scan(&s.ID, &s.Name, &s.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query student: %w", err)
	}
	return &s, nil
}

const insertEvent = `INSERT INTO sos_events (
	id, student_id, transcript, emotion, emotion_score, stress_level, stress_score,
	context_label, context_score, keyword_detected, risk_score, risk_level, reasoning,
	latitude, longitude, priority
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
RETURNING created_at`

func (p *Postgres) InsertEvent(ctx context.Context, e SosEvent) (SosEvent, error) {
	if err := validate(e); err != nil {
		return SosEvent{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	e.ID = uuid.NewString()
	err := p.db.QueryRowContext(ctx, insertEvent,
		e.ID, e.StudentID, e.Transcript, e.Emotion, e.EmotionScore, e.StressLevel, e.StressScore,
		e.ContextLabel, e.ContextScore, e.KeywordDetected, e.RiskScore, e.RiskLevel, e.Reasoning,
		nullFloat(e.Latitude), nullFloat(e.Longitude), e.Priority,
	).Scan(&e.CreatedAt)
	if err != nil {
		return SosEvent{}, fmt.Errorf("insert sos event: %w", err)
	}
	return e, nil
}

const selectEvents = `SELECT e.id, e.student_id, e.transcript, e.emotion, e.emotion_score, e.stress_level,
	e.stress_score, e.context_label, e.context_score, e.keyword_detected, e.risk_score, e.risk_level,
	e.reasoning, e.latitude, e.longitude, e.priority, e.created_at, s.name, s.email
FROM sos_events e
LEFT JOIN students s ON s.id = e.student_id
ORDER BY e.created_at DESC`

func (p *Postgres) ListEvents(ctx context.Context) ([]EventView, error) {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, selectEvents)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]EventView, 0)
	for rows.Next() {
		var (
			v           EventView
			lat, lon    sql.NullFloat64
			name, email sql.NullString
		)
		if err := rows.Scan(
			&v.ID, &v.StudentID, &v.Transcript, &v.Emotion, &v.EmotionScore, &v.StressLevel,
			&v.StressScore, &v.ContextLabel, &v.ContextScore, &v.KeywordDetected, &v.RiskScore, &v.RiskLevel,
			&v.Reasoning, &lat, &lon, &v.Priority, &v.CreatedAt, &name, &email,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if lat.Valid && lon.Valid {
			v.Latitude = &lat.Float64
			v.Longitude = &lon.Float64
		}
		v.StudentName = name.String
		v.StudentEmail = email.String
		events = append(events, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
