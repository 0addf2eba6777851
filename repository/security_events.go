package repository

import (
	"context"
	"time"

	auth "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SecurityEvents is the append only audit log.
type SecurityEvents interface {
	auth.AuditSink
	ListByUser(ctx context.Context, userID string, limit int) ([]*auth.SecurityEvent, error)
	ListRecent(ctx context.Context, limit int) ([]*auth.SecurityEvent, error)
}

type securityEvents struct {
	repository.Repository[*auth.SecurityEvent]
	db *bun.DB
}

var _ SecurityEvents = (*securityEvents)(nil)

// NewSecurityEventsRepository returns the bun backed audit sink.
func NewSecurityEventsRepository(db *bun.DB) SecurityEvents {
	repo := repository.NewRepository[*auth.SecurityEvent](db, repository.ModelHandlers[*auth.SecurityEvent]{
		NewRecord: func() *auth.SecurityEvent { return &auth.SecurityEvent{} },
		GetID: func(e *auth.SecurityEvent) uuid.UUID {
			if e == nil {
				return uuid.Nil
			}
			return e.ID
		},
		SetID: func(e *auth.SecurityEvent, id uuid.UUID) {
			if e != nil {
				e.ID = id
			}
		},
	})
	return &securityEvents{Repository: repo, db: db}
}

// LogEvent implements auth.AuditSink.
func (s *securityEvents) LogEvent(ctx context.Context, event auth.SecurityEvent) (string, error) {
	record := event
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	if record.Details == nil {
		record.Details = map[string]any{}
	}

	created, err := s.Repository.Create(ctx, &record)
	if err != nil {
		return "", err
	}
	return created.ID.String(), nil
}

func (s *securityEvents) ListByUser(ctx context.Context, userID string, limit int) ([]*auth.SecurityEvent, error) {
	records := []*auth.SecurityEvent{}
	q := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.user_id = ?", userID).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil && !isNotFound(err) {
		return nil, err
	}
	return records, nil
}

func (s *securityEvents) ListRecent(ctx context.Context, limit int) ([]*auth.SecurityEvent, error) {
	records := []*auth.SecurityEvent{}
	q := s.db.NewSelect().
		Model(&records).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil && !isNotFound(err) {
		return nil, err
	}
	return records, nil
}
