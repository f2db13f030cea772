package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/af-corp/sms-gateway/internal/types"
)

// Execer is the subset of *pgxpool.Pool used by SendLog.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Entry is one row of sms_send_log.
type Entry struct {
	ID           uuid.UUID
	RequestID    string
	KeyID        string
	Provider     string
	Recipient    string
	Status       types.SendStatus
	ErrorCode    string
	ErrorMessage string
	Duration     time.Duration
	CreatedAt    time.Time
}

// EntryFromResult fills the outcome columns of an entry from result.
func EntryFromResult(result types.SendingResult, duration time.Duration) Entry {
	e := Entry{
		Provider: result.ProviderName,
		Status:   result.Status,
		Duration: duration,
	}
	if len(result.Errors) > 0 {
		e.ErrorCode = result.Errors[0].Code
		e.ErrorMessage = result.Errors[0].Message
	}
	return e
}

// SendLog persists an audit row per send attempt. A SendLog without a
// database is a no-op.
type SendLog struct {
	db  Execer
	now func() time.Time
}

func NewSendLog(db Execer) *SendLog {
	return &SendLog{db: db, now: time.Now}
}

// Record inserts e, assigning an ID and timestamp when unset. Recipients are
// stored as given; masking is up to the caller.
func (s *SendLog) Record(ctx context.Context, e Entry) (uuid.UUID, error) {
	if s == nil || s.db == nil {
		return uuid.Nil, nil
	}
	if e.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return uuid.Nil, fmt.Errorf("generate send log id: %w", err)
		}
		e.ID = id
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO sms_send_log (id, request_id, key_id, provider, recipient, status,
		                          error_code, error_message, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, nullIfEmpty(e.RequestID), nullIfEmpty(e.KeyID), e.Provider, e.Recipient, string(e.Status),
		nullIfEmpty(e.ErrorCode), nullIfEmpty(e.ErrorMessage), e.Duration.Milliseconds(), e.CreatedAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert sms_send_log: %w", err)
	}
	return e.ID, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
