package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config selects a driver. An empty or "none" Driver disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only
}

// DispatchRecord is one audited dispatch.
type DispatchRecord struct {
	ID            string    `json:"id"`
	At            time.Time `json:"at"`
	Source        string    `json:"source"` // bot, schedule, cli
	ActorID       int64     `json:"actor_id,omitempty"`
	Mode          string    `json:"mode"`
	RecipientType string    `json:"recipient_type"`
	Recipient     string    `json:"recipient"`
	Targets       int       `json:"targets"`
	Success       int       `json:"success"`
	Failure       int       `json:"failure"`
	Error         string    `json:"error,omitempty"`
	TookMS        int64     `json:"took_ms"`
}

// Store persists dispatch records.
type Store interface {
	RecordDispatch(ctx context.Context, r DispatchRecord) error
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]DispatchRecord, error)
	Close() error
}
