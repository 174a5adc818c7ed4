// Package storage keeps an audit trail of login attempts in SQLite. The
// trail is observational only: connector behavior never depends on it, and
// a write failure is logged rather than surfaced.
package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"zalo-connector-go/internal/platform/errors"
)

// Attempt statuses, in lifecycle order.
const (
	StatusPending   = "pending"
	StatusQRIssued  = "qr_issued"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// LoginAttempt is one QR login attempt from request to settlement.
type LoginAttempt struct {
	ID           string         `gorm:"type:varchar(36);primaryKey"`
	Status       string         `gorm:"type:varchar(16);index;not null"`
	PhoneNumber  string         `gorm:"type:varchar(20);index"`
	UserID       string         `gorm:"type:varchar(64)"`
	CredentialID string         `gorm:"type:varchar(64)"`
	Action       string         `gorm:"type:varchar(16)"`
	Error        string         `gorm:"type:text"`
	Events       datatypes.JSON `gorm:"not null"`
	CreatedAt    time.Time      `gorm:"index"`
	UpdatedAt    time.Time
}

// Open opens the SQLite database at dsn and migrates the attempt table.
// Parent directories are created for file-backed DSNs.
func Open(dsn string) (*gorm.DB, error) {
	if dir := filepath.Dir(dsn); dir != "." && dir != "/" && !isMemoryDSN(dsn) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(errors.KindStorage, "storage.open", "create data dir", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.open", "open database", err)
	}
	if err := db.AutoMigrate(&LoginAttempt{}); err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.open", "migrate database", err)
	}
	return db, nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || len(dsn) > 5 && dsn[:5] == "file:"
}

// AttemptRepo persists login attempts.
type AttemptRepo struct {
	db *gorm.DB
}

func NewAttemptRepo(db *gorm.DB) *AttemptRepo {
	return &AttemptRepo{db: db}
}

// Create records a new pending attempt.
func (r *AttemptRepo) Create(ctx context.Context, id string) error {
	attempt := LoginAttempt{
		ID:     id,
		Status: StatusPending,
		Events: datatypes.JSON([]byte("[]")),
	}
	if err := r.db.WithContext(ctx).Create(&attempt).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "attempt.create", "insert attempt", err)
	}
	return nil
}

// AppendEvent pushes an event name onto the attempt's event log and moves
// the status when the event implies a transition.
func (r *AttemptRepo) AppendEvent(ctx context.Context, id, event string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var attempt LoginAttempt
		if err := tx.First(&attempt, "id = ?", id).Error; err != nil {
			return errors.Wrap(errors.KindStorage, "attempt.event", "load attempt", err)
		}

		var events []string
		if len(attempt.Events) > 0 {
			if err := json.Unmarshal(attempt.Events, &events); err != nil {
				events = nil
			}
		}
		events = append(events, event)
		raw, err := json.Marshal(events)
		if err != nil {
			return errors.Wrap(errors.KindStorage, "attempt.event", "encode events", err)
		}

		updates := map[string]any{"events": datatypes.JSON(raw)}
		if event == "qr_generated" && attempt.Status == StatusPending {
			updates["status"] = StatusQRIssued
		}
		if err := tx.Model(&attempt).Updates(updates).Error; err != nil {
			return errors.Wrap(errors.KindStorage, "attempt.event", "update attempt", err)
		}
		return nil
	})
}

// Complete marks the attempt as settled with the resolved identity and the
// reconciliation outcome.
func (r *AttemptRepo) Complete(ctx context.Context, id, userID, phone, credentialID, action string) error {
	updates := map[string]any{
		"status":        StatusCompleted,
		"user_id":       userID,
		"phone_number":  phone,
		"credential_id": credentialID,
		"action":        action,
	}
	if err := r.db.WithContext(ctx).Model(&LoginAttempt{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "attempt.complete", "update attempt", err)
	}
	return nil
}

// Fail marks the attempt as failed with the reason.
func (r *AttemptRepo) Fail(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	updates := map[string]any{"status": StatusFailed, "error": msg}
	if err := r.db.WithContext(ctx).Model(&LoginAttempt{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "attempt.fail", "update attempt", err)
	}
	return nil
}

// Get loads one attempt by id.
func (r *AttemptRepo) Get(ctx context.Context, id string) (*LoginAttempt, error) {
	var attempt LoginAttempt
	if err := r.db.WithContext(ctx).First(&attempt, "id = ?", id).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "attempt.get", "load attempt", err)
	}
	return &attempt, nil
}

// Recent lists the newest attempts, most recent first.
func (r *AttemptRepo) Recent(ctx context.Context, limit int) ([]LoginAttempt, error) {
	if limit <= 0 {
		limit = 20
	}
	var attempts []LoginAttempt
	if err := r.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&attempts).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "attempt.recent", "list attempts", err)
	}
	return attempts, nil
}
