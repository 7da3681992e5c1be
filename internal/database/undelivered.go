package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"base-task-queue/internal/models"
	"base-task-queue/internal/tasks"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when no undelivered message has the given id.
var ErrNotFound = errors.New("undelivered message not found")

// UndeliveredStore keeps task messages that could not be published so the
// application can inspect and resend them.
type UndeliveredStore struct {
	db *gorm.DB
}

func NewUndeliveredStore(db *gorm.DB) *UndeliveredStore {
	return &UndeliveredStore{db: db}
}

func (s *UndeliveredStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&models.UndeliveredMessage{})
}

// Save stores msg with the publish error. Saving the same message again bumps
// its attempt count and replaces the error.
func (s *UndeliveredStore) Save(ctx context.Context, msg *tasks.Message, cause error) error {
	id, err := uuid.Parse(msg.ID)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", msg.ID, err)
	}
	body, err := msg.Encode()
	if err != nil {
		return err
	}

	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}
	now := time.Now().UTC()

	rec := models.UndeliveredMessage{
		ID:        id,
		Task:      msg.Task,
		Queue:     msg.Queue,
		Body:      body,
		LastError: lastError,
		Attempts:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_error": lastError,
			"attempts":   gorm.Expr("undelivered_messages.attempts + 1"),
			"updated_at": now,
		}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to save undelivered message: %w", err)
	}
	return nil
}

// List returns up to limit records, oldest first.
func (s *UndeliveredStore) List(ctx context.Context, limit int) ([]models.UndeliveredMessage, error) {
	var recs []models.UndeliveredMessage
	q := s.db.WithContext(ctx).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list undelivered messages: %w", err)
	}
	return recs, nil
}

// Get returns the stored message with the given id, decoded.
func (s *UndeliveredStore) Get(ctx context.Context, id string) (*tasks.Message, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var rec models.UndeliveredMessage
	err = s.db.WithContext(ctx).First(&rec, "id = ?", uid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load undelivered message: %w", err)
	}
	return tasks.Decode(rec.Body)
}

func (s *UndeliveredStore) Delete(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	res := s.db.WithContext(ctx).Delete(&models.UndeliveredMessage{}, "id = ?", uid)
	if res.Error != nil {
		return fmt.Errorf("failed to delete undelivered message: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
