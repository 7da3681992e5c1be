package models

import (
	"time"

	"github.com/google/uuid"
)

// UndeliveredMessage is a task message whose publish failed. Body holds the
// encoded message so it can be sent again unchanged.
type UndeliveredMessage struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	Task      string    `gorm:"not null;index"`
	Queue     string    `gorm:"not null;index"`
	Body      []byte    `gorm:"not null"`
	LastError string    `gorm:"not null"`
	Attempts  int       `gorm:"not null;default:1"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (UndeliveredMessage) TableName() string {
	return "undelivered_messages"
}
