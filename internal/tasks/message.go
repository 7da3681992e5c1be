package tasks

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageVersion is bumped when the envelope changes incompatibly.
const MessageVersion = "1.0"

const contentType = "application/json"

// Message is the envelope a worker needs to run one invocation: what to call,
// with which arguments, and under which retry and time limits.
type Message struct {
	Version string         `json:"version"`
	ID      string         `json:"id"`
	Task    string         `json:"task"`
	Queue   string         `json:"queue"`
	Args    []any          `json:"args"`
	Kwargs  map[string]any `json:"kwargs"`
	Retry   int            `json:"retry"`

	// MaxRunTime is in seconds; nil means unlimited.
	MaxRunTime *float64 `json:"max_run_time"`

	SenderHostname string    `json:"sender_hostname"`
	SenderPID      int       `json:"sender_pid"`
	CreatedAt      time.Time `json:"created_at"`
}

var hostname = sync.OnceValue(func() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
})

func newMessage(t *Task, args []any, kwargs map[string]any) *Message {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	msg := &Message{
		Version:        MessageVersion,
		ID:             id.String(),
		Task:           t.name,
		Queue:          t.queue,
		Args:           args,
		Kwargs:         kwargs,
		Retry:          t.retry,
		SenderHostname: hostname(),
		SenderPID:      os.Getpid(),
		CreatedAt:      time.Now().UTC(),
	}
	if t.maxRunTime != Unlimited {
		secs := t.maxRunTime.Seconds()
		msg.MaxRunTime = &secs
	}
	return msg
}

// MaxRunTimeDuration converts MaxRunTime back to a duration. Unlimited is 0.
func (m *Message) MaxRunTimeDuration() time.Duration {
	if m.MaxRunTime == nil {
		return Unlimited
	}
	return time.Duration(*m.MaxRunTime * float64(time.Second))
}

func (m *Message) Encode() ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task message: %w", err)
	}
	return body, nil
}

// Publishing encodes the message as a persistent JSON AMQP message.
func (m *Message) Publishing() (amqp.Publishing, error) {
	body, err := m.Encode()
	if err != nil {
		return amqp.Publishing{}, err
	}

	return amqp.Publishing{
		ContentType:     contentType,
		ContentEncoding: "utf-8",
		DeliveryMode:    amqp.Persistent,
		MessageId:       m.ID,
		Timestamp:       m.CreatedAt,
		Body:            body,
		Headers: amqp.Table{
			"task": m.Task,
		},
	}, nil
}

// Decode parses a message body produced by Encode.
func Decode(body []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task message: %w", err)
	}
	if m.ID == "" || m.Task == "" || m.Queue == "" {
		return nil, fmt.Errorf("task message is missing id, task or queue")
	}
	return &m, nil
}
