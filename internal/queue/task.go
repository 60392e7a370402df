package queue

import (
	"encoding/json"
	"errors"
	"time"
)

// Task is a unit of background work. Attempt is the 1-based delivery number
// handlers see; it is ignored on enqueue.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
	Attempt        int
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. The worker dead-letters the task
// on the first such failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err carries a Permanent marker.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// message is the JSON member stored in the sorted sets and the dead-letter
// list. ID keeps otherwise identical enqueues distinct members. Attempt counts
// deliveries already started.
type message struct {
	ID          string `json:"id,omitempty"`
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	DueAt       int64  `json:"due_at_ms"`
	LastError   string `json:"last_error,omitempty"`
}

func (m message) encode() (string, error) {
	raw, err := json.Marshal(m)
	return string(raw), err
}

func (m message) exhausted() bool {
	return m.MaxAttempts > 0 && m.Attempt >= m.MaxAttempts
}

func decodeMessage(raw string) (message, error) {
	var m message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return message{}, err
	}
	if m.Kind == "" {
		return message{}, errors.New("queue: message without kind")
	}
	return m, nil
}

// sanitizeKind returns kind when it only uses [a-z0-9-_:], otherwise "".
func sanitizeKind(kind string) string {
	for _, c := range kind {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_', c == ':':
		default:
			return ""
		}
	}
	return kind
}

type keyspace struct{ prefix string }

func (k keyspace) base() string {
	if k.prefix == "" {
		return "queue"
	}
	return k.prefix
}

func (k keyspace) ready(kind string) string {
	if k.prefix == "" {
		return "queue:" + kind
	}
	return k.prefix + ":queue:" + kind
}

func (k keyspace) processing(kind string) string { return k.base() + ":" + kind + ":processing" }
func (k keyspace) dlq(kind string) string        { return k.base() + ":" + kind + ":dlq" }
func (k keyspace) dedup(kind, key string) string { return k.base() + ":dedup:" + kind + ":" + key }
