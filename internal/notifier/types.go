package notifier

import "time"

type Config struct {
	Workers    int
	QueueSize  int
	RatePerSec int
}

type HistoryItem struct {
	At   time.Time
	Text string
}

// NotificationEvent is the payload of notifier.* bus events.
type NotificationEvent struct {
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
