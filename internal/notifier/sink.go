package notifier

import (
	"context"
	"strings"
	"sync"

	kit "wasender/internal/transport"
)

const (
	PriorityInfo    = 0
	PriorityWarning = 7
)

// Notifier is the enqueue side of Service.
type Notifier interface {
	Notify(ctx context.Context, n kit.Notification) error
}

// ChatSink collects submission outcome lines for one chat and sends them as
// a single message on Flush, so success and failure lines arrive together
// and in order.
type ChatSink struct {
	n      Notifier
	target kit.ChatTarget

	mu    sync.Mutex
	lines []string
}

func NewChatSink(n Notifier, target kit.ChatTarget) *ChatSink {
	return &ChatSink{n: n, target: target}
}

func (s *ChatSink) Success(_ context.Context, text string) {
	s.add("✅ " + text)
}

func (s *ChatSink) Failure(_ context.Context, text string) {
	s.add("❌ " + text)
}

func (s *ChatSink) add(line string) {
	s.mu.Lock()
	s.lines = append(s.lines, line)
	s.mu.Unlock()
}

// Flush enqueues the collected lines. It is a no-op when nothing was added.
func (s *ChatSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	lines := s.lines
	s.lines = nil
	s.mu.Unlock()
	if len(lines) == 0 {
		return nil
	}
	return s.n.Notify(ctx, kit.Notification{
		Priority: PriorityInfo,
		Target:   s.target,
		Text:     strings.Join(lines, "\n"),
		Options:  &kit.SendOptions{DisablePreview: true},
	})
}
