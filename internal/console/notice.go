package console

import (
	"sync"
	"time"
)

const DefaultNoticeTTL = 4 * time.Second

type NoticeLevel string

const (
	LevelSuccess NoticeLevel = "success"
	LevelFailure NoticeLevel = "failure"
)

// Notice is a transient status message shown after a destructive action.
type Notice struct {
	Level     NoticeLevel `json:"level"`
	Message   string      `json:"message"`
	ExpiresAt time.Time   `json:"expires_at"`
}

type noticeBoard struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	notices []Notice
}

func newNoticeBoard(ttl time.Duration, now func() time.Time) *noticeBoard {
	if ttl <= 0 {
		ttl = DefaultNoticeTTL
	}
	if now == nil {
		now = time.Now
	}
	return &noticeBoard{ttl: ttl, now: now}
}

func (b *noticeBoard) Post(level NoticeLevel, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, Notice{Level: level, Message: message, ExpiresAt: b.now().Add(b.ttl)})
}

// Active drops expired notices and returns the rest, oldest first.
func (b *noticeBoard) Active() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	kept := b.notices[:0]
	for _, n := range b.notices {
		if now.Before(n.ExpiresAt) {
			kept = append(kept, n)
		}
	}
	b.notices = kept
	return append([]Notice{}, kept...)
}
