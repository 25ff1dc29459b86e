package reporting

import (
	"context"
	"sync"
	"time"

	"github.com/pablodelmoral/gritoncall/internal/calls"
)

// MemoryRepo is a simple in-memory reporting repository for tests and early development.
type MemoryRepo struct {
	mu sync.Mutex

	Logs []calls.CallLog
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListCallLogs(ctx context.Context, from, to time.Time, userID string) ([]calls.CallLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.CallLog, 0)
	for _, l := range r.Logs {
		if userID != "" && l.UserID != userID {
			continue
		}
		if !l.CreatedAt.IsZero() {
			if l.CreatedAt.Before(from) || !l.CreatedAt.Before(to) {
				continue
			}
		}
		out = append(out, l)
	}
	return out, nil
}
