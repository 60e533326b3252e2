package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/c360/featuresync/notify"
)

// NoticeRecorder is a notify.Sink that keeps every notice.
type NoticeRecorder struct {
	mu      sync.Mutex
	notices []notify.Notice
}

var _ notify.Sink = (*NoticeRecorder)(nil)

// Notify implements notify.Sink.
func (r *NoticeRecorder) Notify(n notify.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Notices returns a copy of the recorded notices.
func (r *NoticeRecorder) Notices() []notify.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notice(nil), r.notices...)
}

// BySeverity returns the recorded notices of one severity.
func (r *NoticeRecorder) BySeverity(sev notify.Severity) []notify.Notice {
	var out []notify.Notice
	for _, n := range r.Notices() {
		if n.Severity == sev {
			out = append(out, n)
		}
	}
	return out
}

// Reset drops the recorded notices.
func (r *NoticeRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = nil
}

// WaitForNotices waits until at least count notices were recorded.
func (r *NoticeRecorder) WaitForNotices(t testing.TB, count int, timeout time.Duration) []notify.Notice {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got := r.Notices(); len(got) >= count {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := r.Notices()
	t.Fatalf("timeout waiting for %d notices (got %d)", count, len(got))
	return got
}
