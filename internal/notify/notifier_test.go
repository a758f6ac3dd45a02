package notify

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockNotifier struct {
	called bool
	got    Message
	err    error
}

func (m *mockNotifier) Notify(ctx context.Context, msg Message) error {
	m.called = true
	m.got = msg
	return m.err
}

func TestMultiNotifier_NotifyAll(t *testing.T) {
	n1 := &mockNotifier{}
	n2 := &mockNotifier{}

	multi := NewMultiNotifier(n1, n2)
	if err := multi.Notify(context.Background(), Message{Title: "hello"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !n1.called || !n2.called {
		t.Error("expected both notifiers to be called")
	}
	if n2.got.Title != "hello" {
		t.Errorf("expected message passed through, got %+v", n2.got)
	}
}

func TestMultiNotifier_JoinsErrors(t *testing.T) {
	e1 := errors.New("n1 failed")
	e2 := errors.New("n2 failed")
	n1 := &mockNotifier{err: e1}
	n2 := &mockNotifier{err: e2}
	n3 := &mockNotifier{}

	err := NewMultiNotifier(n1, n2, n3).Notify(context.Background(), Message{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Errorf("expected both errors joined, got %v", err)
	}
	if !n3.called {
		t.Error("expected later notifier to be called despite failures")
	}
}

func TestNewNotifier(t *testing.T) {
	const slackURL = "https://hooks.slack.com/test"
	const discordURL = "https://discord.com/api/webhooks/test"

	n, err := NewNotifier(slackURL, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := n.(*SlackNotifier); !ok {
		t.Errorf("expected *SlackNotifier, got %T", n)
	}

	n, err = NewNotifier("", discordURL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := n.(*DiscordNotifier); !ok {
		t.Errorf("expected *DiscordNotifier, got %T", n)
	}

	n, err = NewNotifier(slackURL, discordURL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	multi, ok := n.(*MultiNotifier)
	if !ok {
		t.Fatalf("expected *MultiNotifier, got %T", n)
	}
	if len(multi.notifiers) != 2 {
		t.Errorf("expected 2 notifiers, got %d", len(multi.notifiers))
	}

	if _, err := NewNotifier("", ""); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"truncate me", 5, "trun…"},
		{"héllo wörld", 6, "héllo…"},
		{"ab", 1, "a"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestBulletList(t *testing.T) {
	if got := BulletList(nil, "none"); got != "none" {
		t.Errorf("expected fallback, got %q", got)
	}
	if got := BulletList([]string{"a", "b"}, "none"); got != "- a\n- b" {
		t.Errorf("unexpected list %q", got)
	}
}

func TestTimeAgo(t *testing.T) {
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{0, "just now"},
		{30 * time.Second, "30 sec ago"},
		{time.Minute + time.Second, "1 min ago"},
		{5 * time.Minute, "5 min ago"},
		{time.Hour + time.Minute, "1 hour ago"},
		{3 * time.Hour, "3 hours ago"},
		{25 * time.Hour, "1 day ago"},
		{72 * time.Hour, "3 days ago"},
	}
	for _, tt := range tests {
		if got := TimeAgo(time.Now().Add(-tt.ago)); got != tt.want {
			t.Errorf("TimeAgo(-%v) = %q, want %q", tt.ago, got, tt.want)
		}
	}
}
