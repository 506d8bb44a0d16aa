package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	kit "bosstracker/internal/transport"
)

func TestFormatChatLine(t *testing.T) {
	got := formatChatLine([]byte(`{"level":"warn","time":"x","message":"tick failed","comp":"tracker","caller":"app.go:10"}` + "\n"))
	want := "[WARN] tick failed\n- caller=app.go:10\n- comp=tracker"
	if got != want {
		t.Fatalf("formatChatLine = %q, want %q", got, want)
	}
}

func TestFormatChatLineNonJSON(t *testing.T) {
	if got := formatChatLine([]byte("  plain text \n")); got != "plain text" {
		t.Fatalf("got %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("dropped", String("k", "v"))
	if Nop().IsZero() {
		t.Fatal("Nop logger is not the zero value")
	}
	if l.With(String("k", "v")).IsZero() {
		t.Fatal("logger with fields is not the zero value")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdefghijklmnop", 12); got != "abcdefghi..." {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("short", 12); got != "short" {
		t.Fatalf("truncate = %q", got)
	}
}

type recSender struct {
	mu   sync.Mutex
	sent []string
	to   []kit.ChatTarget
}

func (r *recSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	r.to = append(r.to, to)
	return kit.MessageRef{}, nil
}

func (r *recSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestChatSinkMirrorsWarnings(t *testing.T) {
	rs := &recSender{}
	svc, log := New(Config{Level: "debug", Chat: ChatConfig{MinLevel: "warn", RatePerSec: 10}}, rs)
	defer svc.Close()
	svc.SetChatTarget(-200, 5)
	svc.Apply(Config{Level: "debug", Chat: ChatConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10}})

	log = log.With(String("comp", "test"))
	log.Info("not mirrored")
	log.Warn("mirrored", Int("n", 1))

	deadline := time.Now().Add(2 * time.Second)
	for rs.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("warning never reached the chat")
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.sent) != 1 {
		t.Fatalf("sent=%q", rs.sent)
	}
	if !strings.HasPrefix(rs.sent[0], "[WARN] mirrored") || !strings.Contains(rs.sent[0], "- comp=test") {
		t.Fatalf("line=%q", rs.sent[0])
	}
	if rs.to[0] != (kit.ChatTarget{ChatID: -200, ThreadID: 5}) {
		t.Fatalf("target=%+v", rs.to[0])
	}
}
