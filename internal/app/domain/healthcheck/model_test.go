package healthcheck

import (
	"errors"
	"testing"
)

func TestBuilderScoring(t *testing.T) {
	res := NewBuilder("database", "Database").
		Pass("ping", "Database reachable", "ok").
		Warn("latency", "Query latency", "latency 150ms", 15).
		Fail("pool", "Connection pool", "pool exhausted", SeverityHigh, 20).
		Build()

	if res.Score != 65 {
		t.Fatalf("expected score 65, got %d", res.Score)
	}
	if res.Status != StatusWarning {
		t.Fatalf("expected warning, got %s", res.Status)
	}
	if len(res.Warnings) != 1 || len(res.Errors) != 1 {
		t.Fatalf("unexpected messages: %+v", res)
	}
	if c, ok := res.Check("pool"); !ok || c.Status != CheckFail {
		t.Fatalf("pool check missing or wrong: %+v", c)
	}
}

func TestBuilderClampsAtZero(t *testing.T) {
	res := NewBuilder("redis", "Redis").
		Fail("ping", "Ping", "down", SeverityCritical, 60).
		Fail("memory", "Memory", "full", SeverityHigh, 60).
		Build()
	if res.Score != 0 || res.Status != StatusCritical {
		t.Fatalf("expected 0/critical, got %d/%s", res.Score, res.Status)
	}
}

func TestStatusForScore(t *testing.T) {
	cases := map[int]Status{100: StatusHealthy, 80: StatusHealthy, 79: StatusWarning, 60: StatusWarning, 59: StatusCritical, 0: StatusCritical}
	for score, want := range cases {
		if got := StatusForScore(score); got != want {
			t.Fatalf("score %d: want %s got %s", score, want, got)
		}
	}
}

func TestUnknownAndMentions(t *testing.T) {
	res := Unknown("ai-system", "AI", errors.New("Token Limit exceeded"))
	if res.Status != StatusUnknown || res.Score != 0 {
		t.Fatalf("unexpected unknown result: %+v", res)
	}
	if !res.Mentions("token limit", false) {
		t.Fatalf("expected case-insensitive match")
	}
	if res.Mentions("token", true) {
		t.Fatalf("warnings should be empty")
	}
}
