package ingesttrace

import "testing"

func TestTraceIDDeterminism(t *testing.T) {
	first := New("irc", "channel-a", "user1", "hello world")
	second := New("irc", "channel-a", "user1", "hello world")
	if first.TraceID != second.TraceID {
		t.Fatalf("expected deterministic trace id, got %q and %q", first.TraceID, second.TraceID)
	}

	different := New("irc", "channel-a", "user1", "hello mars")
	if first.TraceID == different.TraceID {
		t.Fatalf("expected different trace id when text changes")
	}
}

func TestCounterIncrements(t *testing.T) {
	trace := New("eventsub", "channel-b", "user2", "hi there")

	if count := trace.Count(StageReceived); count != 1 {
		t.Fatalf("expected received to be seeded with 1, got %d", count)
	}
	if count := trace.IncCounter(StagePending); count != 1 {
		t.Fatalf("expected reward_pending to be 1, got %d", count)
	}
	if count := trace.IncCounter(StageDropped("usernotice")); count != 1 {
		t.Fatalf("expected dropped_usernotice to be 1, got %d", count)
	}
	if count := trace.IncCounter(StageDropped("usernotice")); count != 2 {
		t.Fatalf("expected dropped_usernotice to be 2 after increment, got %d", count)
	}
}

func TestNilTraceIsSafe(t *testing.T) {
	var trace *MessageTrace
	if trace.IncCounter(StageEmitted) != 0 {
		t.Fatalf("expected nil trace to report zero")
	}
	trace.LogTrace(nil, "noop")
}

func TestSnippetTruncated(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "é"
	}
	trace := New("irc", "c", "u", long)
	if n := len([]rune(trace.Snippet)); n != 48 {
		t.Fatalf("expected 48 rune snippet, got %d", n)
	}
}
