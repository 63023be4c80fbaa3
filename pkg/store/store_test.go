package store

import (
	"fmt"
	"sync"
	"testing"
)

func TestAppendPreservesOrder(t *testing.T) {
	s := NewStore(Options{})

	s.Append("u1", OriginUser, KindText, "first", "", "")
	s.Append("u1", OriginExpert, KindText, "second", "", "")
	s.Append("u1", OriginUser, KindPhoto, "[photo]", "photo/a.jpg", "look")

	history := s.History("u1")
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
	if history[0].Body != "first" || history[1].Body != "second" || history[2].Body != "[photo]" {
		t.Fatalf("order not preserved: %+v", history)
	}
	if history[0].Origin != OriginUser || history[1].Origin != OriginExpert {
		t.Fatalf("origins not preserved")
	}
	if history[2].Kind != KindPhoto {
		t.Fatalf("kind not preserved: %s", history[2].Kind)
	}
}

func TestHistoryUnseenUserIsEmptyNotError(t *testing.T) {
	s := NewStore(Options{})
	history := s.History("nobody")
	if history == nil {
		t.Fatal("expected non-nil empty slice")
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d entries", len(history))
	}
}

func TestAppendRoundTrip(t *testing.T) {
	s := NewStore(Options{})
	msg := s.Append("u1", OriginUser, KindDocument, "report.pdf", "document/x_report.pdf", "Q3 numbers")

	history := s.History("u1")
	if len(history) != 1 {
		t.Fatalf("expected 1 message, got %d", len(history))
	}
	got := history[0]
	if got.ID != msg.ID || got.Body != "report.pdf" || got.Kind != KindDocument {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.MediaRef != "document/x_report.pdf" || got.Caption != "Q3 numbers" {
		t.Fatalf("media fields lost: %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Fatal("timestamp not assigned")
	}
}

func TestWelcomeSeedingOnFirstAppend(t *testing.T) {
	s := NewStore(Options{WelcomeMessages: []string{"hi there", "an expert will reply soon"}})
	s.Append("u1", OriginUser, KindText, "hello", "", "")

	history := s.History("u1")
	if len(history) != 3 {
		t.Fatalf("expected 2 welcome + 1 user message, got %d", len(history))
	}
	if history[0].Body != "hi there" || history[0].Origin != OriginExpert {
		t.Fatalf("unexpected first seed: %+v", history[0])
	}
	if history[2].Body != "hello" {
		t.Fatalf("user message not after seeds: %+v", history[2])
	}
}

func TestSeedOnFetchSeedsUnseenUser(t *testing.T) {
	s := NewStore(Options{
		WelcomeMessages: []string{"hi there"},
		SeedOnFetch:     true,
	})

	history := s.History("u1")
	if len(history) != 1 {
		t.Fatalf("expected seeded history, got %d entries", len(history))
	}
	if history[0].Body != "hi there" || history[0].Origin != OriginExpert {
		t.Fatalf("unexpected seed: %+v", history[0])
	}
	if !s.Known("u1") {
		t.Fatal("fetched user should now be known")
	}

	// A second fetch must not re-seed.
	if got := len(s.History("u1")); got != 1 {
		t.Fatalf("expected 1 entry after refetch, got %d", got)
	}
}

func TestSeedOnFetchOffByDefault(t *testing.T) {
	s := NewStore(Options{WelcomeMessages: []string{"hi there"}})

	if got := len(s.History("u1")); got != 0 {
		t.Fatalf("fetch should not seed by default, got %d entries", got)
	}
	if s.Known("u1") {
		t.Fatal("fetch should not create a conversation by default")
	}
}

func TestClear(t *testing.T) {
	s := NewStore(Options{})
	s.Append("u1", OriginUser, KindText, "hello", "", "")

	if !s.Clear("u1") {
		t.Fatal("expected Clear to report existing conversation")
	}
	if s.Clear("u1") {
		t.Fatal("expected second Clear to report missing conversation")
	}
	if len(s.History("u1")) != 0 {
		t.Fatal("history not empty after clear")
	}
	if s.Known("u1") {
		t.Fatal("user still known after clear")
	}
}

func TestStats(t *testing.T) {
	s := NewStore(Options{})
	for i := 0; i < 5; i++ {
		s.Append(fmt.Sprintf("user_%d", i), OriginUser, KindText, "hi", "", "")
	}
	s.Append("user_0", OriginExpert, KindText, "hello", "", "")

	stats := s.Stats()
	if stats.Users != 5 {
		t.Fatalf("expected 5 users, got %d", stats.Users)
	}
	if stats.Messages != 6 {
		t.Fatalf("expected 6 messages, got %d", stats.Messages)
	}
	if len(stats.SampleUsers) != 3 {
		t.Fatalf("expected 3 sample users, got %d", len(stats.SampleUsers))
	}
	if stats.SampleUsers[0] != "user_0" {
		t.Fatalf("samples not in creation order: %v", stats.SampleUsers)
	}
}

func TestIsRecentExpertReplyWindow(t *testing.T) {
	s := NewStore(Options{DedupWindow: 2})

	s.Append("u1", OriginExpert, KindText, "old answer", "", "")
	s.Append("u1", OriginExpert, KindText, "newer", "", "")
	s.Append("u1", OriginExpert, KindText, "newest", "", "")

	if !s.IsRecentExpertReply("u1", "newest") {
		t.Fatal("expected newest to be detected")
	}
	if !s.IsRecentExpertReply("u1", "newer") {
		t.Fatal("expected newer to be inside the window")
	}
	if s.IsRecentExpertReply("u1", "old answer") {
		t.Fatal("old answer should have fallen outside the window")
	}
	if s.IsRecentExpertReply("u1", "never sent") {
		t.Fatal("unknown body should not match")
	}
}

func TestIsRecentExpertReplyIgnoresUserMessages(t *testing.T) {
	s := NewStore(Options{})
	s.Append("u1", OriginUser, KindText, "same words", "", "")
	if s.IsRecentExpertReply("u1", "same words") {
		t.Fatal("user-origin message must not count as an expert reply")
	}
}

func TestTimestampsNonDecreasing(t *testing.T) {
	s := NewStore(Options{})
	for i := 0; i < 50; i++ {
		s.Append("u1", OriginUser, KindText, "m", "", "")
	}
	history := s.History("u1")
	for i := 1; i < len(history); i++ {
		if history[i].Timestamp.Before(history[i-1].Timestamp) {
			t.Fatalf("timestamp decreased at index %d", i)
		}
	}
}

func TestConcurrentAppendsSameUser(t *testing.T) {
	s := NewStore(Options{})
	const n = 100

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			origin := OriginUser
			if i%2 == 0 {
				origin = OriginExpert
			}
			s.Append("u1", origin, KindText, fmt.Sprintf("msg %d", i), "", "")
		}(i)
	}
	wg.Wait()

	if got := len(s.History("u1")); got != n {
		t.Fatalf("expected %d messages, got %d", n, got)
	}
}
