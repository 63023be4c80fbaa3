// Package store keeps per-user conversation history in memory. History lives
// for the lifetime of the process only; a restart starts empty.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Origin string

const (
	OriginUser   Origin = "user"
	OriginExpert Origin = "expert"
)

type Kind string

const (
	KindText     Kind = "text"
	KindPhoto    Kind = "photo"
	KindDocument Kind = "document"
	KindVoice    Kind = "voice"
	KindAudio    Kind = "audio"
)

// Message is immutable once appended. JSON tags match the client contract:
// clients read "from", "text" and "ts".
type Message struct {
	ID        string    `json:"id"`
	Origin    Origin    `json:"from"`
	Kind      Kind      `json:"kind"`
	Body      string    `json:"text"`
	MediaRef  string    `json:"mediaRef,omitempty"`
	Caption   string    `json:"caption,omitempty"`
	Timestamp time.Time `json:"ts"`
}

type Stats struct {
	Users       int      `json:"users"`
	Messages    int      `json:"messages"`
	SampleUsers []string `json:"sampleUsers"`
}

type Options struct {
	// WelcomeMessages are appended as expert-origin text entries when a
	// conversation is first created.
	WelcomeMessages []string
	// SeedOnFetch makes History create (and welcome-seed) the conversation
	// for an unseen ID, so a client's first poll already shows the welcome.
	// Off, History never mutates.
	SeedOnFetch bool
	// DedupWindow is how many trailing expert messages IsRecentExpertReply
	// inspects. Zero means the default of 5.
	DedupWindow int
}

type Store struct {
	mu            sync.RWMutex
	conversations map[string][]Message
	order         []string // user IDs in creation order
	welcome       []string
	seedOnFetch   bool
	dedupWindow   int
	lastTS        time.Time
}

func NewStore(opts Options) *Store {
	window := opts.DedupWindow
	if window <= 0 {
		window = 5
	}
	return &Store{
		conversations: make(map[string][]Message),
		welcome:       opts.WelcomeMessages,
		seedOnFetch:   opts.SeedOnFetch,
		dedupWindow:   window,
	}
}

// Append records a message at the end of the user's conversation, creating
// (and welcome-seeding) the conversation if this is the first entry.
func (s *Store) Append(userID string, origin Origin, kind Kind, body, mediaRef, caption string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureLocked(userID)
	return s.appendLocked(userID, origin, kind, body, mediaRef, caption)
}

// History returns a copy of the user's conversation in append order. Unseen
// users get an empty slice (or a freshly-seeded conversation when SeedOnFetch
// is set), never an error.
func (s *Store) History(userID string) []Message {
	if s.seedOnFetch {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.ensureLocked(userID)
		return s.historyLocked(userID)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.historyLocked(userID)
}

func (s *Store) historyLocked(userID string) []Message {
	msgs := s.conversations[userID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Clear removes the user's entire conversation and reports whether one
// existed. This is the only way a stored message is ever deleted.
func (s *Store) Clear(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[userID]; !ok {
		return false
	}
	delete(s.conversations, userID)
	for i, id := range s.order {
		if id == userID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *Store) Known(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conversations[userID]
	return ok
}

// KnownUsers returns all user IDs in conversation-creation order.
func (s *Store) KnownUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, msgs := range s.conversations {
		total += len(msgs)
	}
	sample := s.order
	if len(sample) > 3 {
		sample = sample[:3]
	}
	cp := make([]string, len(sample))
	copy(cp, sample)

	return Stats{
		Users:       len(s.conversations),
		Messages:    total,
		SampleUsers: cp,
	}
}

// IsRecentExpertReply reports whether one of the user's last few
// expert-origin messages carries an identical body. Polling re-observes
// updates near the cursor boundary, so ingestion checks this before
// appending. Heuristic, not exactly-once.
func (s *Store) IsRecentExpertReply(userID, body string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.conversations[userID]
	seen := 0
	for i := len(msgs) - 1; i >= 0 && seen < s.dedupWindow; i-- {
		if msgs[i].Origin != OriginExpert {
			continue
		}
		seen++
		if msgs[i].Body == body {
			return true
		}
	}
	return false
}

func (s *Store) ensureLocked(userID string) {
	if _, ok := s.conversations[userID]; ok {
		return
	}
	s.conversations[userID] = []Message{}
	s.order = append(s.order, userID)
	for _, text := range s.welcome {
		s.appendLocked(userID, OriginExpert, KindText, text, "", "")
	}
}

func (s *Store) appendLocked(userID string, origin Origin, kind Kind, body, mediaRef, caption string) Message {
	ts := time.Now()
	if ts.Before(s.lastTS) {
		ts = s.lastTS
	}
	s.lastTS = ts

	msg := Message{
		ID:        uuid.NewString(),
		Origin:    origin,
		Kind:      kind,
		Body:      body,
		MediaRef:  mediaRef,
		Caption:   caption,
		Timestamp: ts,
	}
	s.conversations[userID] = append(s.conversations[userID], msg)
	return msg
}
