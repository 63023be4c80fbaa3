package ingest

import (
	"context"
	"testing"

	"github.com/mymmrac/telego"

	"github.com/askdesk/askdesk/pkg/store"
)

func TestProcessStoresCorrelatedReply(t *testing.T) {
	st := store.NewStore(store.Options{})
	p := newTestProcessor(st)

	p.Process(context.Background(), textUpdate(1, "USER john_1: hello there"))

	history := st.History("john_1")
	if len(history) != 1 {
		t.Fatalf("expected 1 message, got %d", len(history))
	}
	if history[0].Origin != store.OriginExpert || history[0].Body != "hello there" {
		t.Fatalf("unexpected message: %+v", history[0])
	}
}

func TestProcessSkipsUpdateWithoutMessage(t *testing.T) {
	st := store.NewStore(store.Options{})
	p := newTestProcessor(st)

	p.Process(context.Background(), telego.Update{UpdateID: 1})

	if stats := st.Stats(); stats.Messages != 0 {
		t.Fatalf("expected no messages, got %d", stats.Messages)
	}
}

func TestProcessHandlesEditedMessage(t *testing.T) {
	st := store.NewStore(store.Options{})
	p := newTestProcessor(st)

	p.Process(context.Background(), telego.Update{
		UpdateID:      2,
		EditedMessage: &telego.Message{MessageID: 2, Text: "USER u1: corrected answer"},
	})

	history := st.History("u1")
	if len(history) != 1 || history[0].Body != "corrected answer" {
		t.Fatalf("edited message not ingested: %+v", history)
	}
}

func TestProcessDiscardsUncorrelatedChatter(t *testing.T) {
	st := store.NewStore(store.Options{})
	p := newTestProcessor(st)

	p.Process(context.Background(), textUpdate(3, "anyone up for coffee?"))

	if stats := st.Stats(); stats.Messages != 0 {
		t.Fatalf("chatter was stored: %d messages", stats.Messages)
	}
}

func TestProcessDeduplicatesIdenticalReply(t *testing.T) {
	st := store.NewStore(store.Options{})
	p := newTestProcessor(st)

	p.Process(context.Background(), textUpdate(4, "USER u1: same answer"))
	p.Process(context.Background(), textUpdate(5, "USER u1: same answer"))

	if got := len(st.History("u1")); got != 1 {
		t.Fatalf("expected exactly 1 stored entry, got %d", got)
	}
}

func TestProcessUsesReplyContext(t *testing.T) {
	st := store.NewStore(store.Options{})
	p := newTestProcessor(st)

	p.Process(context.Background(), telego.Update{
		UpdateID: 6,
		Message: &telego.Message{
			MessageID: 6,
			Text:      "it ships on Friday",
			ReplyToMessage: &telego.Message{
				MessageID: 5,
				Text:      "📩 USER kate_7\nwhen does my order ship?",
			},
		},
	})

	history := st.History("kate_7")
	if len(history) != 1 || history[0].Body != "it ships on Friday" {
		t.Fatalf("reply context not applied: %+v", history)
	}
}

func TestProcessDiscardsMediaWithoutReplyContext(t *testing.T) {
	st := store.NewStore(store.Options{})
	p := newTestProcessor(st)

	p.Process(context.Background(), telego.Update{
		UpdateID: 7,
		Message: &telego.Message{
			MessageID: 7,
			Document:  &telego.Document{FileID: "doc1", FileName: "notes.pdf"},
		},
	})

	if stats := st.Stats(); stats.Messages != 0 {
		t.Fatalf("unroutable media was stored: %d messages", stats.Messages)
	}
}
