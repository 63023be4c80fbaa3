package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mymmrac/telego"

	"github.com/askdesk/askdesk/pkg/correlate"
	"github.com/askdesk/askdesk/pkg/store"
)

type fakeUpdatesAPI struct {
	batches []batch
	calls   int
	offsets []int
}

type batch struct {
	updates []telego.Update
	err     error
}

func (f *fakeUpdatesAPI) GetUpdates(ctx context.Context, params *telego.GetUpdatesParams) ([]telego.Update, error) {
	f.offsets = append(f.offsets, params.Offset)
	if f.calls >= len(f.batches) {
		return nil, nil
	}
	b := f.batches[f.calls]
	f.calls++
	return b.updates, b.err
}

func textUpdate(id int, text string) telego.Update {
	return telego.Update{
		UpdateID: id,
		Message:  &telego.Message{MessageID: id, Text: text},
	}
}

func newTestProcessor(st *store.Store) *Processor {
	c := correlate.New(correlate.Options{
		Marker:     "USER",
		Known:      st.Known,
		KnownUsers: st.KnownUsers,
	})
	return NewProcessor(st, c, nil, nil, 0)
}

func TestPollerAdvancesCursorAfterProcessing(t *testing.T) {
	st := store.NewStore(store.Options{})
	bot := &fakeUpdatesAPI{batches: []batch{
		{updates: []telego.Update{
			textUpdate(10, "USER u1: first answer"),
			textUpdate(11, "USER u1: second answer"),
		}},
	}}

	p := NewPoller(bot, newTestProcessor(st), time.Second)
	p.cycle(context.Background())

	if got := p.Cursor(); got != 12 {
		t.Fatalf("cursor = %d, want 12", got)
	}
	if got := len(st.History("u1")); got != 2 {
		t.Fatalf("expected 2 stored replies, got %d", got)
	}
}

func TestPollerKeepsCursorOnFetchError(t *testing.T) {
	st := store.NewStore(store.Options{})
	bot := &fakeUpdatesAPI{batches: []batch{
		{err: errors.New("connection reset")},
		{updates: []telego.Update{textUpdate(5, "USER u1: hello")}},
	}}

	p := NewPoller(bot, newTestProcessor(st), time.Second)

	p.cycle(context.Background())
	if got := p.Cursor(); got != 0 {
		t.Fatalf("cursor advanced on fetch error: %d", got)
	}

	// Next tick retries from the same watermark.
	p.cycle(context.Background())
	if bot.offsets[1] != 0 {
		t.Fatalf("retry offset = %d, want 0", bot.offsets[1])
	}
	if got := p.Cursor(); got != 6 {
		t.Fatalf("cursor = %d, want 6", got)
	}
}

func TestOverlappingBatchesDoNotDoubleAppend(t *testing.T) {
	st := store.NewStore(store.Options{})
	overlapping := textUpdate(21, "USER u1: here is the fix")
	bot := &fakeUpdatesAPI{batches: []batch{
		{updates: []telego.Update{textUpdate(20, "USER u1: looking into it"), overlapping}},
		{updates: []telego.Update{overlapping, textUpdate(22, "USER u1: done")}},
	}}

	p := NewPoller(bot, newTestProcessor(st), time.Second)
	p.cycle(context.Background())
	p.cycle(context.Background())

	history := st.History("u1")
	if len(history) != 3 {
		t.Fatalf("expected 3 messages after overlap, got %d: %+v", len(history), history)
	}
	if history[0].Body != "looking into it" || history[1].Body != "here is the fix" || history[2].Body != "done" {
		t.Fatalf("unexpected bodies: %+v", history)
	}
}

func TestPollerEmptyBatchKeepsCursor(t *testing.T) {
	st := store.NewStore(store.Options{})
	bot := &fakeUpdatesAPI{}

	p := NewPoller(bot, newTestProcessor(st), time.Second)
	p.cycle(context.Background())

	if got := p.Cursor(); got != 0 {
		t.Fatalf("cursor = %d, want 0", got)
	}
}
