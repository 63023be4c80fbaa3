package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mymmrac/telego"

	"github.com/askdesk/askdesk/pkg/logger"
)

// updatesAPI is the telego.Bot slice the poller fetches through.
type updatesAPI interface {
	GetUpdates(ctx context.Context, params *telego.GetUpdatesParams) ([]telego.Update, error)
}

// Poller pulls updates from the platform on a fixed interval and feeds them
// to the Processor. A single cycle runs at a time; a tick that fires while
// one is in flight is skipped, not queued.
//
// The cursor starts at zero and is not persisted: after a restart the
// platform re-delivers its retained updates and the store's duplicate check
// absorbs the overlap.
type Poller struct {
	bot       updatesAPI
	processor *Processor
	interval  time.Duration

	inFlight atomic.Bool
	mu       sync.Mutex
	offset   int
}

func NewPoller(bot updatesAPI, processor *Processor, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		bot:       bot,
		processor: processor,
		interval:  interval,
	}
}

// Run blocks until ctx is cancelled, fetching on every interval tick.
func (p *Poller) Run(ctx context.Context) {
	logger.InfoCF("poller", "Polling for expert replies", map[string]interface{}{
		"interval": p.interval.String(),
	})

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoC("poller", "Polling stopped")
			return
		case <-ticker.C:
			if !p.inFlight.CompareAndSwap(false, true) {
				logger.DebugC("poller", "Previous cycle still running, tick skipped")
				continue
			}
			p.cycle(ctx)
			p.inFlight.Store(false)
		}
	}
}

// cycle is one idle → fetching → processing → idle pass. The cursor moves
// only after every update in the batch has been handled; a fetch error
// leaves it where it was so the next tick retries the same watermark.
func (p *Poller) cycle(ctx context.Context) {
	p.mu.Lock()
	offset := p.offset
	p.mu.Unlock()

	updates, err := p.bot.GetUpdates(ctx, &telego.GetUpdatesParams{
		Offset: offset,
		Limit:  100,
	})
	if err != nil {
		logger.WarnCF("poller", "Fetch failed, cursor kept", map[string]interface{}{
			"offset": offset,
			"error":  err.Error(),
		})
		return
	}
	if len(updates) == 0 {
		return
	}

	last := offset
	for _, update := range updates {
		p.processor.Process(ctx, update)
		if update.UpdateID >= last {
			last = update.UpdateID + 1
		}
	}

	p.mu.Lock()
	if last > p.offset {
		p.offset = last
	}
	p.mu.Unlock()

	logger.DebugCF("poller", "Cycle complete", map[string]interface{}{
		"updates": len(updates),
		"cursor":  last,
	})
}

// Cursor returns the current watermark.
func (p *Poller) Cursor() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offset
}
