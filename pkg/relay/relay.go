// Package relay transmits locally stored user messages to the expert's
// Telegram chat. The local store write always precedes transmission and is
// never rolled back: a failed send degrades to stored-but-unsent and is
// reported as a warning, not an error.
package relay

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/askdesk/askdesk/pkg/logger"
	"github.com/askdesk/askdesk/pkg/store"
	"github.com/askdesk/askdesk/pkg/utils"
)

// Outcome is the result of one transmission attempt. Delivered false never
// implies the message is lost locally.
type Outcome struct {
	Delivered bool
	Reason    string
}

// botAPI is the slice of telego.Bot the relay uses; tests substitute fakes.
type botAPI interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error)
	SendDocument(ctx context.Context, params *telego.SendDocumentParams) (*telego.Message, error)
	SendVoice(ctx context.Context, params *telego.SendVoiceParams) (*telego.Message, error)
	SendAudio(ctx context.Context, params *telego.SendAudioParams) (*telego.Message, error)
	GetMe(ctx context.Context) (*telego.User, error)
	SetWebhook(ctx context.Context, params *telego.SetWebhookParams) error
	DeleteWebhook(ctx context.Context, params *telego.DeleteWebhookParams) error
}

type Options struct {
	ChatID       int64
	Marker       string
	TextTimeout  time.Duration
	MediaTimeout time.Duration
}

type Relay struct {
	bot          botAPI
	chatID       int64
	marker       string
	textTimeout  time.Duration
	mediaTimeout time.Duration
}

// New builds a relay. A nil bot is allowed: every send then degrades to a
// not-configured outcome so the HTTP surface keeps working locally.
func New(bot botAPI, opts Options) *Relay {
	textTimeout := opts.TextTimeout
	if textTimeout <= 0 {
		textTimeout = 10 * time.Second
	}
	mediaTimeout := opts.MediaTimeout
	if mediaTimeout <= 0 {
		mediaTimeout = 30 * time.Second
	}
	return &Relay{
		bot:          bot,
		chatID:       opts.ChatID,
		marker:       opts.Marker,
		textTimeout:  textTimeout,
		mediaTimeout: mediaTimeout,
	}
}

// Tag is the addressing line prepended to everything relayed outbound. The
// ingestion side re-extracts the identifier from it when the expert uses the
// platform's reply feature.
func (r *Relay) Tag(userID string) string {
	return fmt.Sprintf("📩 %s %s", r.marker, userID)
}

// FormatText builds the outbound body: tag line, user text, and the
// reply-format hint the correlator's labeled-colon rule parses.
func (r *Relay) FormatText(userID, text string) string {
	return fmt.Sprintf("%s\n%s\n\n↩️ Reply with: %s %s: <answer>",
		r.Tag(userID), text, r.marker, userID)
}

func (r *Relay) SendText(ctx context.Context, userID, text string) Outcome {
	if r.bot == nil {
		return Outcome{Delivered: false, Reason: "telegram not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, r.textTimeout)
	defer cancel()

	msg := tu.Message(tu.ID(r.chatID), r.FormatText(userID, text))
	if _, err := r.bot.SendMessage(ctx, msg); err != nil {
		logger.WarnCF("relay", "Text relay failed", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		return Outcome{Delivered: false, Reason: err.Error()}
	}

	logger.DebugCF("relay", "Text relayed", map[string]interface{}{
		"user_id": userID,
		"preview": utils.Truncate(text, 50),
	})
	return Outcome{Delivered: true}
}

// SendMedia uploads a file to the expert chat with the addressing tag (and
// the user's caption, if any) as the caption.
func (r *Relay) SendMedia(ctx context.Context, userID string, kind store.Kind, file io.Reader, filename, caption string) Outcome {
	if r.bot == nil {
		return Outcome{Delivered: false, Reason: "telegram not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, r.mediaTimeout)
	defer cancel()

	fullCaption := r.Tag(userID)
	if caption != "" {
		fullCaption += "\n" + caption
	}

	input := tu.File(tu.NameReader(file, filename))
	var err error
	switch kind {
	case store.KindPhoto:
		params := tu.Photo(tu.ID(r.chatID), input)
		params.Caption = fullCaption
		_, err = r.bot.SendPhoto(ctx, params)
	case store.KindVoice:
		params := tu.Voice(tu.ID(r.chatID), input)
		params.Caption = fullCaption
		_, err = r.bot.SendVoice(ctx, params)
	case store.KindAudio:
		params := tu.Audio(tu.ID(r.chatID), input)
		params.Caption = fullCaption
		_, err = r.bot.SendAudio(ctx, params)
	default:
		params := tu.Document(tu.ID(r.chatID), input)
		params.Caption = fullCaption
		_, err = r.bot.SendDocument(ctx, params)
	}

	if err != nil {
		logger.WarnCF("relay", "Media relay failed", map[string]interface{}{
			"user_id": userID,
			"kind":    string(kind),
			"error":   err.Error(),
		})
		return Outcome{Delivered: false, Reason: err.Error()}
	}
	return Outcome{Delivered: true}
}

// Me fetches the bot's own account metadata.
func (r *Relay) Me(ctx context.Context) (*telego.User, error) {
	if r.bot == nil {
		return nil, fmt.Errorf("telegram not configured")
	}
	return r.bot.GetMe(ctx)
}

// RegisterWebhook points the platform's push delivery at url. An empty url
// deregisters the webhook (required before switching to polling).
func (r *Relay) RegisterWebhook(ctx context.Context, url string) error {
	if r.bot == nil {
		return fmt.Errorf("telegram not configured")
	}
	if url == "" {
		return r.bot.DeleteWebhook(ctx, &telego.DeleteWebhookParams{})
	}
	return r.bot.SetWebhook(ctx, &telego.SetWebhookParams{URL: url})
}
