// Package ingest turns raw platform updates into stored expert replies. Two
// drivers feed it: the webhook handler (push) and the poller (pull). Every
// update ends correlated-and-appended, discarded, or skipped; none of those
// is an error to the driver.
package ingest

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/askdesk/askdesk/pkg/correlate"
	"github.com/askdesk/askdesk/pkg/logger"
	"github.com/askdesk/askdesk/pkg/store"
	"github.com/askdesk/askdesk/pkg/uploads"
	"github.com/askdesk/askdesk/pkg/utils"
)

// fileAPI is the telego.Bot slice used to fetch expert-sent media.
type fileAPI interface {
	GetFile(ctx context.Context, params *telego.GetFileParams) (*telego.File, error)
	FileDownloadURL(filepath string) string
}

type Processor struct {
	store      *store.Store
	correlator *correlate.Correlator
	uploads    *uploads.Store
	files      fileAPI // nil disables expert media ingestion
	client     *http.Client
	maxBytes   int64
}

func NewProcessor(st *store.Store, c *correlate.Correlator, up *uploads.Store, files fileAPI, maxBytes int64) *Processor {
	return &Processor{
		store:      st,
		correlator: c,
		uploads:    up,
		files:      files,
		client:     &http.Client{},
		maxBytes:   maxBytes,
	}
}

// Process handles one update end to end. It never returns an error; drivers
// acknowledge the platform regardless of what happened here.
func (p *Processor) Process(ctx context.Context, update telego.Update) {
	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil {
		logger.DebugC("ingest", "Update carries no message, skipping")
		return
	}

	replyText := ""
	if msg.ReplyToMessage != nil {
		replyText = msg.ReplyToMessage.Text
		if replyText == "" {
			replyText = msg.ReplyToMessage.Caption
		}
	}

	if hasMedia(msg) {
		p.processMedia(ctx, msg, replyText)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		logger.DebugC("ingest", "Update has no text, skipping")
		return
	}

	match, ok := p.correlator.Correlate(correlate.Input{Text: text, ReplyToText: replyText})
	if !ok {
		// Normal traffic: most expert chat is not a structured reply.
		logger.DebugCF("ingest", "No reply pattern matched", map[string]interface{}{
			"preview": utils.Truncate(text, 80),
		})
		return
	}

	if p.store.IsRecentExpertReply(match.UserID, match.Body) {
		logger.InfoCF("ingest", "Duplicate expert reply discarded", map[string]interface{}{
			"user_id": match.UserID,
		})
		return
	}

	p.store.Append(match.UserID, store.OriginExpert, store.KindText, match.Body, "", "")
	logger.InfoCF("ingest", "Expert reply stored", map[string]interface{}{
		"user_id": match.UserID,
		"preview": utils.Truncate(match.Body, 50),
	})
}

// processMedia handles expert photo/document/voice/audio. Media has no
// inline text to parse, so only the reply context can route it.
func (p *Processor) processMedia(ctx context.Context, msg *telego.Message, replyText string) {
	userID, ok := p.correlator.CorrelateMedia(replyText)
	if !ok {
		logger.WarnC("ingest", "Expert media without usable reply context, discarding")
		return
	}

	if p.files == nil || p.uploads == nil {
		logger.WarnCF("ingest", "Expert media ingestion unavailable, discarding", map[string]interface{}{
			"user_id": userID,
		})
		return
	}

	kind, fileID, name, mimeType, body := mediaDetails(msg)

	rec, err := p.fetchToUploads(ctx, userID, kind, fileID, name, mimeType)
	if err != nil {
		logger.ErrorCF("ingest", "Expert media download failed", map[string]interface{}{
			"user_id": userID,
			"kind":    string(kind),
			"error":   err.Error(),
		})
		return
	}

	p.store.Append(userID, store.OriginExpert, kind, body, rec.RelPath, msg.Caption)
	logger.InfoCF("ingest", "Expert media stored", map[string]interface{}{
		"user_id": userID,
		"kind":    string(kind),
		"media":   rec.RelPath,
	})
}

func (p *Processor) fetchToUploads(ctx context.Context, userID string, kind store.Kind, fileID, name, mimeType string) (uploads.Record, error) {
	file, err := p.files.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return uploads.Record{}, fmt.Errorf("get file: %w", err)
	}
	if file.FilePath == "" {
		return uploads.Record{}, fmt.Errorf("platform returned no file path")
	}

	url := p.files.FileDownloadURL(file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return uploads.Record{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return uploads.Record{}, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return uploads.Record{}, fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	return p.uploads.Save(userID, string(store.OriginExpert), string(kind), name, mimeType, resp.Body, p.maxBytes)
}

func hasMedia(msg *telego.Message) bool {
	return len(msg.Photo) > 0 || msg.Document != nil || msg.Voice != nil || msg.Audio != nil
}

// mediaDetails picks the attachment out of the message, preferring the
// largest photo size, and derives a filename plus a readable body
// placeholder for the conversation view.
func mediaDetails(msg *telego.Message) (kind store.Kind, fileID, name, mimeType, body string) {
	switch {
	case len(msg.Photo) > 0:
		photo := msg.Photo[len(msg.Photo)-1]
		return store.KindPhoto, photo.FileID, fmt.Sprintf("photo_%s.jpg", photo.FileID), "image/jpeg", "[photo]"
	case msg.Voice != nil:
		return store.KindVoice, msg.Voice.FileID, fmt.Sprintf("voice_%s.ogg", msg.Voice.FileID), "audio/ogg", "[voice]"
	case msg.Audio != nil:
		name := msg.Audio.FileName
		if name == "" {
			name = fmt.Sprintf("audio_%s.mp3", msg.Audio.FileID)
		}
		return store.KindAudio, msg.Audio.FileID, name, msg.Audio.MimeType, name
	default:
		name := msg.Document.FileName
		if name == "" {
			name = fmt.Sprintf("document_%s", msg.Document.FileID)
		}
		return store.KindDocument, msg.Document.FileID, name, msg.Document.MimeType, name
	}
}
