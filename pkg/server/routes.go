package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mymmrac/telego"

	"github.com/askdesk/askdesk/pkg/logger"
	"github.com/askdesk/askdesk/pkg/relay"
	"github.com/askdesk/askdesk/pkg/store"
	"github.com/askdesk/askdesk/pkg/uploads"
	"github.com/askdesk/askdesk/pkg/utils"
)

func registerRoutes(router *gin.Engine, deps Deps) {
	// Client app surface.
	router.POST("/send", handleSend(deps))
	router.POST("/send-photo", handleSendFile(deps, store.KindPhoto, "photo"))
	router.POST("/send-document", handleSendFile(deps, store.KindDocument, "document"))
	router.POST("/send-voice", handleSendFile(deps, store.KindVoice, "voice"))
	router.POST("/send-media", handleSendMedia(deps))
	router.GET("/messages/:userId", handleMessages(deps))
	router.GET("/health", handleHealth(deps))

	// Platform push delivery.
	router.POST("/telegram-webhook", handleWebhook(deps))

	// Locally stored media.
	if deps.Uploads != nil {
		router.Static("/uploads", deps.Uploads.Root())
	}

	// Admin / debug.
	router.GET("/debug/users", handleDebugUsers(deps))
	router.POST("/debug/reply", handleDebugReply(deps))
	router.DELETE("/messages/:userId", handleClear(deps))
	router.GET("/debug/me", handleDebugMe(deps))
	router.POST("/debug/webhook", handleDebugWebhook(deps))
}

// messageView is the client-facing shape of a stored message, with media
// references rewritten to servable URLs.
type messageView struct {
	ID       string       `json:"id"`
	From     store.Origin `json:"from"`
	Kind     store.Kind   `json:"kind"`
	Text     string       `json:"text"`
	Caption  string       `json:"caption,omitempty"`
	MediaURL string       `json:"mediaUrl,omitempty"`
	TS       int64        `json:"ts"`
}

func handleSend(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			UserID string `json:"userId"`
			Text   string `json:"text"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
		req.UserID = strings.TrimSpace(req.UserID)
		req.Text = strings.TrimSpace(req.Text)
		if req.UserID == "" || req.Text == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId and text are required"})
			return
		}

		// Stored first; transmission failure never rolls this back.
		msg := deps.Store.Append(req.UserID, store.OriginUser, store.KindText, req.Text, "", "")
		outcome := deps.Relay.SendText(c.Request.Context(), req.UserID, req.Text)

		resp := gin.H{"ok": true, "id": msg.ID, "telegram": outcome.Delivered}
		if !outcome.Delivered {
			resp["warning"] = "telegram forward failed"
			resp["telegramError"] = outcome.Reason
		}
		c.JSON(http.StatusOK, resp)
	}
}

// handleSendFile covers the three multipart upload endpoints. The file field
// may be named after the kind or just "file".
func handleSendFile(deps Deps, kind store.Kind, field string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Uploads == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "media storage unavailable"})
			return
		}
		userID := strings.TrimSpace(c.PostForm("userId"))
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
			return
		}

		fh, err := c.FormFile(field)
		if err != nil {
			fh, err = c.FormFile("file")
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		caption := strings.TrimSpace(c.PostForm("caption"))

		src, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
			return
		}
		defer src.Close()

		rec, err := deps.Uploads.Save(userID, string(store.OriginUser), string(kind),
			fh.Filename, fh.Header.Get("Content-Type"), src, deps.Cfg.Uploads.MaxBytes)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, uploads.ErrTooLarge) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		msg := deps.Store.Append(userID, store.OriginUser, kind, mediaBody(kind, rec.Name), rec.RelPath, caption)
		outcome := relayStoredMedia(deps, c, userID, kind, rec, caption)

		resp := gin.H{
			"ok":       true,
			"id":       msg.ID,
			"mediaUrl": mediaURL(deps, rec.RelPath),
			"telegram": outcome.Delivered,
		}
		if !outcome.Delivered {
			resp["warning"] = "telegram forward failed"
			resp["telegramError"] = outcome.Reason
		}
		c.JSON(http.StatusOK, resp)
	}
}

func handleSendMedia(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Uploads == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "media storage unavailable"})
			return
		}
		var req struct {
			UserID   string `json:"userId"`
			Kind     string `json:"kind"`
			Filename string `json:"filename"`
			Caption  string `json:"caption"`
			DataURI  string `json:"dataUri"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
		req.UserID = strings.TrimSpace(req.UserID)
		if req.UserID == "" || req.DataURI == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId and dataUri are required"})
			return
		}

		payload, err := utils.ParseDataURI(req.DataURI)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		kind := mediaKind(req.Kind, payload.MIMEType)
		name := strings.TrimSpace(req.Filename)
		if name == "" {
			name = string(kind) + utils.ExtForMIME(payload.MIMEType)
		}

		rec, err := deps.Uploads.Save(req.UserID, string(store.OriginUser), string(kind),
			name, payload.MIMEType, bytes.NewReader(payload.Data), deps.Cfg.Uploads.MaxBytes)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, uploads.ErrTooLarge) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		msg := deps.Store.Append(req.UserID, store.OriginUser, kind, mediaBody(kind, rec.Name), rec.RelPath, req.Caption)
		outcome := relayStoredMedia(deps, c, req.UserID, kind, rec, req.Caption)

		resp := gin.H{
			"ok":       true,
			"id":       msg.ID,
			"mediaUrl": mediaURL(deps, rec.RelPath),
			"telegram": outcome.Delivered,
		}
		if !outcome.Delivered {
			resp["warning"] = "telegram forward failed"
			resp["telegramError"] = outcome.Reason
		}
		c.JSON(http.StatusOK, resp)
	}
}

// handleWebhook always acknowledges 200: a non-200 makes the platform retry
// with backoff, which this system never wants. Processing failures are
// logged and the update dropped.
func handleWebhook(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		processWebhook(deps, c)
		c.Status(http.StatusOK)
	}
}

func processWebhook(deps Deps, c *gin.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("webhook", "Panic during webhook processing", map[string]interface{}{
				"panic": r,
			})
		}
	}()

	var update telego.Update
	if err := json.NewDecoder(c.Request.Body).Decode(&update); err != nil {
		logger.WarnCF("webhook", "Unparseable webhook payload", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if deps.Processor != nil {
		deps.Processor.Process(c.Request.Context(), update)
	}
}

func handleMessages(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		history := deps.Store.History(userID)

		views := make([]messageView, 0, len(history))
		for _, m := range history {
			v := messageView{
				ID:      m.ID,
				From:    m.Origin,
				Kind:    m.Kind,
				Text:    m.Body,
				Caption: m.Caption,
				TS:      m.Timestamp.UnixMilli(),
			}
			if m.MediaRef != "" {
				v.MediaURL = mediaURL(deps, m.MediaRef)
			}
			views = append(views, v)
		}
		c.JSON(http.StatusOK, views)
	}
}

func handleHealth(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := deps.Store.Stats()
		c.JSON(http.StatusOK, gin.H{
			"ok":                 true,
			"ts":                 time.Now().UnixMilli(),
			"totalUsers":         stats.Users,
			"totalMessages":      stats.Messages,
			"sampleUsers":        stats.SampleUsers,
			"telegramConfigured": deps.Cfg.TelegramConfigured(),
			"ingest":             deps.Cfg.Telegram.Ingest,
		})
	}
}

func handleDebugUsers(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		users := deps.Store.KnownUsers()
		entries := make([]gin.H, 0, len(users))
		for _, id := range users {
			history := deps.Store.History(id)
			entry := gin.H{"userId": id, "count": len(history)}
			if len(history) > 0 {
				last := history[len(history)-1]
				entry["lastMessage"] = utils.Truncate(last.Body, 80)
			}
			entries = append(entries, entry)
		}
		c.JSON(http.StatusOK, gin.H{"users": entries})
	}
}

// handleDebugReply injects an expert reply without going through the
// platform, with the same duplicate guard ingestion applies.
func handleDebugReply(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			UserID string `json:"userId"`
			Text   string `json:"text"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
		req.UserID = strings.TrimSpace(req.UserID)
		req.Text = strings.TrimSpace(req.Text)
		if req.UserID == "" || req.Text == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId and text are required"})
			return
		}

		if deps.Store.IsRecentExpertReply(req.UserID, req.Text) {
			c.JSON(http.StatusOK, gin.H{"ok": true, "duplicate": true})
			return
		}
		msg := deps.Store.Append(req.UserID, store.OriginExpert, store.KindText, req.Text, "", "")
		c.JSON(http.StatusOK, gin.H{"ok": true, "id": msg.ID})
	}
}

func handleClear(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		removed := deps.Store.Clear(c.Param("userId"))
		c.JSON(http.StatusOK, gin.H{"ok": true, "removed": removed})
	}
}

func handleDebugMe(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		me, err := deps.Relay.Me(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":       me.ID,
			"username": me.Username,
			"name":     me.FirstName,
		})
	}
}

// handleDebugWebhook (re)registers the platform webhook. Body {"remove":
// true} deregisters; an empty url falls back to the configured one.
func handleDebugWebhook(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			URL    string `json:"url"`
			Remove bool   `json:"remove"`
		}
		// Empty body is fine: register the configured URL.
		_ = c.ShouldBindJSON(&req)

		if req.Remove {
			if err := deps.Relay.RegisterWebhook(c.Request.Context(), ""); err != nil {
				c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"ok": true, "removed": true})
			return
		}

		url := strings.TrimSpace(req.URL)
		if url == "" {
			url = deps.Cfg.Telegram.WebhookURL
		}
		if url == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no webhook url configured"})
			return
		}
		if err := deps.Relay.RegisterWebhook(c.Request.Context(), url); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "url": url})
	}
}

// relayStoredMedia reopens the just-stored file and transmits it. The local
// copy is the source of truth; a failed open degrades like a failed send.
func relayStoredMedia(deps Deps, c *gin.Context, userID string, kind store.Kind, rec uploads.Record, caption string) relay.Outcome {
	f, err := os.Open(deps.Uploads.AbsPath(rec))
	if err != nil {
		return relay.Outcome{Delivered: false, Reason: "stored media unreadable: " + err.Error()}
	}
	defer f.Close()
	return deps.Relay.SendMedia(c.Request.Context(), userID, kind, f, rec.Name, caption)
}

func mediaBody(kind store.Kind, name string) string {
	switch kind {
	case store.KindPhoto:
		return "[photo]"
	case store.KindVoice:
		return "[voice]"
	default:
		return name
	}
}

func mediaKind(requested, mimeType string) store.Kind {
	switch store.Kind(strings.ToLower(strings.TrimSpace(requested))) {
	case store.KindPhoto:
		return store.KindPhoto
	case store.KindVoice:
		return store.KindVoice
	case store.KindAudio:
		return store.KindAudio
	case store.KindDocument:
		return store.KindDocument
	}
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return store.KindPhoto
	case strings.HasPrefix(mimeType, "audio/"):
		return store.KindAudio
	default:
		return store.KindDocument
	}
}

func mediaURL(deps Deps, relPath string) string {
	return deps.Cfg.Server.PublicBaseURL + "/uploads/" + relPath
}
