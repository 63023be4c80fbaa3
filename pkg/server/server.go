// Package server exposes the HTTP surface the client app talks to, plus the
// platform webhook and a few admin affordances.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/askdesk/askdesk/pkg/config"
	"github.com/askdesk/askdesk/pkg/ingest"
	"github.com/askdesk/askdesk/pkg/logger"
	"github.com/askdesk/askdesk/pkg/relay"
	"github.com/askdesk/askdesk/pkg/store"
	"github.com/askdesk/askdesk/pkg/uploads"
)

// Deps are the collaborators every handler gets; there is no ambient state.
// Uploads may be nil: media endpoints then answer 503 and /uploads is not
// mounted.
type Deps struct {
	Cfg       *config.Config
	Store     *store.Store
	Relay     *relay.Relay
	Processor *ingest.Processor
	Uploads   *uploads.Store
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func Start(ctx context.Context, deps Deps) error {
	if deps.Store == nil {
		return fmt.Errorf("server: store is required")
	}

	gin.SetMode(gin.ReleaseMode)
	router := NewRouter(deps)

	addr := fmt.Sprintf("%s:%d", deps.Cfg.Server.Host, deps.Cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	logger.InfoCF("server", "HTTP server listening", map[string]interface{}{
		"addr": addr,
	})

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// NewRouter builds the gin engine with all routes registered. Split out from
// Start so tests can drive it with httptest.
func NewRouter(deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, deps)
	return router
}
