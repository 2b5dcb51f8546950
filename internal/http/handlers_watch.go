package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/agromarket/marketgate/internal/domain/access"
	"github.com/agromarket/marketgate/internal/guard"
	"github.com/agromarket/marketgate/internal/observability/metrics"
	"github.com/agromarket/marketgate/internal/session"
)

// DefaultHeartbeat keeps idle event streams open through proxies.
const DefaultHeartbeat = 30 * time.Second

// WatchHandler streams session state to an open page over Server-Sent
// Events. Each connection runs its own guard over a snapshot of the
// session; when the guard fires the client receives a "logout" event and
// the stream ends. Closing the connection stops the guard and its timers.
type WatchHandler struct {
	// Streams ends every open stream when it is done. The server cancels it
	// on shutdown, since Server.Shutdown does not cancel active handlers.
	Streams   context.Context
	Sessions  *session.Manager
	Mode      guard.Mode
	Interval  time.Duration
	Heartbeat time.Duration
	Policy    access.Policy
	Metrics   *metrics.AccessRecorder
	Logger    *slog.Logger
}

type logoutEvent struct {
	RedirectTo string `json:"redirect_to"`
	Reason     string `json:"reason"`
}

// ServeHTTP handles GET /auth/watch.
func (h *WatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if h.Streams != nil {
		stop := context.AfterFunc(h.Streams, cancel)
		defer stop()
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	store := h.Sessions.Bind(w, r).Detached()
	v := guard.Check(h.Sessions.Now(), store.Session(ctx))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if !v.Authenticated {
		reason := "signed_out"
		if v.Expired {
			reason = "expired"
			h.Metrics.ForcedLogout(metrics.PointWatch)
		}
		writeEvent(w, "logout", logoutEvent{RedirectTo: access.SignInPath, Reason: reason})
		_ = rc.Flush()
		return
	}

	writeEvent(w, "session", newSessionResponse(v))
	if err := rc.Flush(); err != nil {
		logger.DebugContext(ctx, "event stream flush failed", "error", err)
		return
	}

	gd, err := guard.New(guard.Options{
		Store:     store,
		Mode:      h.Mode,
		Interval:  h.Interval,
		Policy:    h.Policy,
		Now:       h.Sessions.Now,
		Logger:    logger,
		OnExpired: func() { h.Metrics.ForcedLogout(metrics.PointWatch) },
	})
	if err != nil {
		return
	}

	done := make(chan error, 1)
	go func() { done <- gd.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gd.Expired():
			writeEvent(w, "logout", logoutEvent{RedirectTo: access.SignInPath, Reason: "expired"})
			_ = rc.Flush()
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeEvent(w io.Writer, name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("{}")
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}
