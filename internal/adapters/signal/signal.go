package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/parleychat/relay/internal/app"
	"github.com/parleychat/relay/internal/auth"
	"github.com/parleychat/relay/internal/config"
	"github.com/parleychat/relay/internal/core"
	"github.com/parleychat/relay/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// presenceTimeout bounds the store round-trips during disconnect cleanup.
const presenceTimeout = 5 * time.Second

type ChatWSController struct {
	Auth     *auth.Authenticator
	Registry *app.Registry
	Tracker  *app.Tracker
	Router   *app.Router
	Cfg      *config.Config
}

func NewChatWSController(a *auth.Authenticator, reg *app.Registry, tracker *app.Tracker, router *app.Router, cfg *config.Config) *ChatWSController {
	return &ChatWSController{Auth: a, Registry: reg, Tracker: tracker, Router: router, Cfg: cfg}
}

type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleChat authenticates the handshake, registers the connection and runs
// the pumps. An invalid credential never upgrades and never registers.
func (ctl *ChatWSController) HandleChat(ctx context.Context, c *gin.Context) {
	user, err := ctl.Auth.Authenticate(c.Request)
	if err != nil {
		log.Warn().Str("module", "signal").Str("remote", c.ClientIP()).Msg("rejected unauthorized connection")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	userID := user.ID

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.Cfg.ReadLimit)

	conn := &wsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	connID := ctl.Registry.NewConnID()
	ctl.Registry.Register(userID, connID, conn)
	log.Info().Str("module", "signal").Str("user", string(userID)).Str("conn", string(connID)).Msg("new WS connection")

	if err := ctl.Tracker.MarkOnline(ctx, userID, connID); err != nil {
		// Presence is best effort here; the connection itself still works.
		log.Error().Err(err).Str("module", "signal").Str("user", string(userID)).Msg("mark online")
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, userID, connID, conn)
		ctl.teardown(userID, connID, conn)
	}()
}

func (ctl *ChatWSController) teardown(userID domain.UserID, connID domain.ConnID, conn *wsSignalConn) {
	conn.Close()
	ctl.Registry.Unregister(connID)
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := ctl.Tracker.MarkOffline(ctx, userID, connID); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("user", string(userID)).Msg("mark offline")
	}
}
