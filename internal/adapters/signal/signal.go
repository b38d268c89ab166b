package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/walkie/internal/app"
	"github.com/dkeye/walkie/internal/config"
	"github.com/dkeye/walkie/internal/core"
	"github.com/dkeye/walkie/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// Issuer hands out relay-server credentials for a newly connected socket.
type Issuer func(domain.ParticipantID) (domain.Credentials, error)

type SignalWSController struct {
	Relay      *app.Relay
	Issue      Issuer
	Limiter    *RateLimiter
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

func NewSignalWSController(relay *app.Relay, cfg config.RelayConfig, issue Issuer) *SignalWSController {
	return &SignalWSController{
		Relay:      relay,
		Issue:      issue,
		Limiter:    NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		SendBuffer: cfg.SendBuffer,
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves one socket until either side
// goes away. Every socket gets a fresh participant id, so two tabs sharing
// a client token are still two participants.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	id := domain.ParticipantID(uuid.NewString())
	logger := log.With().Str("module", "signal").Str("pid", string(id)).Str("client", c.GetString("client_token")).Logger()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	logger.Info().Msg("new WS connection")

	buffer := ctl.SendBuffer
	if buffer <= 0 {
		buffer = 32
	}
	conn := &WsSignalConn{conn: ws, send: make(chan core.Frame, buffer)}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	var creds domain.Credentials
	if ctl.Issue != nil {
		if creds, err = ctl.Issue(id); err != nil {
			logger.Warn().Err(err).Msg("no relay credentials for socket")
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	sess := core.NewMemberSession(domain.NewMember(id), conn)
	ctl.Relay.Connect(sess, creds, cancel)

	go ctl.serve(ctx, cancel, id, conn)
}

func (ctl *SignalWSController) serve(ctx context.Context, cancel context.CancelFunc, id domain.ParticipantID, conn *WsSignalConn) {
	stop := context.AfterFunc(ctx, conn.Close)
	defer stop()

	var wg conc.WaitGroup
	wg.Go(func() { ctl.writePump(ctx, conn) })
	ctl.readPump(id, conn)
	cancel()
	wg.Wait()

	ctl.Relay.Disconnect(id)
	ctl.Limiter.Forget(id)
	log.Info().Str("module", "signal").Str("pid", string(id)).Msg("socket closed")
}
