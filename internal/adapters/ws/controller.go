// Package ws terminates the websocket transport: one reader goroutine
// and one writer goroutine per connection, frames handed to the relay
// as-is.
package ws

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/plazalabs/plaza/internal/app"
	"github.com/plazalabs/plaza/internal/config"
)

type Controller struct {
	relay *app.Relay
	cfg   *config.Config
}

func NewController(relay *app.Relay, cfg *config.Config) *Controller {
	return &Controller{relay: relay, cfg: cfg}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the request and runs the connection until the peer
// goes away or the server shuts down.
func (ctl *Controller) Handle(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")

	wsc, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("ws upgrade")
		return
	}
	wsc.SetReadLimit(ctl.cfg.ReadLimit)

	conn := newConn(wsc, ctl.cfg.SendBuffer)
	id := ctl.relay.Register(conn)
	log.Info().Str("module", "ws").Str("conn", string(id)).Str("client", token).Msg("new connection")

	ctx, cancel := context.WithCancel(ctx)
	go conn.writePump(ctx, ctl.cfg.WriteTimeout)
	go ctl.readPump(ctx, cancel, id, conn)
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, id app.ConnID, c *Conn) {
	defer func() {
		log.Info().Str("module", "ws").Str("conn", string(id)).Msg("connection closing")
		cancel()
		c.Close()
		ctl.relay.Teardown(id)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "ws").Str("conn", string(id)).Msg("readPump read error")
				}
				return
			}
			ctl.relay.HandleFrame(id, data)
		}
	}
}
