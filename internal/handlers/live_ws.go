// internal/handlers/live_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/livehub/internal/hub"
	"github.com/jason-s-yu/livehub/internal/middleware"
	"github.com/jason-s-yu/livehub/internal/models"
	"github.com/jason-s-yu/livehub/internal/router"
	"github.com/sirupsen/logrus"
)

const (
	subprotocol    = "live"
	readLimit      = 64 << 10
	writeTimeout   = 5 * time.Second
	pingInterval   = 30 * time.Second
	pingTimeout    = 15 * time.Second
	closeOnFailure = "handler finished"
)

// LiveWSHandler accepts a websocket on the live subprotocol and feeds its
// frames to the router until the socket closes.
func LiveWSHandler(logger *logrus.Logger, rt *router.Router, lookup UserLookup, outBuf int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := resolveIdentity(r, lookup, logger)

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{subprotocol},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, closeOnFailure)

		if c.Subprotocol() != subprotocol {
			c.Close(BadSubprotocolError, "client must speak the live subprotocol")
			return
		}
		c.SetReadLimit(readLimit)

		ctx, cancel := context.WithCancel(r.Context())
		conn := hub.NewConn(models.ConnID(uuid.NewString()), identity, outBuf, logger)
		conn.Cancel = cancel

		rt.Connect(conn)
		middleware.LogWebSocketConnect(logger, r.RemoteAddr, conn.ID)

		go writePump(ctx, c, conn, logger)
		readErr := readPump(ctx, c, rt, conn, logger)

		rt.Disconnect(conn)
		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, conn.ID, readErr)
		c.Close(websocket.StatusNormalClosure, "")
	}
}

// readPump returns nil on a clean close and the read error otherwise.
func readPump(ctx context.Context, c *websocket.Conn, rt *router.Router, conn *hub.Conn, logger *logrus.Logger) error {
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			logger.WithField("conn", conn.ID).Warnf("ignoring non-text frame of type %d", typ)
			continue
		}
		rt.Handle(ctx, conn, msg)
	}
}

func writePump(ctx context.Context, c *websocket.Conn, conn *hub.Conn, logger *logrus.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	log := logger.WithField("conn", conn.ID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case msg := <-conn.OutChan:
			data, err := json.Marshal(msg)
			if err != nil {
				log.Warnf("failed to marshal outgoing %T: %v", msg, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Warnf("failed to write to websocket: %v", err)
				c.Close(websocket.StatusGoingAway, "write failed")
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				log.Warnf("ping failed, assuming disconnect: %v", err)
				c.Close(websocket.StatusGoingAway, "ping failed")
				return
			}
		}
	}
}
