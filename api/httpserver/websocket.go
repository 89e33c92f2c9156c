package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"baldr/domain/market"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Browsers are gated by the session token, not the origin.
		return true
	},
}

// wsClient is one user's execution feed connection. It satisfies
// service.Subscription: Deliver never blocks, slow consumers lose
// messages and must rely on the Kafka feed for completeness.
type wsClient struct {
	server *Server
	user   market.UserID
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
}

func (c *wsClient) User() market.UserID { return c.user }

func (c *wsClient) Deliver(ue market.UserExecution) {
	message, err := json.Marshal(WSEvent{Type: "execution", Data: executionInfo(ue)})
	if err != nil {
		return
	}
	select {
	case c.send <- message:
	default:
		c.server.log.Warn().Stringer("user", c.user).Msg("execution feed buffer full, dropping")
	}
}

func (c *wsClient) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// handleWebSocket upgrades the connection and registers the user's
// execution feed. One feed per user: a second connection is refused.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, ok := s.userFromRequest(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, market.NotAuthenticated, "authenticate first")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		server: s,
		user:   user,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}

	if err := s.dist.Subscribe(client); err != nil {
		msg, _ := json.Marshal(ErrorResponse{Error: market.CodeOf(err).String()})
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, msg)
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump consumes control frames and client messages until the
// connection drops, then tears the subscription down.
func (c *wsClient) readPump() {
	defer func() {
		c.server.dist.Unsubscribe(c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.log.Debug().Err(err).Stringer("user", c.user).Msg("websocket read error")
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Fold queued messages into the same write.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
