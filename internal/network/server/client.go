package server

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/user/guesswho/internal/protocol"
	"github.com/user/guesswho/internal/room"
)

const (
	// Write timeout
	writeWait = 10 * time.Second

	// Read timeout (pong wait)
	pongWait = 60 * time.Second

	// Ping interval (must be shorter than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound message size
	maxMessageSize = 1024
)

// Client is one live websocket connection bound to a room member.
type Client struct {
	id       string
	playerID string
	roomCode string
	ip       string

	server *Server
	conn   *websocket.Conn
	sendCh chan []byte
}

// newClient wraps an upgraded connection for an already-validated
// member of roomCode.
func newClient(s *Server, conn *websocket.Conn, playerID, roomCode, ip string) *Client {
	return &Client{
		id:       uuid.New().String(),
		playerID: playerID,
		roomCode: roomCode,
		ip:       ip,
		server:   s,
		conn:     conn,
		sendCh:   make(chan []byte, 64),
	}
}

// ReadPump reads client commands until the connection dies. Cleanup
// runs on every exit path, however the transport went away.
func (c *Client) ReadPump() {
	defer func() {
		c.handleDisconnect()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("read error from %s: %v", c.playerID, err)
			}
			break
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			log.Printf("bad message from %s: %v", c.playerID, err)
			c.Send(protocol.NewError("invalid message"))
			continue
		}

		c.server.handleMessage(c, msg)
	}
}

// WritePump writes queued messages and keeps the connection alive
// with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

// send queues encoded bytes, dropping them if the client's buffer is
// full so one slow reader cannot stall the room's broadcasts.
func (c *Client) send(data []byte) {
	select {
	case c.sendCh <- data:
	default:
		log.Printf("send buffer full for %s (conn %s), dropping message", c.playerID, c.id)
	}
}

// Send encodes and queues one outbound message for this connection only.
func (c *Client) Send(msg any) {
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Printf("encode error: %v", err)
		return
	}
	c.send(data)
}

// handleDisconnect flips the membership to disconnected, detaches the
// connection and re-broadcasts the room state. The registry detach
// always runs so the in-memory group cannot leak connections even
// when the store write fails; a membership deleted by a racing leave
// is simply no longer there to flip.
func (c *Client) handleDisconnect() {
	ctx := context.Background()

	if err := c.server.manager.SetConnection(ctx, c.roomCode, c.playerID, room.ConnDisconnected); err != nil {
		log.Printf("mark %s disconnected in %s: %v", c.playerID, c.roomCode, err)
	}

	c.server.registry.Detach(c)
	c.server.releaseConn()

	c.server.broadcastRoomState(ctx, c.roomCode)
	log.Printf("player %s disconnected from room %s (conn %s)", c.playerID, c.roomCode, c.id)
}
