// Package server is the transport edge: the three websocket endpoints, the
// REST surface and the error mapping table. Sockets hand their traffic to
// the actor mailboxes in match, chat and tournament; nothing here mutates
// game state directly.
package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// wsConn wraps one websocket with a bounded send queue. The writePump is the
// only goroutine that writes; TrySend never blocks, so broadcast loops can
// not stall on a slow client. Implements the Outbound interfaces of match,
// chat and tournament.
type wsConn struct {
	ws   *websocket.Conn
	send chan interface{}
	log  *zap.Logger

	pingInterval time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func newWSConn(ws *websocket.Conn, queueSize int, pingInterval time.Duration, log *zap.Logger) *wsConn {
	return &wsConn{
		ws:           ws,
		send:         make(chan interface{}, queueSize),
		log:          log,
		pingInterval: pingInterval,
		done:         make(chan struct{}),
	}
}

// TrySend queues an event for the writePump. False means the queue is full;
// callers treat that as backpressure and drop the connection.
func (c *wsConn) TrySend(event interface{}) bool {
	select {
	case <-c.done:
		return true // already closing, drop silently
	default:
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

// Close sends a close frame with the given code and tears the socket down.
// Safe to call from any goroutine, any number of times.
func (c *wsConn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(code, reason)
		if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
			c.log.Debug("write close frame", zap.Error(err))
		}
		c.ws.Close()
	})
}

// writePump serializes queued events onto the wire and keeps the connection
// alive with periodic pings.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case event := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(event); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump pulls frames off the wire and hands them to onMessage. It returns
// when the peer goes away; the caller runs its disconnect handling after.
func (c *wsConn) readPump(onMessage func(data []byte)) {
	pongWait := 2 * c.pingInterval
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		onMessage(data)
	}
}
