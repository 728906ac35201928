package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"canvas-collab/internal/domain"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 65536

	// 每个客户端发送通道的缓冲区大小
	sendBufferSize = 256
)

// outbound 是会话向单个参与者下发帧的出口。
// 会话通过它广播，测试用记录桩替代真实连接。
type outbound interface {
	// Enqueue 非阻塞入队一帧。队列满时返回 false，帧被丢弃。
	Enqueue(frame []byte) bool
	// Close 关闭出口，触发底层连接关闭。幂等。
	Close()
}

// Client 包装一条 WebSocket 连接，把入站帧泵送给所属会话，
// 把会话下发的帧泵送回连接。
type Client struct {
	conn      *websocket.Conn
	session   *session
	principal domain.Principal
	send      chan []byte
	closeOnce sync.Once
}

// NewClient 创建 Client 实例。
func newClient(conn *websocket.Conn, s *session, p domain.Principal) *Client {
	return &Client{
		conn:      conn,
		session:   s,
		principal: p,
		send:      make(chan []byte, sendBufferSize),
	}
}

// Run 启动客户端的读写 goroutine。
func (c *Client) Run() {
	go c.writePump()
	go c.readPump()
}

// Enqueue 实现 outbound。非阻塞；队列满时丢帧并返回 false。
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		logrus.WithFields(logrus.Fields{
			"user_id": c.principal.UserID,
			"room_id": c.session.roomID,
		}).Warn("Client send channel full, dropping frame")
		return false
	}
}

// Close 实现 outbound。关闭发送通道，writePump 随之退出并关闭连接。
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// readPump 把入站帧泵送到会话的事件通道。
func (c *Client) readPump() {
	logCtx := logrus.WithFields(logrus.Fields{
		"user_id": c.principal.UserID,
		"room_id": c.session.roomID,
	})
	defer func() {
		// 通知会话本连接离线；会话可能已在排水，带超时兜底
		select {
		case c.session.events <- event{kind: evDisconnect, out: c, principal: c.principal}:
		case <-time.After(1 * time.Second):
			logCtx.Warn("Timeout sending disconnect event to session")
		}
		c.conn.Close()
		logCtx.Debug("readPump exited")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logCtx.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				logCtx.Debug("WebSocket connection closed")
			}
			break
		}
		if messageType != websocket.TextMessage {
			logCtx.Debugf("Ignoring non-text message type: %d", messageType)
			continue
		}

		// 非阻塞投递给会话；会话处理不过来时丢弃，光标类帧允许丢失
		select {
		case c.session.events <- event{kind: evFrame, out: c, principal: c.principal, frame: message}:
		default:
			logCtx.Warn("Session event channel full, dropping client frame")
		}
	}
}

// writePump 把会话下发的帧写回 WebSocket 连接，并维持 ping/pong 心跳。
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	logCtx := logrus.WithFields(logrus.Fields{
		"user_id": c.principal.UserID,
		"room_id": c.session.roomID,
	})
	defer func() {
		ticker.Stop()
		c.conn.Close()
		logCtx.Debug("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// 会话关闭了发送通道
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logCtx.WithError(err).Warn("Failed to write message to websocket")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logCtx.WithError(err).Warn("Failed to send ping message")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})
		}
	}
}
