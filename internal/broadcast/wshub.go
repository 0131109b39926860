package broadcast

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/xela07ax/replmon/internal/domain"
	"go.uber.org/zap"
)

// WSHub раздает живые снапшоты websocket-клиентам дашборда.
// У каждого клиента свой буферизованный канал отправки; клиент, который
// не успевает вычитывать, отключается, чтобы не тормозить остальных.
type WSHub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	// Последний снапшот отдаем новому клиенту сразу при подключении
	last *domain.HealthSnapshot
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

const clientBufferSize = 16

func NewWSHub(logger *zap.Logger) *WSHub {
	return &WSHub{
		logger:  logger.Named("ws-hub"),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Консоль ходит с другого origin (dev-сервер фронта)
				return true
			},
		},
	}
}

// PublishSnapshot — подписчик планировщика.
func (h *WSHub) PublishSnapshot(snapshot domain.HealthSnapshot) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		h.logger.Error("snapshot marshal failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.last = &snapshot
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// Клиент не вычитывает — отцепляем
			delete(h.clients, c)
			close(c.send)
			h.logger.Warn("slow websocket client dropped")
		}
	}
	h.mu.Unlock()
}

// HandleWS апгрейдит HTTP-запрос и регистрирует клиента.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, clientBufferSize)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.last != nil {
		if payload, err := json.Marshal(h.last); err == nil {
			c.send <- payload
		}
	}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("websocket client connected", zap.Int("clients", n))

	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *WSHub) writeLoop(c *wsClient) {
	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.drop(c)
			return
		}
	}
	c.conn.Close()
}

// readLoop вычитывает входящие только ради детекции разрыва соединения.
func (h *WSHub) readLoop(c *wsClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *WSHub) drop(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}

// Close отключает всех клиентов (graceful shutdown).
func (h *WSHub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}
