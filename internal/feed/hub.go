package feed

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	clientSendSize = 64
)

// Hub раздает события ленты изменений websocket-клиентам.
// Источник событий - pub/sub каналы Redis, по одному на таблицу
type Hub struct {
	redisClient *redis.Client
	logger      *logrus.Logger
	upgrader    websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client - одно websocket-соединение с фильтром по таблицам
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	tables map[string]struct{} // пустой фильтр = все таблицы
}

// NewHub создает новый Hub
func NewHub(redisClient *redis.Client, logger *logrus.Logger) *Hub {
	return &Hub{
		redisClient: redisClient,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Клиенты приходят с других origin (SPA), проверка на уровне API-ключа
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Run подписывается на каналы ленты и раздает события клиентам до отмены контекста
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Starting feed hub...")
	go func() {
		pubsub := h.redisClient.PSubscribe(ctx, channelPattern)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				h.logger.Info("Stopping feed hub.")
				h.closeAll()
				return
			case msg, ok := <-ch:
				if !ok {
					h.logger.Warn("Feed pub/sub channel closed")
					return
				}
				table := strings.TrimPrefix(msg.Channel, channelPrefix)
				h.broadcast(table, []byte(msg.Payload))
			}
		}
	}()
}

// HandleWS апгрейдит HTTP-запрос до websocket и регистрирует клиента.
// Фильтр таблиц передается query-параметром tables (через запятую)
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to upgrade feed connection")
		return
	}

	cl := &client{
		conn:   conn,
		send:   make(chan []byte, clientSendSize),
		tables: parseTableFilter(c.Query("tables")),
	}

	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
	h.logger.WithField("remote_addr", conn.RemoteAddr().String()).Info("Feed client connected")

	go h.writePump(cl)
	go h.readPump(cl)
}

func (h *Hub) broadcast(table string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for cl := range h.clients {
		if !cl.wants(table) {
			continue
		}
		select {
		case cl.send <- payload:
		default:
			// Медленный клиент: событие пропускается, клиент догонит состояние перечитыванием
			h.logger.Warn("Feed client send buffer full, dropping event")
		}
	}
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump читает входящие фреймы только ради обработки close/pong
func (h *Hub) readPump(cl *client) {
	defer h.drop(cl)
	cl.conn.SetReadLimit(512)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(cl *client) {
	h.mu.Lock()
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		close(cl.send)
	}
	h.mu.Unlock()
	cl.conn.Close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		delete(h.clients, cl)
		close(cl.send)
		cl.conn.Close()
	}
}

func (cl *client) wants(table string) bool {
	if len(cl.tables) == 0 {
		return true
	}
	_, ok := cl.tables[table]
	return ok
}

func parseTableFilter(raw string) map[string]struct{} {
	tables := make(map[string]struct{})
	if raw == "" {
		return tables
	}
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tables[t] = struct{}{}
		}
	}
	return tables
}
