package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"wisdomlink-go/internal/config"
	"wisdomlink-go/internal/service"
	"wisdomlink-go/pkg/database"
	"wisdomlink-go/pkg/log"
	"wisdomlink-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// ticketPrefix 是一次性连接票据在 Redis 中的键前缀。
const ticketPrefix = "live:ticket:"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 浏览器端无法在 WebSocket 握手时携带自定义头，来源校验交给票据。
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ticketClaims 是写入票据的用户信息快照。
type ticketClaims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// LiveHandler 负责实时连接的建立：签发一次性票据并完成 WebSocket 升级。
type LiveHandler struct {
	liveService *service.LiveService
}

// NewLiveHandler 创建一个新的 LiveHandler 实例。
func NewLiveHandler(liveService *service.LiveService) *LiveHandler {
	return &LiveHandler{liveService: liveService}
}

// IssueTicket 为当前认证用户签发一张一次性连接票据。
// 票据存入 Redis 并带有过期时间，连接时以 GETDEL 消费，只能使用一次。
func (h *LiveHandler) IssueTicket(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	claims, err := json.Marshal(ticketClaims{UserID: user.HexID(), Username: user.Username})
	if err != nil {
		respondError(c, err)
		return
	}

	ticket := token.GenerateRandomString(16)
	ttl := time.Duration(config.Conf.Live.TicketTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if err := database.RDB.Set(c.Request.Context(), ticketPrefix+ticket, claims, ttl).Err(); err != nil {
		log.Errorf("写入连接票据失败: user=%s, err=%v", user.Username, err)
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"ticket": ticket})
}

// Connect 消费票据并把 HTTP 连接升级为 WebSocket。
// 升级成功后登记连接，进入读循环，连接关闭时注销。
func (h *LiveHandler) Connect(c *gin.Context) {
	raw, err := database.RDB.GetDel(c.Request.Context(), ticketPrefix+c.Param("ticket")).Result()
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    http.StatusUnauthorized,
			"message": "无效或已过期的连接票据",
		})
		return
	}
	var claims ticketClaims
	if err := json.Unmarshal([]byte(raw), &claims); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    http.StatusUnauthorized,
			"message": "无效的连接票据",
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("WebSocket 升级失败: user=%s, err=%v", claims.Username, err)
		return
	}

	wc := &wsConn{conn: conn}
	h.liveService.Connect(claims.UserID, wc)
	defer func() {
		h.liveService.Disconnect(claims.UserID, wc)
		conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("WebSocket 连接异常关闭: user=%s, err=%v", claims.Username, err)
			}
			return
		}
		h.liveService.HandleMessage(c.Request.Context(), claims.UserID, payload)
	}
}

// wsConn 把 *websocket.Conn 适配为实时层的连接抽象。
// gorilla 的连接不允许并发写，所有写出都在互斥锁内完成。
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Send 序列化并写出一条消息。
func (w *wsConn) Send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}
