package service

import (
	"context"
	"encoding/json"
	"sync"

	"wisdomlink-go/internal/errs"
	"wisdomlink-go/internal/model"
	"wisdomlink-go/pkg/log"
)

// LiveConn 是实时层对一条连接的抽象，Send 负责序列化与写出。
type LiveConn interface {
	Send(v interface{}) error
}

// ChatStatusStore 是实时层依赖的对话状态读写接口，由一致性层实现。
type ChatStatusStore interface {
	GetStatus(ctx context.Context, chatID string) (string, error)
	UpdateStatus(ctx context.Context, chatID, status string) (*model.ChatDTO, error)
}

// LivePayload 是客户端经实时连接发来的带类型载荷。
type LivePayload struct {
	Type     string `json:"type"`
	ToUserID string `json:"toUserId"`
	Content  string `json:"content"`
	ChatID   string `json:"chatId"`
}

// LiveService 维护在线连接表与对话活跃状态表。
// 每个用户同一时刻只保留一条连接，新连接直接顶替旧条目；
// 活跃状态在首次触达某个对话时从主存储惰性加载。
type LiveService struct {
	chats ChatStatusStore

	mu     sync.Mutex
	conns  map[string]LiveConn
	active map[string]string
}

// NewLiveService 创建一个新的 LiveService 实例。
func NewLiveService(chats ChatStatusStore) *LiveService {
	return &LiveService{
		chats:  chats,
		conns:  make(map[string]LiveConn),
		active: make(map[string]string),
	}
}

// Connect 登记一条用户连接，同一用户的旧条目被直接顶替。
func (s *LiveService) Connect(userID string, conn LiveConn) {
	s.mu.Lock()
	s.conns[userID] = conn
	s.mu.Unlock()
	log.Infof("用户实时连接建立: user=%s", userID)
}

// Disconnect 移除一条用户连接。只有当前登记的连接与断开的连接
// 是同一条时才移除，避免误删顶替后的新连接。
func (s *LiveService) Disconnect(userID string, conn LiveConn) {
	s.mu.Lock()
	if s.conns[userID] == conn {
		delete(s.conns, userID)
	}
	s.mu.Unlock()
	log.Infof("用户实时连接断开: user=%s", userID)
}

// HandleMessage 处理一条来自实时连接的原始载荷。
// 非法或未知形状的载荷在触达核心之前就被拒绝，只通知发送方。
func (s *LiveService) HandleMessage(ctx context.Context, fromUserID string, raw []byte) {
	var p LivePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.notify(fromUserID, "消息格式错误")
		return
	}

	switch p.Type {
	case "end":
		if p.ChatID == "" {
			s.notify(fromUserID, "消息格式错误")
			return
		}
		s.endChat(ctx, fromUserID, p)
	case "message":
		if p.ChatID == "" || p.ToUserID == "" {
			s.notify(fromUserID, "消息格式错误")
			return
		}
		s.forwardMessage(ctx, fromUserID, p)
	default:
		s.notify(fromUserID, "消息格式错误")
	}
}

// endChat 结束一条对话：先落主存储（幂等）确认对话存在，
// 再更新活跃状态表，最后向双方在线连接发送结束通知。
func (s *LiveService) endChat(ctx context.Context, fromUserID string, p LivePayload) {
	if _, err := s.chats.UpdateStatus(ctx, p.ChatID, model.StatusCompleted); err != nil {
		if errs.IsNotFound(err) {
			// 未知对话不留活跃状态表条目，后续消息仍按不存在处理。
			s.mu.Lock()
			delete(s.active, p.ChatID)
			s.mu.Unlock()
			s.notify(fromUserID, "对话不存在")
			return
		}
		// 落库失败仍按结束对待：本进程内不再转发该对话的消息。
		log.Errorf("持久化对话结束状态失败: chat=%s, err=%v", p.ChatID, err)
	}

	s.mu.Lock()
	s.active[p.ChatID] = model.StatusCompleted
	s.mu.Unlock()

	s.notify(fromUserID, "对话已结束")
	if p.ToUserID != "" && p.ToUserID != fromUserID {
		s.notify(p.ToUserID, "对话已结束")
	}
}

// forwardMessage 在对话仍进行中时，把消息转发给目标用户的在线连接。
// 目标不在线不算错误，消息静默丢弃。
func (s *LiveService) forwardMessage(ctx context.Context, fromUserID string, p LivePayload) {
	status, err := s.chatStatus(ctx, p.ChatID)
	if err != nil {
		if errs.IsNotFound(err) {
			s.notify(fromUserID, "对话不存在")
		} else {
			s.notify(fromUserID, "对话状态暂时不可用，请稍后重试")
		}
		return
	}
	if status == model.StatusCompleted {
		s.notify(fromUserID, "该对话已结束，不能再发送消息")
		return
	}

	s.mu.Lock()
	target := s.conns[p.ToUserID]
	s.mu.Unlock()
	if target == nil {
		return
	}
	if err := target.Send(map[string]interface{}{
		"fromUserId": fromUserID,
		"content":    p.Content,
		"chatId":     p.ChatID,
	}); err != nil {
		log.Errorf("转发实时消息失败: from=%s, to=%s, err=%v", fromUserID, p.ToUserID, err)
	}
}

// chatStatus 返回对话的活跃状态，表中没有时从主存储加载并登记。
func (s *LiveService) chatStatus(ctx context.Context, chatID string) (string, error) {
	s.mu.Lock()
	status, ok := s.active[chatID]
	s.mu.Unlock()
	if ok {
		return status, nil
	}

	status, err := s.chats.GetStatus(ctx, chatID)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.active[chatID] = status
	s.mu.Unlock()
	return status, nil
}

// notify 向某个用户的在线连接发送一条系统通知，用户不在线时丢弃。
func (s *LiveService) notify(userID, msg string) {
	s.mu.Lock()
	conn := s.conns[userID]
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Send(map[string]interface{}{"system": true, "msg": msg}); err != nil {
		log.Errorf("发送系统通知失败: user=%s, err=%v", userID, err)
	}
}
