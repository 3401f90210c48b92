package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"wisdomlink-go/internal/errs"
	"wisdomlink-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingConn 记录发送给它的所有消息。
type recordingConn struct {
	mu   sync.Mutex
	sent []map[string]interface{}
}

func (c *recordingConn) Send(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var msg map[string]interface{}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return err
	}
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	return nil
}

func (c *recordingConn) messages() []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]interface{}(nil), c.sent...)
}

func (c *recordingConn) lastSystemNotice() string {
	msgs := c.messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i]["system"] == true {
			return msgs[i]["msg"].(string)
		}
	}
	return ""
}

// fakeStatusStore 是 ChatStatusStore 的内存实现。
type fakeStatusStore struct {
	mu     sync.Mutex
	status map[string]string
}

func newFakeStatusStore() *fakeStatusStore {
	return &fakeStatusStore{status: make(map[string]string)}
}

func (s *fakeStatusStore) GetStatus(_ context.Context, chatID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.status[chatID]
	if !ok {
		return "", errs.NotFound("对话不存在")
	}
	return status, nil
}

func (s *fakeStatusStore) UpdateStatus(_ context.Context, chatID, status string) (*model.ChatDTO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.status[chatID]
	if !ok {
		return nil, errs.NotFound("对话不存在")
	}
	if current == model.StatusCompleted && status == model.StatusOngoing {
		return nil, errs.Permission("已结束的对话不能重新开启")
	}
	s.status[chatID] = status
	return &model.ChatDTO{ID: chatID, Status: status}, nil
}

func payload(t *testing.T, p LivePayload) []byte {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return raw
}

func TestConnectReplacesExistingConnection(t *testing.T) {
	svc := NewLiveService(newFakeStatusStore())
	old := &recordingConn{}
	svc.Connect("u1", old)
	replacement := &recordingConn{}
	svc.Connect("u1", replacement)

	// 旧连接的 Disconnect 不应移除新连接
	svc.Disconnect("u1", old)

	svc.notify("u1", "还在线")
	assert.Empty(t, old.messages())
	require.Len(t, replacement.messages(), 1)
	assert.Equal(t, "还在线", replacement.lastSystemNotice())
}

func TestDisconnectRemovesOwnEntry(t *testing.T) {
	svc := NewLiveService(newFakeStatusStore())
	conn := &recordingConn{}
	svc.Connect("u1", conn)
	svc.Disconnect("u1", conn)

	svc.notify("u1", "人呢")
	assert.Empty(t, conn.messages())
}

func TestHandleMessageRejectsMalformedPayloads(t *testing.T) {
	svc := NewLiveService(newFakeStatusStore())
	sender := &recordingConn{}
	svc.Connect("u1", sender)
	ctx := context.Background()

	svc.HandleMessage(ctx, "u1", []byte("not json"))
	svc.HandleMessage(ctx, "u1", payload(t, LivePayload{Type: "typing", ChatID: "c1"}))
	svc.HandleMessage(ctx, "u1", payload(t, LivePayload{Type: "message", ToUserID: "u2"}))
	svc.HandleMessage(ctx, "u1", payload(t, LivePayload{Type: "end"}))

	msgs := sender.messages()
	require.Len(t, msgs, 4)
	for _, msg := range msgs {
		assert.Equal(t, true, msg["system"])
		assert.Equal(t, "消息格式错误", msg["msg"])
	}
}

func TestForwardMessageWhileOngoing(t *testing.T) {
	store := newFakeStatusStore()
	store.status["c1"] = model.StatusOngoing
	svc := NewLiveService(store)
	sender := &recordingConn{}
	target := &recordingConn{}
	svc.Connect("u1", sender)
	svc.Connect("u2", target)

	svc.HandleMessage(context.Background(), "u1", payload(t, LivePayload{
		Type: "message", ToUserID: "u2", Content: "在吗", ChatID: "c1",
	}))

	msgs := target.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "u1", msgs[0]["fromUserId"])
	assert.Equal(t, "在吗", msgs[0]["content"])
	assert.Equal(t, "c1", msgs[0]["chatId"])
	// 转发成功不给发送方回执
	assert.Empty(t, sender.messages())
}

func TestForwardToOfflineTargetIsSilent(t *testing.T) {
	store := newFakeStatusStore()
	store.status["c1"] = model.StatusOngoing
	svc := NewLiveService(store)
	sender := &recordingConn{}
	svc.Connect("u1", sender)

	svc.HandleMessage(context.Background(), "u1", payload(t, LivePayload{
		Type: "message", ToUserID: "u2", Content: "在吗", ChatID: "c1",
	}))
	assert.Empty(t, sender.messages())
}

func TestMessageToUnknownChat(t *testing.T) {
	svc := NewLiveService(newFakeStatusStore())
	sender := &recordingConn{}
	svc.Connect("u1", sender)

	svc.HandleMessage(context.Background(), "u1", payload(t, LivePayload{
		Type: "message", ToUserID: "u2", Content: "在吗", ChatID: "missing",
	}))
	assert.Equal(t, "对话不存在", sender.lastSystemNotice())
}

// 端到端场景：对端离线时消息静默丢弃，结束后双方收到通知，
// 再发消息被拒绝且不触达对端。
func TestLiveSessionEndToEnd(t *testing.T) {
	store := newFakeStatusStore()
	store.status["c1"] = model.StatusOngoing
	svc := NewLiveService(store)
	ctx := context.Background()

	connA := &recordingConn{}
	svc.Connect("ua", connA)

	// B 离线，转发静默丢弃
	svc.HandleMessage(ctx, "ua", payload(t, LivePayload{
		Type: "message", ToUserID: "ub", Content: "你好", ChatID: "c1",
	}))
	assert.Empty(t, connA.messages())

	// B 上线后能收到转发
	connB := &recordingConn{}
	svc.Connect("ub", connB)
	svc.HandleMessage(ctx, "ua", payload(t, LivePayload{
		Type: "message", ToUserID: "ub", Content: "在吗", ChatID: "c1",
	}))
	require.Len(t, connB.messages(), 1)

	// A 结束对话：状态落库，双方收到结束通知
	svc.HandleMessage(ctx, "ua", payload(t, LivePayload{
		Type: "end", ToUserID: "ub", ChatID: "c1",
	}))
	assert.Equal(t, model.StatusCompleted, store.status["c1"])
	assert.Equal(t, "对话已结束", connA.lastSystemNotice())
	assert.Equal(t, "对话已结束", connB.lastSystemNotice())

	// 结束后 B 再发消息：发送方收到拒绝通知，对端不收到转发
	before := len(connA.messages())
	svc.HandleMessage(ctx, "ub", payload(t, LivePayload{
		Type: "message", ToUserID: "ua", Content: "等等", ChatID: "c1",
	}))
	assert.Equal(t, "该对话已结束，不能再发送消息", connB.lastSystemNotice())
	assert.Len(t, connA.messages(), before)
}

// 对未知对话发送 end 不留下活跃状态条目：
// 后续消息仍报对话不存在，而不是已结束。
func TestEndUnknownChatDoesNotPoisonActivityMap(t *testing.T) {
	svc := NewLiveService(newFakeStatusStore())
	sender := &recordingConn{}
	svc.Connect("u1", sender)
	ctx := context.Background()

	svc.HandleMessage(ctx, "u1", payload(t, LivePayload{Type: "end", ChatID: "missing"}))
	assert.Equal(t, "对话不存在", sender.lastSystemNotice())

	svc.HandleMessage(ctx, "u1", payload(t, LivePayload{
		Type: "message", ToUserID: "u2", Content: "在吗", ChatID: "missing",
	}))
	assert.Equal(t, "对话不存在", sender.lastSystemNotice())
}

// 结束是幂等操作：重复 end 不报错，也不会把状态改回去。
func TestEndIsIdempotent(t *testing.T) {
	store := newFakeStatusStore()
	store.status["c1"] = model.StatusOngoing
	svc := NewLiveService(store)
	sender := &recordingConn{}
	svc.Connect("u1", sender)
	ctx := context.Background()

	svc.HandleMessage(ctx, "u1", payload(t, LivePayload{Type: "end", ChatID: "c1"}))
	svc.HandleMessage(ctx, "u1", payload(t, LivePayload{Type: "end", ChatID: "c1"}))
	assert.Equal(t, model.StatusCompleted, store.status["c1"])
	assert.Equal(t, "对话已结束", sender.lastSystemNotice())
}
