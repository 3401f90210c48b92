// Package model 包含了应用的数据模型定义。
package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// 对话生命周期状态。completed 是终态，不允许回到 ongoing。
const (
	StatusOngoing   = "ongoing"
	StatusCompleted = "completed"
)

// 参与者角色，在创建对话时固定，之后不再变更。
const (
	RoleQuestioner = "questioner"
	RoleAnswerer   = "answerer"
)

// ChatMessage 代表对话消息数组中的一条消息。
// 数组按追加顺序排列，时间戳单调不减。
type ChatMessage struct {
	SenderID       primitive.ObjectID `bson:"senderId" json:"senderId"`
	SenderUsername string             `bson:"senderUsername" json:"senderUsername"`
	Content        string             `bson:"content" json:"content"`
	Timestamp      time.Time          `bson:"timestamp" json:"timestamp"`
}

// Chat 代表 chats 集合中的一条一对一问答对话记录。
type Chat struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	QuestionUserID   primitive.ObjectID `bson:"questionUserId" json:"questionUserId"`
	QuestionUsername string             `bson:"questionUsername" json:"questionUsername"`
	AnswerUserID     primitive.ObjectID `bson:"answerUserId" json:"answerUserId"`
	AnswerUsername   string             `bson:"answerUsername" json:"answerUsername"`
	Content          string             `bson:"content" json:"content"`
	Community        string             `bson:"community" json:"community"`
	Tags             []string           `bson:"tags" json:"tags"`
	Status           string             `bson:"status" json:"status"`
	Messages         []ChatMessage      `bson:"messages" json:"messages"`
	CreatedAt        time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// HexID 返回对话 ID 的十六进制字符串形式，同时也是索引文档的 ID。
func (c *Chat) HexID() string { return c.ID.Hex() }

// IsParticipant 判断给定用户是否为对话参与者（按身份而非用户名）。
func (c *Chat) IsParticipant(userID primitive.ObjectID) bool {
	return c.QuestionUserID == userID || c.AnswerUserID == userID
}

// IndexDoc 构建写入 chats 索引的文档，不包含 _id（文档 ID 由索引层携带）。
func (c *Chat) IndexDoc() map[string]interface{} {
	return map[string]interface{}{
		"questionUserId":   c.QuestionUserID.Hex(),
		"questionUsername": c.QuestionUsername,
		"answerUserId":     c.AnswerUserID.Hex(),
		"answerUsername":   c.AnswerUsername,
		"content":          c.Content,
		"community":        c.Community,
		"tags":             emptyIfNil(c.Tags),
		"status":           c.Status,
		"messages":         c.Messages,
		"createdAt":        c.CreatedAt,
		"updatedAt":        c.UpdatedAt,
	}
}

// SaveChatInput 是保存（新建或整体更新）对话的请求模型。
type SaveChatInput struct {
	ID               string             `json:"_id"`
	QuestionUsername string             `json:"questionUsername"`
	AnswerUsername   string             `json:"answerUsername"`
	Content          string             `json:"content"`
	Community        string             `json:"community"`
	Tags             []string           `json:"tags"`
	Status           string             `json:"status"`
	Messages         []ChatMessageInput `json:"messages"`
}

// ChatMessageInput 是保存对话时携带的消息，发送者以用户名引用。
type ChatMessageInput struct {
	SenderUsername string     `json:"senderUsername"`
	Content        string     `json:"content"`
	Timestamp      *time.Time `json:"timestamp"`
}

// ChatDTO 是查询路由返回的对话投影，索引命中与主存储回退产出相同的形状。
type ChatDTO struct {
	ID               string           `json:"_id"`
	QuestionUserID   string           `json:"questionUserId"`
	QuestionUsername string           `json:"questionUsername"`
	AnswerUserID     string           `json:"answerUserId"`
	AnswerUsername   string           `json:"answerUsername"`
	Content          string           `json:"content"`
	Community        string           `json:"community"`
	Tags             []string         `json:"tags"`
	Status           string           `json:"status"`
	Messages         []ChatMessageDTO `json:"messages"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// ChatMessageDTO 是消息的对外投影，发送者 ID 统一为十六进制字符串。
type ChatMessageDTO struct {
	SenderID       string    `json:"senderId"`
	SenderUsername string    `json:"senderUsername"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewChatDTO 将主存储记录转换为对话投影。
func NewChatDTO(c *Chat) *ChatDTO {
	msgs := make([]ChatMessageDTO, 0, len(c.Messages))
	for _, m := range c.Messages {
		msgs = append(msgs, ChatMessageDTO{
			SenderID:       m.SenderID.Hex(),
			SenderUsername: m.SenderUsername,
			Content:        m.Content,
			Timestamp:      m.Timestamp,
		})
	}
	return &ChatDTO{
		ID:               c.ID.Hex(),
		QuestionUserID:   c.QuestionUserID.Hex(),
		QuestionUsername: c.QuestionUsername,
		AnswerUserID:     c.AnswerUserID.Hex(),
		AnswerUsername:   c.AnswerUsername,
		Content:          c.Content,
		Community:        c.Community,
		Tags:             emptyIfNil(c.Tags),
		Status:           c.Status,
		Messages:         msgs,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

// ChatSummaryDTO 是面向某个用户的对话列表行，不携带消息数组。
type ChatSummaryDTO struct {
	ID              string    `json:"_id"`
	Content         string    `json:"content"`
	Community       string    `json:"community"`
	Tags            []string  `json:"tags"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	Role            string    `json:"role"`
	PartnerUsername string    `json:"partnerUsername"`
	MessageCount    int       `json:"messageCount"`
}

// ParticipantDTO 是对话详情读取时展开的参与者信息。
type ParticipantDTO struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Motto    string `json:"motto"`
}

// ChatDetailDTO 是携带参与者展开信息的对话详情。
type ChatDetailDTO struct {
	ChatDTO
	Questioner ParticipantDTO `json:"questioner"`
	Answerer   ParticipantDTO `json:"answerer"`
}

// ChatStats 是某个用户的对话统计。
type ChatStats struct {
	TotalChats   int64 `json:"totalChats"`
	AsQuestioner int64 `json:"asQuestioner"`
	AsAnswerer   int64 `json:"asAnswerer"`
	Ongoing      int64 `json:"ongoing"`
	Completed    int64 `json:"completed"`
}
