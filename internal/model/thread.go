// Package model 包含了应用的数据模型定义。
package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Thread 代表 threads 集合中的一条帖子记录。
type Thread struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Content    string             `bson:"content" json:"content"`
	UserID     primitive.ObjectID `bson:"user" json:"userId"`
	Username   string             `bson:"username" json:"username"`
	UserAvatar string             `bson:"userAvatar" json:"userAvatar"`
	Community  string             `bson:"community" json:"community"`
	Location   string             `bson:"location" json:"location"`
	Tags       []string           `bson:"tags" json:"tags"`
	CreatedAt  time.Time          `bson:"createdAt" json:"createdAt"`
}

// HexID 返回帖子 ID 的十六进制字符串形式，同时也是索引文档的 ID。
func (t *Thread) HexID() string { return t.ID.Hex() }

// IndexDoc 构建写入 threads 索引的文档，不包含 _id。
func (t *Thread) IndexDoc() map[string]interface{} {
	return map[string]interface{}{
		"content":    t.Content,
		"username":   t.Username,
		"userAvatar": t.UserAvatar,
		"community":  t.Community,
		"location":   t.Location,
		"tags":       emptyIfNil(t.Tags),
		"createdAt":  t.CreatedAt,
		"userId":     t.UserID.Hex(),
	}
}

// SaveThreadInput 是发帖请求模型。
type SaveThreadInput struct {
	Content    string     `json:"content"`
	Username   string     `json:"username"`
	UserAvatar string     `json:"userAvatar"`
	Community  string     `json:"community"`
	Location   string     `json:"location"`
	Tags       []string   `json:"tags"`
	CreatedAt  *time.Time `json:"createdAt"`
}

// UpdateThreadInput 是帖子更新请求模型，只允许作者修改这些字段。
type UpdateThreadInput struct {
	Content   *string  `json:"content"`
	Community *string  `json:"community"`
	Location  *string  `json:"location"`
	Tags      []string `json:"tags"`
}

// Empty 判断更新请求是否一个字段都没有携带。
func (in *UpdateThreadInput) Empty() bool {
	return in.Content == nil && in.Community == nil && in.Location == nil && in.Tags == nil
}

// ThreadDTO 是查询路由返回的帖子投影，索引命中与主存储回退产出相同的形状。
type ThreadDTO struct {
	ID         string    `json:"_id"`
	Content    string    `json:"content"`
	Username   string    `json:"username"`
	UserAvatar string    `json:"userAvatar"`
	Community  string    `json:"community"`
	Location   string    `json:"location"`
	Tags       []string  `json:"tags"`
	CreatedAt  time.Time `json:"createdAt"`
	UserID     string    `json:"userId"`
}

// NewThreadDTO 将主存储记录转换为帖子投影。
func NewThreadDTO(t *Thread) *ThreadDTO {
	return &ThreadDTO{
		ID:         t.ID.Hex(),
		Content:    t.Content,
		Username:   t.Username,
		UserAvatar: t.UserAvatar,
		Community:  t.Community,
		Location:   t.Location,
		Tags:       emptyIfNil(t.Tags),
		CreatedAt:  t.CreatedAt,
		UserID:     t.UserID.Hex(),
	}
}
