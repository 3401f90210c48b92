// Package model 包含了应用的数据模型定义。
package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultAvatar 是新用户的默认头像地址。
const DefaultAvatar = "http://wisdomlink-img.marswu23.cn/avatar/default.png"

// User 代表 users 集合中的一条用户记录。
// questionChats/answerChats/posts 是便捷反向引用，权威数据在 Chat/Thread 记录上。
type User struct {
	ID                     primitive.ObjectID   `bson:"_id,omitempty" json:"_id"`
	Username               string               `bson:"username" json:"username"`
	Password               string               `bson:"password" json:"-"`
	Motto                  string               `bson:"motto" json:"motto"`
	Avatar                 string               `bson:"avatar" json:"avatar"`
	Taps                   []string             `bson:"taps" json:"taps"`
	Level                  int                  `bson:"level" json:"level"`
	QuestionCount          int                  `bson:"questionCount" json:"questionCount"`
	AnswerCount            int                  `bson:"answerCount" json:"answerCount"`
	HighQualityAnswerCount int                  `bson:"highQualityAnswerCount" json:"highQualityAnswerCount"`
	QuestionChats          []primitive.ObjectID `bson:"questionChats" json:"questionChats"`
	AnswerChats            []primitive.ObjectID `bson:"answerChats" json:"answerChats"`
	Posts                  []primitive.ObjectID `bson:"posts" json:"posts"`
	CreatedAt              time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt              time.Time            `bson:"updatedAt" json:"updatedAt"`
}

// HexID 返回用户 ID 的十六进制字符串形式，同时也是索引文档的 ID。
func (u *User) HexID() string { return u.ID.Hex() }

// LevelForHighQuality 根据高质量回答数计算用户等级。
// 等级只由该计数派生：>=10 为 3 级，>=5 为 2 级，否则 1 级。
func LevelForHighQuality(count int) int {
	switch {
	case count >= 10:
		return 3
	case count >= 5:
		return 2
	default:
		return 1
	}
}

// UserInfoDTO 是对外暴露的用户信息（不含凭证），也是 users 索引的文档结构。
type UserInfoDTO struct {
	Username               string   `json:"username"`
	Motto                  string   `json:"motto"`
	Avatar                 string   `json:"avatar"`
	Taps                   []string `json:"taps"`
	Level                  int      `json:"level"`
	QuestionCount          int      `json:"questionCount"`
	AnswerCount            int      `json:"answerCount"`
	HighQualityAnswerCount int      `json:"highQualityAnswerCount"`
	QuestionChats          []string `json:"questionChats"`
	AnswerChats            []string `json:"answerChats"`
	Posts                  []string `json:"posts"`
}

// NewUserInfo 将用户记录转换为对外 DTO / 索引文档。
func NewUserInfo(u *User) *UserInfoDTO {
	return &UserInfoDTO{
		Username:               u.Username,
		Motto:                  u.Motto,
		Avatar:                 u.Avatar,
		Taps:                   emptyIfNil(u.Taps),
		Level:                  u.Level,
		QuestionCount:          u.QuestionCount,
		AnswerCount:            u.AnswerCount,
		HighQualityAnswerCount: u.HighQualityAnswerCount,
		QuestionChats:          hexIDs(u.QuestionChats),
		AnswerChats:            hexIDs(u.AnswerChats),
		Posts:                  hexIDs(u.Posts),
	}
}

// CreateUserInput 是注册用户的请求模型。
type CreateUserInput struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Motto    string   `json:"motto"`
	Avatar   string   `json:"avatar"`
	Taps     []string `json:"taps"`
}

// EvaluateInput 是对一次回答的评价请求，rating 为 excellent 时计入高质量回答。
type EvaluateInput struct {
	Username string `json:"username"`
	Rating   string `json:"rating"`
}

// UpdateUserInput 是用户资料更新的请求模型，指针字段区分“未提供”与“清空”。
type UpdateUserInput struct {
	Username *string  `json:"username"`
	Motto    *string  `json:"motto"`
	Avatar   *string  `json:"avatar"`
	Taps     []string `json:"taps"`
}

// EvaluationResult 是一次回答评价后的计数快照。
type EvaluationResult struct {
	Username               string `json:"username"`
	AnswerCount            int    `json:"answerCount"`
	HighQualityAnswerCount int    `json:"highQualityAnswerCount"`
	IsExcellent            bool   `json:"isExcellent"`
}

func hexIDs(ids []primitive.ObjectID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.Hex())
	}
	return out
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
