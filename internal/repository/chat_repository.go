package repository

import (
	"context"
	"errors"
	"time"

	"wisdomlink-go/internal/errs"
	"wisdomlink-go/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ChatFilter 描述对话列表查询的条件组合。
// Role 为空时匹配用户作为任一方参与的对话。
type ChatFilter struct {
	Username  string
	Role      string
	Status    string
	Community string
}

// ChatRepository 接口定义了对话数据的持久化操作。
type ChatRepository interface {
	Insert(ctx context.Context, chat *model.Chat) (*model.Chat, error)
	FindByID(ctx context.Context, id string) (*model.Chat, error)
	UpdateFields(ctx context.Context, id string, fields map[string]interface{}) (*model.Chat, error)
	PushMessage(ctx context.Context, id string, msg model.ChatMessage) (*model.Chat, error)
	Delete(ctx context.Context, id string) error
	FindByFilter(ctx context.Context, f ChatFilter) ([]model.Chat, error)
	CountByFilter(ctx context.Context, f ChatFilter) (int64, error)
}

// chatRepository 是 ChatRepository 接口的 MongoDB 实现。
type chatRepository struct {
	coll *mongo.Collection
}

// NewChatRepository 创建一个新的 ChatRepository 实例。
func NewChatRepository(db *mongo.Database) ChatRepository {
	return &chatRepository{coll: db.Collection(CollChats)}
}

// Insert 在主存储中创建一条新的对话记录，返回携带生成 ID 的记录。
func (r *chatRepository) Insert(ctx context.Context, chat *model.Chat) (*model.Chat, error) {
	now := time.Now()
	chat.CreatedAt = now
	chat.UpdatedAt = now
	res, err := r.coll.InsertOne(ctx, chat)
	if err != nil {
		return nil, storeErr("insert chat", err)
	}
	chat.ID = res.InsertedID.(primitive.ObjectID)
	return chat, nil
}

// FindByID 根据 ID 查找对话。
func (r *chatRepository) FindByID(ctx context.Context, id string) (*model.Chat, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	var chat model.Chat
	err = r.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&chat)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NotFound("对话不存在")
	}
	if err != nil {
		return nil, storeErr("find chat by id", err)
	}
	return &chat, nil
}

// UpdateFields 对对话记录做部分更新（$set），返回更新后的记录。
// 单文档更新是原子的，这也是并发追加时消息顺序的唯一权威。
func (r *chatRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) (*model.Chat, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	set := bson.M{"updatedAt": time.Now()}
	for k, v := range fields {
		set[k] = v
	}
	var chat model.Chat
	err = r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&chat)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NotFound("对话不存在")
	}
	if err != nil {
		return nil, storeErr("update chat", err)
	}
	return &chat, nil
}

// PushMessage 以 $push 原子追加一条消息，返回更新后的记录。
func (r *chatRepository) PushMessage(ctx context.Context, id string, msg model.ChatMessage) (*model.Chat, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	var chat model.Chat
	err = r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{
			"$push": bson.M{"messages": msg},
			"$set":  bson.M{"updatedAt": time.Now()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&chat)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NotFound("对话不存在")
	}
	if err != nil {
		return nil, storeErr("push chat message", err)
	}
	return &chat, nil
}

// Delete 删除对话记录，记录不存在时返回 NotFound。
func (r *chatRepository) Delete(ctx context.Context, id string) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return storeErr("delete chat", err)
	}
	if res.DeletedCount == 0 {
		return errs.NotFound("对话不存在")
	}
	return nil
}

// FindByFilter 按条件查询对话列表，不返回消息数组，按更新时间倒序，最多 100 条。
func (r *chatRepository) FindByFilter(ctx context.Context, f ChatFilter) ([]model.Chat, error) {
	cur, err := r.coll.Find(ctx, buildChatQuery(f),
		options.Find().
			SetProjection(bson.M{"messages": 0}).
			SetSort(bson.M{"updatedAt": -1}).
			SetLimit(100),
	)
	if err != nil {
		return nil, storeErr("find chats", err)
	}
	var chats []model.Chat
	if err := cur.All(ctx, &chats); err != nil {
		return nil, storeErr("decode chats", err)
	}
	return chats, nil
}

// CountByFilter 按条件统计对话数量。
func (r *chatRepository) CountByFilter(ctx context.Context, f ChatFilter) (int64, error) {
	n, err := r.coll.CountDocuments(ctx, buildChatQuery(f))
	if err != nil {
		return 0, storeErr("count chats", err)
	}
	return n, nil
}

// buildChatQuery 把过滤条件翻译为等价的主存储查询谓词，
// 与查询路由的索引查询保持字段一致。
func buildChatQuery(f ChatFilter) bson.M {
	query := bson.M{}
	if f.Status != "" {
		query["status"] = f.Status
	}
	if f.Community != "" {
		query["community"] = f.Community
	}
	switch {
	case f.Role == model.RoleQuestioner:
		query["questionUsername"] = f.Username
	case f.Role == model.RoleAnswerer:
		query["answerUsername"] = f.Username
	case f.Username != "":
		query["$or"] = []bson.M{
			{"questionUsername": f.Username},
			{"answerUsername": f.Username},
		}
	}
	return query
}
