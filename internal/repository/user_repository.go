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

// UserRepository 接口定义了用户数据的持久化操作。
type UserRepository interface {
	Insert(ctx context.Context, user *model.User) (*model.User, error)
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	UpdateFields(ctx context.Context, id string, fields map[string]interface{}) (*model.User, error)
	IncrementCounters(ctx context.Context, id string, counters map[string]int) (*model.User, error)
	AddChatRef(ctx context.Context, userID string, chatID primitive.ObjectID, role string) error
	RemoveChatRef(ctx context.Context, userID string, chatID primitive.ObjectID) error
	AddPost(ctx context.Context, userID string, threadID primitive.ObjectID) error
	RemovePost(ctx context.Context, userID string, threadID primitive.ObjectID) error
	DeleteByUsername(ctx context.Context, username string) (*model.User, error)
	SearchKeyword(ctx context.Context, q string) ([]model.User, error)
}

// userRepository 是 UserRepository 接口的 MongoDB 实现。
type userRepository struct {
	coll *mongo.Collection
}

// NewUserRepository 创建一个新的 UserRepository 实例。
func NewUserRepository(db *mongo.Database) UserRepository {
	return &userRepository{coll: db.Collection(CollUsers)}
}

// Insert 在主存储中创建一条新的用户记录，返回携带生成 ID 的记录。
func (r *userRepository) Insert(ctx context.Context, user *model.User) (*model.User, error) {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	res, err := r.coll.InsertOne(ctx, user)
	if err != nil {
		return nil, storeErr("insert user", err)
	}
	user.ID = res.InsertedID.(primitive.ObjectID)
	return user, nil
}

// FindByID 根据 ID 查找用户。
func (r *userRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	var user model.User
	err = r.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NotFound("用户不存在")
	}
	if err != nil {
		return nil, storeErr("find user by id", err)
	}
	return &user, nil
}

// FindByUsername 根据用户名查找用户。
func (r *userRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	err := r.coll.FindOne(ctx, bson.M{"username": username}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NotFound("用户不存在: " + username)
	}
	if err != nil {
		return nil, storeErr("find user by username", err)
	}
	return &user, nil
}

// UpdateFields 对用户记录做部分更新（$set），返回更新后的记录。
func (r *userRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) (*model.User, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	set := bson.M{"updatedAt": time.Now()}
	for k, v := range fields {
		set[k] = v
	}
	var user model.User
	err = r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NotFound("用户不存在")
	}
	if err != nil {
		return nil, storeErr("update user", err)
	}
	return &user, nil
}

// IncrementCounters 原子地增加用户计数字段（$inc），返回更新后的记录。
func (r *userRepository) IncrementCounters(ctx context.Context, id string, counters map[string]int) (*model.User, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	inc := bson.M{}
	for k, v := range counters {
		inc[k] = v
	}
	var user model.User
	err = r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$inc": inc, "$set": bson.M{"updatedAt": time.Now()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NotFound("用户不存在")
	}
	if err != nil {
		return nil, storeErr("increment user counters", err)
	}
	return &user, nil
}

// AddChatRef 按角色把对话引用追加到用户的反向引用数组。
func (r *userRepository) AddChatRef(ctx context.Context, userID string, chatID primitive.ObjectID, role string) error {
	field := "questionChats"
	if role == model.RoleAnswerer {
		field = "answerChats"
	}
	return r.push(ctx, userID, field, chatID)
}

// RemoveChatRef 从用户的两个对话引用数组中移除该对话。
func (r *userRepository) RemoveChatRef(ctx context.Context, userID string, chatID primitive.ObjectID) error {
	oid, err := objectID(userID)
	if err != nil {
		return err
	}
	_, err = r.coll.UpdateByID(ctx, oid, bson.M{
		"$pull": bson.M{"questionChats": chatID, "answerChats": chatID},
	})
	if err != nil {
		return storeErr("remove chat ref", err)
	}
	return nil
}

// AddPost 把帖子引用追加到用户的 posts 数组。
func (r *userRepository) AddPost(ctx context.Context, userID string, threadID primitive.ObjectID) error {
	return r.push(ctx, userID, "posts", threadID)
}

// RemovePost 从用户的 posts 数组中移除帖子引用。
func (r *userRepository) RemovePost(ctx context.Context, userID string, threadID primitive.ObjectID) error {
	oid, err := objectID(userID)
	if err != nil {
		return err
	}
	_, err = r.coll.UpdateByID(ctx, oid, bson.M{"$pull": bson.M{"posts": threadID}})
	if err != nil {
		return storeErr("remove post ref", err)
	}
	return nil
}

// DeleteByUsername 删除用户并返回被删除的记录。
func (r *userRepository) DeleteByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	err := r.coll.FindOneAndDelete(ctx, bson.M{"username": username}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NotFound("用户不存在: " + username)
	}
	if err != nil {
		return nil, storeErr("delete user", err)
	}
	return &user, nil
}

// SearchKeyword 在用户名/格言/标签上做不区分大小写的子串匹配，
// 作为索引不可用时的降级查询。
func (r *userRepository) SearchKeyword(ctx context.Context, q string) ([]model.User, error) {
	filter := bson.M{"$or": []bson.M{
		{"username": bson.M{"$regex": q, "$options": "i"}},
		{"motto": bson.M{"$regex": q, "$options": "i"}},
		{"taps": bson.M{"$regex": q, "$options": "i"}},
	}}
	cur, err := r.coll.Find(ctx, filter, options.Find().SetLimit(100))
	if err != nil {
		return nil, storeErr("search users", err)
	}
	var users []model.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, storeErr("decode users", err)
	}
	return users, nil
}

func (r *userRepository) push(ctx context.Context, userID, field string, ref primitive.ObjectID) error {
	oid, err := objectID(userID)
	if err != nil {
		return err
	}
	_, err = r.coll.UpdateByID(ctx, oid, bson.M{"$push": bson.M{field: ref}})
	if err != nil {
		return storeErr("push "+field, err)
	}
	return nil
}
