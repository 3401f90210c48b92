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

// ThreadRepository 接口定义了帖子数据的持久化操作。
type ThreadRepository interface {
	Insert(ctx context.Context, thread *model.Thread) (*model.Thread, error)
	FindByID(ctx context.Context, id string) (*model.Thread, error)
	UpdateFields(ctx context.Context, id string, fields map[string]interface{}) (*model.Thread, error)
	Delete(ctx context.Context, id string) error
	FindByCommunity(ctx context.Context, community string) ([]model.Thread, error)
	FindByUsername(ctx context.Context, username string) ([]model.Thread, error)
	SearchKeyword(ctx context.Context, q string) ([]model.Thread, error)
	Sample(ctx context.Context, n int) ([]model.Thread, error)
}

// threadRepository 是 ThreadRepository 接口的 MongoDB 实现。
type threadRepository struct {
	coll *mongo.Collection
}

// NewThreadRepository 创建一个新的 ThreadRepository 实例。
func NewThreadRepository(db *mongo.Database) ThreadRepository {
	return &threadRepository{coll: db.Collection(CollThreads)}
}

// Insert 在主存储中创建一条新的帖子记录，返回携带生成 ID 的记录。
func (r *threadRepository) Insert(ctx context.Context, thread *model.Thread) (*model.Thread, error) {
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = time.Now()
	}
	res, err := r.coll.InsertOne(ctx, thread)
	if err != nil {
		return nil, storeErr("insert thread", err)
	}
	thread.ID = res.InsertedID.(primitive.ObjectID)
	return thread, nil
}

// FindByID 根据 ID 查找帖子。
func (r *threadRepository) FindByID(ctx context.Context, id string) (*model.Thread, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	var thread model.Thread
	err = r.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&thread)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NotFound("帖子不存在")
	}
	if err != nil {
		return nil, storeErr("find thread by id", err)
	}
	return &thread, nil
}

// UpdateFields 对帖子记录做部分更新（$set），返回更新后的记录。
func (r *threadRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) (*model.Thread, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	set := bson.M{}
	for k, v := range fields {
		set[k] = v
	}
	var thread model.Thread
	err = r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&thread)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NotFound("帖子不存在")
	}
	if err != nil {
		return nil, storeErr("update thread", err)
	}
	return &thread, nil
}

// Delete 删除帖子记录，记录不存在时返回 NotFound。
func (r *threadRepository) Delete(ctx context.Context, id string) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return storeErr("delete thread", err)
	}
	if res.DeletedCount == 0 {
		return errs.NotFound("帖子不存在")
	}
	return nil
}

// FindByCommunity 查询某个社区下的帖子。
func (r *threadRepository) FindByCommunity(ctx context.Context, community string) ([]model.Thread, error) {
	return r.find(ctx, bson.M{"community": community})
}

// FindByUsername 查询某个用户发布的帖子。
func (r *threadRepository) FindByUsername(ctx context.Context, username string) ([]model.Thread, error) {
	return r.find(ctx, bson.M{"username": username})
}

// SearchKeyword 在内容和标签上做不区分大小写的子串匹配，
// 作为索引不可用时的降级查询（放弃相关性排序，换取可用性）。
func (r *threadRepository) SearchKeyword(ctx context.Context, q string) ([]model.Thread, error) {
	return r.find(ctx, bson.M{"$or": []bson.M{
		{"content": bson.M{"$regex": q, "$options": "i"}},
		{"tags": bson.M{"$regex": q, "$options": "i"}},
	}})
}

// Sample 使用主存储原生的随机采样（$sample）返回至多 n 条帖子。
func (r *threadRepository) Sample(ctx context.Context, n int) ([]model.Thread, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$sample", Value: bson.D{{Key: "size", Value: n}}}},
	}
	cur, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, storeErr("sample threads", err)
	}
	var threads []model.Thread
	if err := cur.All(ctx, &threads); err != nil {
		return nil, storeErr("decode threads", err)
	}
	return threads, nil
}

func (r *threadRepository) find(ctx context.Context, filter bson.M) ([]model.Thread, error) {
	cur, err := r.coll.Find(ctx, filter, options.Find().SetLimit(1000))
	if err != nil {
		return nil, storeErr("find threads", err)
	}
	var threads []model.Thread
	if err := cur.All(ctx, &threads); err != nil {
		return nil, storeErr("decode threads", err)
	}
	return threads, nil
}
