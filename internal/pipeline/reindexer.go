// Package pipeline 实现异步索引对账：消费一致性层投递的重建任务，
// 按主存储当前状态重建索引文档。
package pipeline

import (
	"context"
	"fmt"

	"wisdomlink-go/internal/errs"
	"wisdomlink-go/internal/model"
	"wisdomlink-go/internal/repository"
	"wisdomlink-go/pkg/es"
	"wisdomlink-go/pkg/log"
	"wisdomlink-go/pkg/tasks"
)

// Reindexer 按任务重建单个索引文档。主存储是权威：
// 记录存在则整体重写索引文档，记录已删除则把索引文档一并删掉。
type Reindexer struct {
	chatRepo   repository.ChatRepository
	threadRepo repository.ThreadRepository
	userRepo   repository.UserRepository
	store      es.Store
}

// NewReindexer 创建一个新的 Reindexer 实例。
func NewReindexer(chatRepo repository.ChatRepository, threadRepo repository.ThreadRepository, userRepo repository.UserRepository, store es.Store) *Reindexer {
	return &Reindexer{
		chatRepo:   chatRepo,
		threadRepo: threadRepo,
		userRepo:   userRepo,
		store:      store,
	}
}

// Process 处理一个索引对账任务，返回错误时由消费端决定重试。
func (r *Reindexer) Process(ctx context.Context, task tasks.ReindexTask) error {
	doc, err := r.loadDocument(ctx, task)
	if errs.IsNotFound(err) {
		log.Infof("主存储记录已删除，移除索引文档: %s", task.Key())
		return r.store.DeleteDocument(ctx, task.Index, task.DocID)
	}
	if err != nil {
		return err
	}
	return r.store.IndexDocument(ctx, task.Index, task.DocID, doc)
}

func (r *Reindexer) loadDocument(ctx context.Context, task tasks.ReindexTask) (interface{}, error) {
	switch task.Index {
	case es.IndexChats:
		chat, err := r.chatRepo.FindByID(ctx, task.DocID)
		if err != nil {
			return nil, err
		}
		return chat.IndexDoc(), nil
	case es.IndexThreads:
		thread, err := r.threadRepo.FindByID(ctx, task.DocID)
		if err != nil {
			return nil, err
		}
		return thread.IndexDoc(), nil
	case es.IndexUsers:
		user, err := r.userRepo.FindByID(ctx, task.DocID)
		if err != nil {
			return nil, err
		}
		return model.NewUserInfo(user), nil
	default:
		return nil, fmt.Errorf("未知的索引名称: %s", task.Index)
	}
}
