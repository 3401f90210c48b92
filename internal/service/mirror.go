// Package service 实现了应用的业务逻辑层。
// 写路径先落主存储，再尽力维护搜索索引；索引失败绝不影响主存储写入的结果。
package service

import (
	"context"
	"errors"

	"wisdomlink-go/pkg/es"
	"wisdomlink-go/pkg/log"
	"wisdomlink-go/pkg/tasks"
)

// ReindexEnqueuer 把索引对账任务投递到异步队列。
type ReindexEnqueuer interface {
	EnqueueReindex(task tasks.ReindexTask) error
}

// indexMirror 封装一致性层的索引维护策略：
// 部分更新优先，文档缺失或更新失败时退化为整体重建，
// 重建也失败时记录日志并投递异步对账任务，调用方照常成功返回。
type indexMirror struct {
	store es.Store
	queue ReindexEnqueuer
}

// index 整体写入（insert-or-replace）一个索引文档。
func (m *indexMirror) index(ctx context.Context, index, id string, doc interface{}) {
	if err := m.store.IndexDocument(ctx, index, id, doc); err != nil {
		log.Errorf("索引文档失败，主存储写入不受影响: index=%s, id=%s, err=%v", index, id, err)
		m.enqueue(index, id)
	}
}

// update 对索引文档做部分更新，full 提供整体重建所需的完整文档。
func (m *indexMirror) update(ctx context.Context, index, id string, fields map[string]interface{}, full func() interface{}) {
	err := m.store.UpdateDocument(ctx, index, id, fields)
	if err == nil {
		return
	}
	if errors.Is(err, es.ErrNotFound) {
		log.Warnf("索引文档缺失，退化为整体重建: index=%s, id=%s", index, id)
	} else {
		log.Warnf("索引部分更新失败，退化为整体重建: index=%s, id=%s, err=%v", index, id, err)
	}
	if err := m.store.IndexDocument(ctx, index, id, full()); err != nil {
		log.Errorf("索引整体重建失败，主存储写入不受影响: index=%s, id=%s, err=%v", index, id, err)
		m.enqueue(index, id)
	}
}

// delete 从索引中删除文档，失败只记录日志。
func (m *indexMirror) delete(ctx context.Context, index, id string) {
	if err := m.store.DeleteDocument(ctx, index, id); err != nil {
		log.Errorf("删除索引文档失败: index=%s, id=%s, err=%v", index, id, err)
		m.enqueue(index, id)
	}
}

func (m *indexMirror) enqueue(index, id string) {
	if m.queue == nil {
		return
	}
	task := tasks.ReindexTask{Index: index, DocID: id}
	if err := m.queue.EnqueueReindex(task); err != nil {
		log.Errorf("投递索引对账任务失败: key=%s, err=%v", task.Key(), err)
	}
}
