// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// ReindexTask 描述一次索引对账任务：按主存储记录重建某个索引文档。
// 当部分更新与整体重建先后失败时，一致性层会投递该任务。
type ReindexTask struct {
	Index string `json:"index"`
	DocID string `json:"doc_id"`
}

// Key 返回任务的去重/计数键。
func (t ReindexTask) Key() string {
	return t.Index + ":" + t.DocID
}
