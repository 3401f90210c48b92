// Package repository 定义了与主存储（MongoDB）进行数据交换的接口和实现。
// 主存储是所有实体状态的权威来源，单文档更新具备原子性。
package repository

import (
	"wisdomlink-go/internal/errs"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// 集合名称。
const (
	CollUsers   = "users"
	CollChats   = "chats"
	CollThreads = "threads"
)

// objectID 将十六进制字符串解析为 ObjectID，非法输入按校验错误处理。
func objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, errs.Validation("无效的 ID: " + id)
	}
	return oid, nil
}

// storeErr 将底层驱动错误包装为主存储错误。
func storeErr(op string, err error) error {
	return errs.Store("主存储操作失败: "+op, err)
}
