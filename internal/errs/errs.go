// Package errs 定义了业务错误的分类，供各层统一判定与映射 HTTP 状态码。
package errs

import (
	"errors"
	"fmt"
)

// Kind 表示错误的类别。
type Kind uint8

const (
	// KindValidation 请求字段缺失或非法，未触达任何存储。
	KindValidation Kind = iota + 1
	// KindNotFound 目标实体在主存储（以及读路径上的索引）中均不存在。
	KindNotFound
	// KindPermission 操作者不是记录的所有者/参与者，或对话已结束。
	KindPermission
	// KindStore 主存储读写失败，对当前操作是致命的。
	KindStore
	// KindIndex 搜索索引读写失败，非致命，只影响搜索读取的新鲜度。
	KindIndex
)

// Error 是带类别的业务错误。
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Message 返回不含底层错误细节的提示信息，适合直接返回给调用方。
func (e *Error) Message() string { return e.msg }

// Validation 构造一个字段校验错误。
func Validation(msg string) error { return &Error{kind: KindValidation, msg: msg} }

// NotFound 构造一个实体不存在错误。
func NotFound(msg string) error { return &Error{kind: KindNotFound, msg: msg} }

// Permission 构造一个权限错误。
func Permission(msg string) error { return &Error{kind: KindPermission, msg: msg} }

// Store 构造一个主存储错误，包装底层原因。
func Store(msg string, err error) error { return &Error{kind: KindStore, msg: msg, err: err} }

// Index 构造一个索引错误，包装底层原因。
func Index(msg string, err error) error { return &Error{kind: KindIndex, msg: msg, err: err} }

// KindOf 返回错误的类别；无法识别的错误按主存储错误处理。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindStore
}

// IsNotFound 判断错误是否为实体不存在。
func IsNotFound(err error) bool { return is(err, KindNotFound) }

// IsPermission 判断错误是否为权限错误。
func IsPermission(err error) bool { return is(err, KindPermission) }

// IsValidation 判断错误是否为校验错误。
func IsValidation(err error) bool { return is(err, KindValidation) }

func is(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.kind == k
}
