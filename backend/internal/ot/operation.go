package ot

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

type Kind string

const (
	KindInsert  Kind = "insert"
	KindDelete  Kind = "delete"
	KindReplace Kind = "replace"
	// retain：被并发删除完全吞掉的 delete 会退化成 retain（no-op），不会二次删除
	KindRetain Kind = "retain"
)

// Operation 一次编辑操作，创建后不可变；transform 只产生新值，不原地修改
type Operation struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	Position int    `json:"position"` // 作者创建操作时的字符偏移（rune，非 byte）
	Content  string `json:"content,omitempty"`
	Length   int    `json:"length,omitempty"`
	AuthorID uint64 `json:"authorId"`
	// 逻辑排序键：同作者单调递增，跨作者可比较（用于 tie-break 与 LWW）
	Timestamp time.Time `json:"timestamp"`
	// 作者认为的当前文档版本
	BaseVersion uint64 `json:"baseVersion"`
}

var ErrInvalidOperation = errors.New("invalid operation")

func NewInsert(position int, content string, authorID uint64, baseVersion uint64) Operation {
	return Operation{
		ID:          uuid.NewString(),
		Kind:        KindInsert,
		Position:    position,
		Content:     content,
		AuthorID:    authorID,
		Timestamp:   time.Now(),
		BaseVersion: baseVersion,
	}
}

func NewDelete(position int, length int, authorID uint64, baseVersion uint64) Operation {
	return Operation{
		ID:          uuid.NewString(),
		Kind:        KindDelete,
		Position:    position,
		Length:      length,
		AuthorID:    authorID,
		Timestamp:   time.Now(),
		BaseVersion: baseVersion,
	}
}

func NewReplace(position int, length int, content string, authorID uint64, baseVersion uint64) Operation {
	return Operation{
		ID:          uuid.NewString(),
		Kind:        KindReplace,
		Position:    position,
		Length:      length,
		Content:     content,
		AuthorID:    authorID,
		Timestamp:   time.Now(),
		BaseVersion: baseVersion,
	}
}

// Validate 检查字段组合是否合法（insert 不允许带 length，delete 不允许带 content）
func (op Operation) Validate() error {
	if op.Position < 0 {
		return fmt.Errorf("%w: position %d", ErrInvalidOperation, op.Position)
	}
	switch op.Kind {
	case KindInsert:
		if op.Length != 0 {
			return fmt.Errorf("%w: insert carries length %d", ErrInvalidOperation, op.Length)
		}
		// content 允许为空：空插入是 no-op，不是错误
	case KindDelete:
		if op.Content != "" {
			return fmt.Errorf("%w: delete carries content", ErrInvalidOperation)
		}
		if op.Length <= 0 {
			return fmt.Errorf("%w: delete length %d", ErrInvalidOperation, op.Length)
		}
	case KindReplace:
		if op.Length <= 0 {
			return fmt.Errorf("%w: replace length %d", ErrInvalidOperation, op.Length)
		}
	case KindRetain:
		// no-op 永远合法
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, op.Kind)
	}
	return nil
}

// ContentLen 插入文本的 rune 长度
func (op Operation) ContentLen() int {
	return utf8.RuneCountInString(op.Content)
}

// IsNoop retain 或已经没有实际效果的操作
func (op Operation) IsNoop() bool {
	switch op.Kind {
	case KindRetain:
		return true
	case KindInsert:
		return op.Content == ""
	case KindDelete:
		return op.Length <= 0
	}
	return false
}

// Precedes 确定性全序：先比 Timestamp，再比 AuthorID，最后比 ID。
// 所有副本必须用同一规则打破平局，这是 OT 收敛的前提。
func (op Operation) Precedes(other Operation) bool {
	if !op.Timestamp.Equal(other.Timestamp) {
		return op.Timestamp.Before(other.Timestamp)
	}
	if op.AuthorID != other.AuthorID {
		return op.AuthorID < other.AuthorID
	}
	return op.ID < other.ID
}

// retained 返回一个保留身份信息的 retain 副本
func (op Operation) retained() Operation {
	r := op
	r.Kind = KindRetain
	r.Content = ""
	r.Length = 0
	return r
}
