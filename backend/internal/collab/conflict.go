package collab

import (
	"time"

	"github.com/google/uuid"

	"aetherCollab/backend/internal/ot"
)

type ConflictStrategy string

const (
	// 目前唯一实现的策略；字段留着是为了以后接入三方合并等策略
	StrategyLastWriteWins ConflictStrategy = "last_write_wins"
)

// ConflictResolution 一次冲突升级的记录（审计用），只按值引用操作，不拥有它们
type ConflictResolution struct {
	ConflictID            string           `json:"conflictId"`
	DocID                 string           `json:"docId"`
	ConflictingOperations []ot.Operation   `json:"conflictingOperations"`
	Strategy              ConflictStrategy `json:"strategy"`
	ResolvedOperation     *ot.Operation    `json:"resolvedOperation,omitempty"`
	ResolvedAt            time.Time        `json:"resolvedAt"`
}

// ConflictResolver 变换规则解不开的冲突走这里。永远给出一个决议，从不报错，
// 调用方（包括后台 best-effort 清扫）不会因此崩掉。
type ConflictResolver interface {
	Resolve(docID string, conflicting []ot.Operation) ConflictResolution
}

type lastWriteWins struct{}

func NewLastWriteWinsResolver() ConflictResolver {
	return lastWriteWins{}
}

func (lastWriteWins) Resolve(docID string, conflicting []ot.Operation) ConflictResolution {
	res := ConflictResolution{
		ConflictID:            uuid.NewString(),
		DocID:                 docID,
		ConflictingOperations: conflicting,
		Strategy:              StrategyLastWriteWins,
		ResolvedAt:            time.Now(),
	}
	if len(conflicting) == 0 {
		// 空输入不是错误：返回无赢家的决议
		return res
	}

	// 时间戳最晚者胜，早的只保留在记录里不再应用
	winner := conflicting[0]
	for _, op := range conflicting[1:] {
		if winner.Precedes(op) {
			winner = op
		}
	}
	res.ResolvedOperation = &winner
	return res
}
