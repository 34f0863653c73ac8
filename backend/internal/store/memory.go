package store

import (
	"context"
	"sync"
)

// MemoryStore 进程内实现，测试和单机开发用
type MemoryStore struct {
	mu        sync.RWMutex
	docs      map[string]DocumentRecord
	ops       map[string][]OperationRecord
	snapshots map[string][]DocumentRecord
	conflicts []ConflictRecord
	users     []User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:      make(map[string]DocumentRecord),
		ops:       make(map[string][]OperationRecord),
		snapshots: make(map[string][]DocumentRecord),
	}
}

func (m *MemoryStore) LoadDocument(ctx context.Context, docID string) (*DocumentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[docID]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

func (m *MemoryStore) LoadOperations(ctx context.Context, docID string, fromVersion uint64, limit int) ([]OperationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []OperationRecord
	for _, op := range m.ops[docID] {
		if op.Version > fromVersion {
			out = append(out, op)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveDocument(ctx context.Context, doc DocumentRecord, ops []OperationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.DocID] = doc
	m.ops[doc.DocID] = append(m.ops[doc.DocID], ops...)
	return nil
}

func (m *MemoryStore) SaveSnapshot(ctx context.Context, docID string, version uint64, content string, authorID uint64, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[docID] = append(m.snapshots[docID], DocumentRecord{
		DocID:   docID,
		Content: content,
		Version: version,
	})
	return nil
}

func (m *MemoryStore) SaveConflict(ctx context.Context, rec ConflictRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts = append(m.conflicts, rec)
	return nil
}

// OperationCount 测试辅助：某文档 append-only 操作日志的条数
func (m *MemoryStore) OperationCount(docID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ops[docID])
}

// SnapshotCount 测试辅助
func (m *MemoryStore) SnapshotCount(docID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snapshots[docID])
}

// ConflictCount 测试辅助
func (m *MemoryStore) ConflictCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conflicts)
}
