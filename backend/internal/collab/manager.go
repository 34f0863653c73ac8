package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"aetherCollab/backend/internal/ot"
	"aetherCollab/backend/internal/store"
)

// PermissionFunc 编辑权限策略，外部协作者注入（false ⇒ PERMISSION_DENIED）
type PermissionFunc func(ctx context.Context, authorID uint64, docID string) bool

// PresenceSink 成功应用后上报作者的新光标位置
type PresenceSink interface {
	Touch(docID string, userID uint64, cursor int)
}

// AppliedOp 一次提交对应一条历史记录：版本恰好 +1。
// Ops 是变换后的原语序列（delete 被并发 insert 拆段时长度 > 1）。
type AppliedOp struct {
	OperationID string         `json:"operationId"`
	Version     uint64         `json:"version"`
	AuthorID    uint64         `json:"authorId"`
	Ops         []ot.Operation `json:"ops"`
	AppliedAt   time.Time      `json:"appliedAt"`
}

type ApplyResult struct {
	OperationID string
	Version     uint64
	Transformed bool
	Applied     []ot.Operation
}

type DocumentView struct {
	DocID            string      `json:"docId"`
	Content          string      `json:"content"`
	Version          uint64      `json:"version"`
	LastModified     time.Time   `json:"lastModified"`
	RecentOperations []AppliedOp `json:"recentOperations"`
}

// 单个文档的权威状态。mu 串行化该文档的全部变更：
// 拼接 + 版本推进 + 历史追加不是原子的，交错执行会把缓冲区改坏。
// 不同文档之间完全独立并行。
type docState struct {
	mu           sync.Mutex
	buf          Buffer
	version      uint64
	lastModified time.Time
	// append-only；从空文档按序重放即可精确重建当前内容
	history []AppliedOp
}

type ManagerOptions struct {
	// 单次 Store I/O 的超时上限。卡死的持久化会饿死该文档后续所有编辑，
	// 必须有界
	StoreTimeout time.Duration
	// GET 返回的近期操作窗口（客户端追平用）
	RecentWindow int
	Permission   PermissionFunc
}

// Manager 持有所有文档状态，对外是唯一的变更入口
type Manager struct {
	mu   sync.RWMutex
	docs map[string]*docState
	// 同一文档的并发回源加载只打一次存储
	sf singleflight.Group

	st        store.Store
	resolver  ConflictResolver
	notifiers []Notifier
	presence  PresenceSink

	permission   PermissionFunc
	storeTimeout time.Duration
	recentWindow int
}

func NewManager(st store.Store, resolver ConflictResolver, opts ManagerOptions) *Manager {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 3 * time.Second
	}
	if opts.RecentWindow <= 0 {
		opts.RecentWindow = 64
	}
	if resolver == nil {
		resolver = NewLastWriteWinsResolver()
	}
	return &Manager{
		docs:         make(map[string]*docState),
		st:           st,
		resolver:     resolver,
		permission:   opts.Permission,
		storeTimeout: opts.StoreTimeout,
		recentWindow: opts.RecentWindow,
	}
}

// AddNotifier 注册 fan-out 通道（ws hub、kafka dispatcher）。启动期调用，不加锁。
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

func (m *Manager) SetPresence(p PresenceSink) {
	m.presence = p
}

// Apply 提交一个操作：鉴权 → 针对并发操作变换 → 拼接 → 版本 +1 →
// 历史追加 → 持久化 → fan-out。持久化失败时内存状态整体回滚，
// 绝不会出现"历史里记了但其实没成功"的操作。
func (m *Manager) Apply(ctx context.Context, docID string, op ot.Operation) (ApplyResult, error) {
	return m.ApplyFrom(ctx, docID, "", op)
}

// ApplyFrom 同 Apply，额外带提交方连接标识：fan-out 时跳过该连接（它走 ack）
func (m *Manager) ApplyFrom(ctx context.Context, docID, origin string, op ot.Operation) (ApplyResult, error) {
	if err := op.Validate(); err != nil {
		return ApplyResult{}, err
	}
	if m.permission != nil && !m.permission(ctx, op.AuthorID, docID) {
		return ApplyResult{}, ErrPermissionDenied
	}

	ds, err := m.getOrCreate(ctx, docID)
	if err != nil {
		return ApplyResult{}, err
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	if op.BaseVersion > ds.version {
		return ApplyResult{}, fmt.Errorf("%w: base version %d ahead of document version %d",
			ErrOperationFailed, op.BaseVersion, ds.version)
	}

	concurrent, ok := ds.opsSince(op.BaseVersion)
	if !ok {
		// 基准版本太旧，内存历史覆盖不到：让客户端重新拉取后重试
		return ApplyResult{}, fmt.Errorf("%w: base version %d too old, refetch and retry",
			ErrOperationFailed, op.BaseVersion)
	}
	applied, transformed := ot.TransformAgainst(op, concurrent)

	// 关键段：纯内存拼接，不做 I/O
	snap := ds.buf.Snapshot()
	if err := applyToBuffer(ds.buf, applied); err != nil {
		ds.buf.Restore(snap)
		m.escalateConflict(docID, op)
		return ApplyResult{}, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}

	now := time.Now()
	prevModified := ds.lastModified
	ds.version++
	entry := AppliedOp{
		OperationID: op.ID,
		Version:     ds.version,
		AuthorID:    op.AuthorID,
		Ops:         applied,
		AppliedAt:   now,
	}
	ds.history = append(ds.history, entry)
	ds.lastModified = now

	// 持久化整体提交或整体回滚。客户端中途断开不取消进行中的写入：
	// 编辑不能因为提交者离开而被悄悄丢掉
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.storeTimeout)
	defer cancel()
	doc := store.DocumentRecord{
		DocID:        docID,
		Content:      ds.buf.String(),
		Version:      ds.version,
		LastModified: now,
	}
	if err := m.st.SaveDocument(persistCtx, doc, operationRecords(docID, op, entry)); err != nil {
		ds.buf.Restore(snap)
		ds.version--
		ds.history = ds.history[:len(ds.history)-1]
		ds.lastModified = prevModified
		return ApplyResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	evt := DocOpEvent{
		EventType:   "OP_APPLIED",
		DocID:       docID,
		Origin:      origin,
		OperationID: op.ID,
		Version:     ds.version,
		AuthorID:    op.AuthorID,
		Ops:         applied,
		AppliedAt:   now,
	}
	for _, n := range m.notifiers {
		n.NotifyOpApplied(evt)
	}
	if m.presence != nil {
		m.presence.Touch(docID, op.AuthorID, cursorAfter(applied))
	}

	return ApplyResult{
		OperationID: op.ID,
		Version:     ds.version,
		Transformed: transformed,
		Applied:     applied,
	}, nil
}

// GetDocument 当前内容 + 版本 + 近期操作窗口（客户端重新同步用）
func (m *Manager) GetDocument(ctx context.Context, docID string) (DocumentView, error) {
	ds, err := m.getOrCreate(ctx, docID)
	if err != nil {
		return DocumentView{}, err
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	recent := ds.history
	if len(recent) > m.recentWindow {
		recent = recent[len(recent)-m.recentWindow:]
	}
	out := make([]AppliedOp, len(recent))
	copy(out, recent)

	return DocumentView{
		DocID:            docID,
		Content:          ds.buf.String(),
		Version:          ds.version,
		LastModified:     ds.lastModified,
		RecentOperations: out,
	}, nil
}

// CreateSnapshot 落一份当前时点的副本（恢复逻辑不在这一层）
func (m *Manager) CreateSnapshot(ctx context.Context, docID string, authorID uint64, message string) error {
	ds, err := m.getOrCreate(ctx, docID)
	if err != nil {
		return err
	}

	ds.mu.Lock()
	content := ds.buf.String()
	version := ds.version
	ds.mu.Unlock()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.storeTimeout)
	defer cancel()
	if err := m.st.SaveSnapshot(saveCtx, docID, version, content, authorID, message); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Resolve 显式的冲突升级入口，决议落审计表（尽力而为）
func (m *Manager) Resolve(docID string, conflicting []ot.Operation) ConflictResolution {
	res := m.resolver.Resolve(docID, conflicting)
	m.auditConflict(res)
	return res
}

// getOrCreate 返回缓存的状态，缺失时经 singleflight 回源；
// 存储里也没有 ⇒ 版本 0 的空文档（合法结果，不是错误）
func (m *Manager) getOrCreate(ctx context.Context, docID string) (*docState, error) {
	m.mu.RLock()
	ds := m.docs[docID]
	m.mu.RUnlock()
	if ds != nil {
		return ds, nil
	}

	v, err, _ := m.sf.Do(docID, func() (interface{}, error) {
		m.mu.RLock()
		ds := m.docs[docID]
		m.mu.RUnlock()
		if ds != nil {
			return ds, nil
		}

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.storeTimeout)
		defer cancel()

		rec, err := m.st.LoadDocument(loadCtx, docID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		ds = &docState{buf: NewPieceTable("")}
		if rec != nil {
			ds.buf = NewPieceTable(rec.Content)
			ds.version = rec.Version
			ds.lastModified = rec.LastModified

			// 回灌近期操作日志，作为追平窗口和变换基准
			from := uint64(0)
			if rec.Version > uint64(m.recentWindow) {
				from = rec.Version - uint64(m.recentWindow)
			}
			rows, err := m.st.LoadOperations(loadCtx, docID, from, 0)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			ds.history = groupAppliedOps(rows)
		}

		m.mu.Lock()
		m.docs[docID] = ds
		m.mu.Unlock()
		return ds, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*docState), nil
}

// opsSince 返回 base 之后已应用的原语序列（变换基准）。
// 第二个返回值为 false 表示内存历史覆盖不到该基准版本。
func (ds *docState) opsSince(base uint64) ([]ot.Operation, bool) {
	if base == ds.version {
		return nil, true
	}
	if len(ds.history) == 0 || ds.history[0].Version > base+1 {
		return nil, false
	}
	var out []ot.Operation
	for _, e := range ds.history {
		if e.Version > base {
			out = append(out, e.Ops...)
		}
	}
	return out, true
}

func applyToBuffer(buf Buffer, ops []ot.Operation) error {
	for _, op := range ops {
		// 空插入、被吞掉的删除等 no-op 直接跳过，不碰缓冲区
		if op.IsNoop() {
			continue
		}
		switch op.Kind {
		case ot.KindInsert:
			if err := buf.Insert(op.Position, op.Content); err != nil {
				return err
			}
		case ot.KindDelete:
			if err := buf.Delete(op.Position, op.Length); err != nil {
				return err
			}
		case ot.KindReplace:
			if err := buf.Delete(op.Position, op.Length); err != nil {
				return err
			}
			if err := buf.Insert(op.Position, op.Content); err != nil {
				return err
			}
		case ot.KindRetain:
			// no-op
		}
	}
	return nil
}

// cursorAfter 作者应用后的光标：插入/替换在新文本末尾，删除停在删除点
func cursorAfter(ops []ot.Operation) int {
	if len(ops) == 0 {
		return 0
	}
	last := ops[len(ops)-1]
	switch last.Kind {
	case ot.KindInsert, ot.KindReplace:
		return last.Position + last.ContentLen()
	default:
		return last.Position
	}
}

func operationRecords(docID string, op ot.Operation, entry AppliedOp) []store.OperationRecord {
	out := make([]store.OperationRecord, 0, len(entry.Ops))
	for i, p := range entry.Ops {
		out = append(out, store.OperationRecord{
			OpID:        op.ID,
			DocID:       docID,
			Version:     entry.Version,
			Seq:         i,
			Kind:        string(p.Kind),
			Position:    p.Position,
			Length:      p.Length,
			Content:     p.Content,
			AuthorID:    op.AuthorID,
			BaseVersion: op.BaseVersion,
			Timestamp:   op.Timestamp,
		})
	}
	return out
}

// groupAppliedOps 把持久化的操作行按版本聚合回 AppliedOp
func groupAppliedOps(rows []store.OperationRecord) []AppliedOp {
	var out []AppliedOp
	for _, r := range rows {
		op := ot.Operation{
			ID:          r.OpID,
			Kind:        ot.Kind(r.Kind),
			Position:    r.Position,
			Content:     r.Content,
			Length:      r.Length,
			AuthorID:    r.AuthorID,
			Timestamp:   r.Timestamp,
			BaseVersion: r.BaseVersion,
		}
		if n := len(out); n > 0 && out[n-1].Version == r.Version {
			out[n-1].Ops = append(out[n-1].Ops, op)
			continue
		}
		out = append(out, AppliedOp{
			OperationID: r.OpID,
			Version:     r.Version,
			AuthorID:    r.AuthorID,
			Ops:         []ot.Operation{op},
			AppliedAt:   r.Timestamp,
		})
	}
	return out
}

// escalateConflict 变换没能给出合法结果：走 LWW 决议并留审计记录。
// 升级本身永远成功，失败的只是当前这次提交。
func (m *Manager) escalateConflict(docID string, op ot.Operation) {
	m.auditConflict(m.resolver.Resolve(docID, []ot.Operation{op}))
}

func (m *Manager) auditConflict(res ConflictResolution) {
	detail, err := json.Marshal(res.ConflictingOperations)
	if err != nil {
		detail = []byte("[]")
	}
	rec := store.ConflictRecord{
		ConflictID: res.ConflictID,
		DocID:      res.DocID,
		Strategy:   string(res.Strategy),
		Detail:     string(detail),
		ResolvedAt: res.ResolvedAt,
	}
	if res.ResolvedOperation != nil {
		rec.WinnerOpID = res.ResolvedOperation.ID
	}
	// 审计尽力而为，不阻塞调用方
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.storeTimeout)
		defer cancel()
		if err := m.st.SaveConflict(ctx, rec); err != nil {
			log.Printf("save conflict audit failed (doc=%s, conflict=%s): %v", rec.DocID, rec.ConflictID, err)
		}
	}()
}
