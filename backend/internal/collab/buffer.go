package collab

// Buffer 抽象文档内容缓冲区。坐标一律是 rune 偏移。
// Snapshot/Restore 用于持久化失败时回滚内存状态。
type Buffer interface {
	Len() int
	String() string
	Insert(pos int, text string) error
	Delete(pos int, length int) error
	Snapshot() BufferSnapshot
	Restore(BufferSnapshot)
}

// BufferSnapshot 不透明的回滚句柄，只能喂回产生它的 Buffer
type BufferSnapshot struct {
	pieces []piece
	addLen int
}
