package ot

// Transform 把 op 针对 other 做 rebase（other 先被应用到了文档上）。
// 纯函数：不做 I/O，不修改入参。
//
// 返回的是操作序列而不是单个操作：当并发 insert 恰好落在 op（delete）
// 的目标区间内部时，delete 会围绕插入文本拆成两段，保住对方的插入。
// 其余情况返回长度为 1 的序列。序列按顺序依次应用（后一段的坐标
// 已经按前一段生效后的文本计算好）。
func Transform(op, other Operation) []Operation {
	if op.IsNoop() || other.IsNoop() {
		return []Operation{op}
	}

	// replace 在变换上等价于 delete + insert
	if op.Kind == KindReplace {
		return sane(op, transformSeq(decomposeReplace(op), other))
	}
	if other.Kind == KindReplace {
		out := []Operation{op}
		for _, part := range decomposeReplace(other) {
			out = transformSeq(out, part)
		}
		return sane(op, out)
	}

	var out []Operation
	switch op.Kind {
	case KindInsert:
		out = []Operation{transformInsert(op, other)}
	case KindDelete:
		out = transformDelete(op, other)
	default:
		out = []Operation{op}
	}
	return sane(op, out)
}

// TransformAgainst 把 op 依次针对 concurrent 中的每个操作 rebase
// （concurrent 按实际应用顺序给出）。第二个返回值表示 op 是否被改动。
// concurrent 为空时原样返回（逐字段相同）。
func TransformAgainst(op Operation, concurrent []Operation) ([]Operation, bool) {
	out := []Operation{op}
	if len(concurrent) == 0 {
		return out, false
	}
	for _, c := range concurrent {
		out = transformSeq(out, c)
	}
	changed := len(out) != 1 || out[0] != op
	return out, changed
}

// transformSeq 把一段操作序列整体针对 other rebase
func transformSeq(ops []Operation, other Operation) []Operation {
	next := make([]Operation, 0, len(ops))
	for _, p := range ops {
		next = append(next, Transform(p, other)...)
	}
	return next
}

// decomposeReplace 拆成 delete + insert 两个原语，保持原操作的身份字段
func decomposeReplace(op Operation) []Operation {
	del := op
	del.Kind = KindDelete
	del.Content = ""
	ins := op
	ins.Kind = KindInsert
	ins.Length = 0
	return []Operation{del, ins}
}

func transformInsert(op, other Operation) Operation {
	res := op
	switch other.Kind {
	case KindInsert:
		// 位置更靠前的 insert 把本操作右移；同位置时由确定性全序决定先后
		if other.Position < op.Position ||
			(other.Position == op.Position && other.Precedes(op)) {
			res.Position += other.ContentLen()
		}
	case KindDelete:
		otherEnd := other.Position + other.Length
		switch {
		case other.Position >= op.Position:
			// 删除发生在插入点之后，不影响
		case op.Position >= otherEnd:
			res.Position -= other.Length
		default:
			// 插入点落在被删区间内部：收拢到删除起点（clamp 策略）
			res.Position = other.Position
		}
	}
	return res
}

func transformDelete(op, other Operation) []Operation {
	res := op
	switch other.Kind {
	case KindInsert:
		insLen := other.ContentLen()
		opEnd := op.Position + op.Length
		switch {
		case other.Position <= op.Position:
			res.Position += insLen
		case other.Position >= opEnd:
			// 插入在删除区间之后，不影响
		default:
			// 插入落在删除区间内部：围绕插入文本把删除拆成两段，
			// 不吞掉对方刚插入的内容
			left := op
			left.Length = other.Position - op.Position
			right := op
			right.Position = op.Position + insLen
			right.Length = op.Length - left.Length
			return []Operation{left, right}
		}
	case KindDelete:
		opEnd := op.Position + op.Length
		otherEnd := other.Position + other.Length
		switch {
		case otherEnd <= op.Position:
			res.Position -= other.Length
		case other.Position >= opEnd:
			// 区间不相交
		default:
			// 区间重叠：有效长度减去重叠量；整段被吞掉时退化成 retain
			overlap := min(opEnd, otherEnd) - max(op.Position, other.Position)
			res.Length = op.Length - overlap
			if res.Length <= 0 {
				return []Operation{op.retained()}
			}
			if other.Position < op.Position {
				res.Position = other.Position
			}
		}
	}
	return []Operation{res}
}

// sane 兜底：变换算出非法坐标时返回原操作，由调用方按冲突处理，这里绝不 panic
func sane(original Operation, out []Operation) []Operation {
	for _, o := range out {
		if o.Position < 0 || o.Length < 0 {
			return []Operation{original}
		}
	}
	return out
}
