package ot

import (
	"testing"
	"time"
)

// applyToString 按顺序把操作序列应用到字符串（rune 级拼接），仅测试用
func applyToString(t *testing.T, content string, ops ...Operation) string {
	t.Helper()
	for _, op := range ops {
		r := []rune(content)
		switch op.Kind {
		case KindInsert:
			if op.Position < 0 || op.Position > len(r) {
				t.Fatalf("insert out of bounds: pos=%d len=%d", op.Position, len(r))
			}
			content = string(r[:op.Position]) + op.Content + string(r[op.Position:])
		case KindDelete:
			if op.Position < 0 || op.Position+op.Length > len(r) {
				t.Fatalf("delete out of bounds: [%d,%d) len=%d", op.Position, op.Position+op.Length, len(r))
			}
			content = string(r[:op.Position]) + string(r[op.Position+op.Length:])
		case KindReplace:
			if op.Position < 0 || op.Position+op.Length > len(r) {
				t.Fatalf("replace out of bounds: [%d,%d) len=%d", op.Position, op.Position+op.Length, len(r))
			}
			content = string(r[:op.Position]) + op.Content + string(r[op.Position+op.Length:])
		case KindRetain:
			// no-op
		}
	}
	return content
}

// checkConverge 两个并发操作在两个副本上按不同顺序应用，最终内容必须一致
func checkConverge(t *testing.T, base string, a, b Operation) string {
	t.Helper()
	aPrime, _ := TransformAgainst(a, []Operation{b})
	bPrime, _ := TransformAgainst(b, []Operation{a})

	replica1 := applyToString(t, applyToString(t, base, a), bPrime...)
	replica2 := applyToString(t, applyToString(t, base, b), aPrime...)

	if replica1 != replica2 {
		t.Fatalf("divergence: a-then-b' = %q, b-then-a' = %q (a=%+v b=%+v)", replica1, replica2, a, b)
	}
	return replica1
}

func at(sec int) time.Time {
	return time.Unix(1700000000+int64(sec), 0)
}

func TestTransformAgainst_EmptyConcurrent(t *testing.T) {
	op := NewInsert(5, "! ", 1, 0)
	out, changed := TransformAgainst(op, nil)
	if changed {
		t.Fatalf("changed = true, want false")
	}
	if len(out) != 1 || out[0] != op {
		t.Fatalf("TransformAgainst(op, nil) = %+v, want op unchanged", out)
	}
}

func TestTransform_InsertInsert(t *testing.T) {
	// "Hello world"：A 在 5 插 "! "，B 在 0 插 "Big "
	a := NewInsert(5, "! ", 1, 0)
	b := NewInsert(0, "Big ", 2, 0)

	aPrime, changed := TransformAgainst(a, []Operation{b})
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	if len(aPrime) != 1 || aPrime[0].Position != 9 {
		t.Fatalf("a' position = %d, want 9", aPrime[0].Position)
	}

	got := checkConverge(t, "Hello world", a, b)
	if got != "Big Hello! world" {
		t.Fatalf("converged content = %q, want %q", got, "Big Hello! world")
	}
}

func TestTransform_InsertInsert_SamePosition(t *testing.T) {
	// 同位置插入：时间戳早者在前，所有副本得到相同顺序
	a := NewInsert(3, "AA", 1, 0)
	a.Timestamp = at(1)
	b := NewInsert(3, "BB", 2, 0)
	b.Timestamp = at(2)

	got := checkConverge(t, "abcdef", a, b)
	if got != "abcAABBdef" {
		t.Fatalf("converged content = %q, want %q", got, "abcAABBdef")
	}

	// 时间戳相同时退回 AuthorID，结果仍然确定
	b.Timestamp = at(1)
	got = checkConverge(t, "abcdef", a, b)
	if got != "abcAABBdef" {
		t.Fatalf("tie-break by author: content = %q, want %q", got, "abcAABBdef")
	}
}

func TestTransform_InsertAfterDelete(t *testing.T) {
	// 删除发生在插入点之前：插入点左移
	ins := NewInsert(8, "X", 1, 0)
	del := NewDelete(0, 3, 2, 0)

	insPrime, _ := TransformAgainst(ins, []Operation{del})
	if insPrime[0].Position != 5 {
		t.Fatalf("position = %d, want 5", insPrime[0].Position)
	}
	checkConverge(t, "0123456789", ins, del)
}

func TestTransform_InsertInsideDeleteRange(t *testing.T) {
	// A 删 [0,5)，B 在 2 插 "X"：插入收拢到删除起点，删除围绕插入拆段。
	// 两个顺序都必须得到 "X world"，插入不丢。
	a := NewDelete(0, 5, 1, 0)
	a.Timestamp = at(1)
	b := NewInsert(2, "X", 2, 0)
	b.Timestamp = at(2)

	bPrime, _ := TransformAgainst(b, []Operation{a})
	if len(bPrime) != 1 || bPrime[0].Position != 0 {
		t.Fatalf("b' = %+v, want clamped to position 0", bPrime)
	}

	aPrime, _ := TransformAgainst(a, []Operation{b})
	if len(aPrime) != 2 {
		t.Fatalf("a' = %+v, want delete split into 2 parts", aPrime)
	}
	if aPrime[0].Position != 0 || aPrime[0].Length != 2 {
		t.Fatalf("a'[0] = %+v, want del [0,2)", aPrime[0])
	}
	if aPrime[1].Position != 1 || aPrime[1].Length != 3 {
		t.Fatalf("a'[1] = %+v, want del pos=1 len=3", aPrime[1])
	}

	got := checkConverge(t, "Hello world", a, b)
	if got != "X world" {
		t.Fatalf("converged content = %q, want %q", got, "X world")
	}
}

func TestTransform_DeleteShiftedByInsert(t *testing.T) {
	// 插入在删除区间之前：删除整体右移
	del := NewDelete(5, 6, 1, 0)
	ins := NewInsert(0, "Big ", 2, 0)

	delPrime, _ := TransformAgainst(del, []Operation{ins})
	if delPrime[0].Position != 9 {
		t.Fatalf("position = %d, want 9", delPrime[0].Position)
	}
	got := checkConverge(t, "Hello world", del, ins)
	if got != "Big Hello" {
		t.Fatalf("converged content = %q, want %q", got, "Big Hello")
	}
}

func TestTransform_DeleteDelete_Overlap(t *testing.T) {
	// A 删 [2,6)，B 删 [4,8)，10 字符文本：净效果等于删 [2,8)
	a := NewDelete(2, 4, 1, 0)
	b := NewDelete(4, 4, 2, 0)

	aPrime, _ := TransformAgainst(a, []Operation{b})
	if aPrime[0].Length != 2 || aPrime[0].Position != 2 {
		t.Fatalf("a' = %+v, want pos=2 len=2", aPrime[0])
	}
	bPrime, _ := TransformAgainst(b, []Operation{a})
	if bPrime[0].Length != 2 || bPrime[0].Position != 2 {
		t.Fatalf("b' = %+v, want pos=2 len=2", bPrime[0])
	}

	got := checkConverge(t, "0123456789", a, b)
	if got != "0189" {
		t.Fatalf("converged content = %q, want %q", got, "0189")
	}
}

func TestTransform_DeleteDelete_FullyConsumed(t *testing.T) {
	// B 的删除区间完全落在 A 里：B 退化成 retain，不二次删除
	a := NewDelete(2, 6, 1, 0)
	b := NewDelete(4, 2, 2, 0)

	bPrime, _ := TransformAgainst(b, []Operation{a})
	if len(bPrime) != 1 || bPrime[0].Kind != KindRetain {
		t.Fatalf("b' = %+v, want retain", bPrime)
	}

	got := checkConverge(t, "0123456789", a, b)
	if got != "0189" {
		t.Fatalf("converged content = %q, want %q", got, "0189")
	}
}

func TestTransform_DeleteDelete_Identical(t *testing.T) {
	a := NewDelete(2, 3, 1, 0)
	b := NewDelete(2, 3, 2, 0)
	got := checkConverge(t, "0123456789", a, b)
	if got != "0156789" {
		t.Fatalf("converged content = %q, want %q", got, "0156789")
	}
}

func TestTransform_DeleteDelete_Adjacent(t *testing.T) {
	a := NewDelete(2, 2, 1, 0)
	b := NewDelete(4, 2, 2, 0)
	got := checkConverge(t, "0123456789", a, b)
	if got != "016789" {
		t.Fatalf("converged content = %q, want %q", got, "016789")
	}
}

func TestTransform_ReplaceDecomposition(t *testing.T) {
	// replace 先到、insert 后到：两个副本同序收敛
	rep := NewReplace(2, 3, "XY", 1, 0)
	rep.Timestamp = at(1)
	ins := NewInsert(6, "!", 2, 0)
	ins.Timestamp = at(2)

	got := checkConverge(t, "abcdefg", rep, ins)
	if got != "abXYf!g" {
		t.Fatalf("converged content = %q, want %q", got, "abXYf!g")
	}
}

func TestTransform_RetainPassthrough(t *testing.T) {
	noop := NewDelete(2, 3, 1, 0).retained()
	out, changed := TransformAgainst(noop, []Operation{NewInsert(0, "zz", 2, 0)})
	if changed {
		t.Fatalf("retain transformed, want passthrough")
	}
	if len(out) != 1 || out[0].Kind != KindRetain {
		t.Fatalf("out = %+v, want retain", out)
	}
}

func TestOperation_Validate(t *testing.T) {
	cases := []struct {
		name    string
		op      Operation
		wantErr bool
	}{
		{"valid insert", NewInsert(0, "a", 1, 0), false},
		{"valid delete", NewDelete(0, 1, 1, 0), false},
		{"valid replace", NewReplace(0, 1, "b", 1, 0), false},
		{"negative position", Operation{Kind: KindInsert, Position: -1, Content: "a"}, true},
		{"insert with length", Operation{Kind: KindInsert, Position: 0, Content: "a", Length: 2}, true},
		{"empty insert is a no-op, not an error", Operation{Kind: KindInsert, Position: 0}, false},
		{"delete with content", Operation{Kind: KindDelete, Position: 0, Length: 1, Content: "x"}, true},
		{"delete zero length", Operation{Kind: KindDelete, Position: 0, Length: 0}, true},
		{"unknown kind", Operation{Kind: Kind("move"), Position: 0}, true},
		{"retain", Operation{Kind: KindRetain}, false},
	}
	for _, tc := range cases {
		err := tc.op.Validate()
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: Validate() = %v, wantErr = %v", tc.name, err, tc.wantErr)
		}
	}
}

// 空插入是合法的 no-op：校验通过，变换原样穿透
func TestEmptyInsertIsNoop(t *testing.T) {
	empty := NewInsert(3, "", 1, 0)
	if err := empty.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !empty.IsNoop() {
		t.Fatal("empty insert not recognized as no-op")
	}
	out, changed := TransformAgainst(empty, []Operation{NewDelete(0, 2, 2, 0)})
	if changed {
		t.Fatalf("no-op got transformed: %+v", out)
	}
}

// replace 的变换同样走兜底：任何结果都不允许出现负坐标或负长度
func TestTransform_ReplaceStaysInBounds(t *testing.T) {
	rep := NewReplace(2, 4, "XY", 1, 0)
	rep.Timestamp = at(1)
	others := []Operation{
		NewDelete(0, 3, 2, 0),
		NewDelete(2, 4, 2, 0),
		NewDelete(0, 10, 2, 0),
		NewInsert(3, "zz", 2, 0),
		NewInsert(2, "zz", 2, 0),
	}
	for _, other := range others {
		other.Timestamp = at(2)
		for _, o := range Transform(rep, other) {
			if o.Position < 0 || o.Length < 0 {
				t.Fatalf("out-of-bounds result %+v (other=%+v)", o, other)
			}
		}
	}
}
