/*
 * Copyright 2022 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package ir

import (
    `testing`

    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func edgesOf(pairs ...int) (ret [][2]int) {
    for i := 0; i < len(pairs); i += 2 {
        ret = append(ret, [2]int{pairs[i], pairs[i+1]})
    }
    return
}

func TestCFG_Diamond(t *testing.T) {
    cfg, order := NewCFG([]string{"entry", "then", "else", "join"}, edgesOf(0, 1, 0, 2, 1, 3, 2, 3))
    require.Equal(t, 4, cfg.Len())
    require.Equal(t, "entry", cfg.At(0))
    require.Equal(t, "join", cfg.At(3))
    require.Len(t, order, 4)
    cfg.Verify()

    /* the join is dominated by the entry only */
    d, ok := cfg.DomParent(3)
    require.True(t, ok)
    assert.Equal(t, 0, d)
    assert.True(t, cfg.Dominates(0, 3))
    assert.True(t, cfg.Dominates(3, 3))
    assert.False(t, cfg.Dominates(1, 3))
    assert.False(t, cfg.Dominates(2, 3))
    assert.False(t, cfg.HasLoop())

    /* entry has no dominator */
    _, ok = cfg.DomParent(0)
    assert.False(t, ok)
}

func TestCFG_FirstSuccessorStaysAdjacent(t *testing.T) {
    cfg, order := NewCFG([]int{0, 1, 2, 3}, edgesOf(0, 1, 0, 2, 1, 3, 2, 3))
    require.Equal(t, []int{0, 1, 2, 3}, order)
    assert.Equal(t, 1, cfg.At(1))
}

func TestCFG_DropsUnreachable(t *testing.T) {
    cfg, order := NewCFG([]string{"a", "dead", "b"}, edgesOf(0, 2, 1, 2))
    require.Equal(t, 2, cfg.Len())
    assert.Equal(t, []int{0, 2}, order)
    assert.Equal(t, []int{0}, cfg.Pred(1))
}

func TestCFG_NestedLoops(t *testing.T) {
    /* 0 -> 1 -> 2 -> 3 -> 2, 3 -> 4 -> 1, 4 -> 5 */
    cfg, _ := NewCFG([]int{0, 1, 2, 3, 4, 5}, edgesOf(0, 1, 1, 2, 2, 3, 3, 2, 3, 4, 4, 1, 4, 5))
    cfg.Verify()
    require.True(t, cfg.HasLoop())

    /* find the nodes back by value */
    idx := map[int]int{}
    for i := 0; i < cfg.Len(); i++ {
        idx[cfg.At(i)] = i
    }

    /* headers are their own loop header */
    assert.True(t, cfg.IsLoopHeader(idx[1]))
    assert.True(t, cfg.IsLoopHeader(idx[2]))
    assert.False(t, cfg.IsLoopHeader(idx[3]))

    /* the innermost header wins */
    h, ok := cfg.LoopHeader(idx[3])
    require.True(t, ok)
    assert.Equal(t, idx[2], h)
    h, ok = cfg.LoopHeader(idx[4])
    require.True(t, ok)
    assert.Equal(t, idx[1], h)
    _, ok = cfg.LoopHeader(idx[5])
    assert.False(t, ok)

    /* depths */
    assert.Equal(t, 0, cfg.LoopDepth(idx[0]))
    assert.Equal(t, 1, cfg.LoopDepth(idx[1]))
    assert.Equal(t, 2, cfg.LoopDepth(idx[2]))
    assert.Equal(t, 2, cfg.LoopDepth(idx[3]))
    assert.Equal(t, 1, cfg.LoopDepth(idx[4]))
    assert.Equal(t, 0, cfg.LoopDepth(idx[5]))
}

func TestCFG_SelfLoop(t *testing.T) {
    cfg, _ := NewCFG([]int{0, 1, 2}, edgesOf(0, 1, 1, 1, 1, 2))
    cfg.Verify()
    assert.True(t, cfg.IsLoopHeader(1))
    assert.Equal(t, 1, cfg.LoopDepth(1))
    assert.Contains(t, cfg.Pred(1), 1)
}

func TestCFG_ForwardPredecessor(t *testing.T) {
    cfg, _ := NewCFG([]int{0, 1, 2, 3}, edgesOf(0, 1, 1, 2, 2, 1, 2, 3))
    for i := 1; i < cfg.Len(); i++ {
        ok := false
        for _, p := range cfg.Pred(i) {
            ok = ok || p < i
        }
        assert.True(t, ok, "node %d", i)
    }
}

func TestCFG_Irreducible(t *testing.T) {
    /* two entries into the cycle 1 <-> 2 */
    assert.Panics(t, func() {
        NewCFG([]int{0, 1, 2}, edgesOf(0, 1, 0, 2, 1, 2, 2, 1))
    })
}

func TestFunction_DerivesEdges(t *testing.T) {
    var alloc SSAValueAllocator
    p := alloc.Alloc(Pred)

    /* L0: @p bra L2 ; L1: bra L3 ; L2: (falls through) ; L3: exit */
    br := NewInstr(&OpBra{Target: 2})
    br.Pred = SSAPred(p)
    fn := NewFunction(alloc, PhiAllocator{}, []*BasicBlock{
        NewBasicBlock(0, NewInstr(&OpISetP{Dst: SSADst(p), Src: [2]Src{Zero(), Zero()}, Accum: True()}), br),
        NewBasicBlock(1, NewInstr(&OpBra{Target: 3})),
        NewBasicBlock(2),
        NewBasicBlock(3, NewInstr(&OpExit{})),
    })

    /* fall-through first, so L1 follows the entry */
    require.Equal(t, 4, fn.Blocks.Len())
    assert.Equal(t, Label(0), fn.Blocks.At(0).Label)
    assert.Equal(t, Label(1), fn.Blocks.At(1).Label)
    assert.Equal(t, []int{1, 2}, fn.Blocks.Succ(0))
    assert.Equal(t, Label(4), fn.NextLabel())

    /* every fall-through edge still targets the next block */
    for i := 0; i < fn.Blocks.Len(); i++ {
        bb := fn.Blocks.At(i)
        if bb.FallsThrough() {
            require.Less(t, i+1, fn.Blocks.Len())
            assert.Contains(t, fn.Blocks.Succ(i), i+1)
        }
    }
}

func TestFunction_RestoresFallThrough(t *testing.T) {
    var alloc SSAValueAllocator
    p := alloc.Alloc(Pred)
    br := NewInstr(&OpBra{Target: 2})
    br.Pred = SSAPred(p)

    /* L0 falls into L1, but L2 reaches L1 first in the depth-first walk */
    fn := NewFunction(alloc, PhiAllocator{}, []*BasicBlock{
        NewBasicBlock(0, NewInstr(&OpUndef{Dst: SSADst(p)}), br),
        NewBasicBlock(1, NewInstr(&OpExit{})),
        NewBasicBlock(2, NewInstr(&OpBra{Target: 1})),
    })

    /* the order is L0 L2 L1 and L0 got an explicit branch */
    require.Equal(t, 3, fn.Blocks.Len())
    assert.Equal(t, Label(2), fn.Blocks.At(1).Label)
    assert.Equal(t, Label(1), fn.Blocks.At(2).Label)
    assert.False(t, fn.Blocks.At(0).FallsThrough())
    assert.Equal(t, []Label{2, 1}, fn.Blocks.At(0).Targets())
    assert.Equal(t, 1, fn.Blocks.At(0).BranchIP())
}

func TestBasicBlock_IPs(t *testing.T) {
    var alloc SSAValueAllocator
    v := alloc.Alloc(GPR)
    bb := NewBasicBlock(0,
        NewInstr(&OpPhiDsts{Dst: []Dst{SSADst(v)}, Ids: []uint32{1}}),
        NewInstr(&OpMov{Dst: SSADst(alloc.Alloc(GPR)), Src: Imm(1)}),
        NewInstr(&OpPhiSrcs{Src: []Src{SSASrc(v)}, Ids: []uint32{1}}),
        NewInstr(&OpParCopy{}),
        NewInstr(&OpBra{Target: 0}),
    )
    _, ok := bb.PhiDsts()
    assert.True(t, ok)
    assert.Equal(t, 4, bb.BranchIP())
    assert.Equal(t, 2, bb.PhiSrcsIP())
    assert.Equal(t, 2, bb.EndIP())
    assert.False(t, bb.FallsThrough())
    assert.Equal(t, []Label{0}, bb.Targets())
}

func TestSSAValue_Packing(t *testing.T) {
    var alloc SSAValueAllocator
    a := alloc.Alloc(UGPR)
    b := alloc.Alloc(Pred)
    assert.Equal(t, UGPR, a.File())
    assert.Equal(t, Pred, b.File())
    assert.NotEqual(t, a.Idx(), b.Idx())
    assert.Equal(t, "%ur1", a.String())
    assert.Panics(t, func() { NewSSARef(a, b) })
}

func TestInstrPred_Guards(t *testing.T) {
    var alloc SSAValueAllocator
    p := alloc.Alloc(Pred)
    ins := NewBuilder(&alloc).Predicate(SSAPred(p)).Push(&OpNop{})

    /* the predicate is read like any source */
    require.Equal(t, PredSSA, ins.Pred.Kind)
    assert.Equal(t, p, ins.Pred.SSA)
    assert.Equal(t, []SSAValue{p}, ins.SSAUses())
    assert.False(t, ins.Pred.IsTrue())

    /* no predicate means always or never */
    assert.True(t, InstrPred{}.IsTrue())
    assert.True(t, InstrPred{Inv: true}.IsFalse())
    assert.Equal(t, "@!pT", InstrPred{Inv: true}.String())
}

func TestRegRef_Overlaps(t *testing.T) {
    a := NewRegRef(GPR, 4, 2)
    assert.True(t, a.Overlaps(NewRegRef(GPR, 5, 1)))
    assert.False(t, a.Overlaps(NewRegRef(GPR, 6, 2)))
    assert.False(t, a.Overlaps(NewRegRef(UGPR, 4, 1)))
    assert.Equal(t, uint32(5), a.Comp(1).Base())
    assert.Equal(t, 2, a.Comps())
}

func TestCFG_InLoop(t *testing.T) {
    cfg, _ := NewCFG([]int{0, 1, 2, 3, 4, 5}, edgesOf(0, 1, 1, 2, 2, 3, 3, 2, 3, 4, 4, 1, 4, 5))
    assert.True(t, cfg.InLoop(1, 3))
    assert.True(t, cfg.InLoop(2, 3))
    assert.True(t, cfg.InLoop(1, 1))
    assert.False(t, cfg.InLoop(2, 4))
    assert.False(t, cfg.InLoop(1, 5))
    assert.False(t, cfg.InLoop(1, 0))
}
