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
    `fmt`

    `github.com/oleiade/lane`
    `gonum.org/v1/gonum/graph/flow`
    `gonum.org/v1/gonum/graph/simple`
)

type _CfgNode[N any] struct {
    node       N
    dom        int
    domPre     int
    domPost    int
    loopHeader int
    loopParent int
    loopDepth  int
    pred       []int
    succ       []int
    domKids    []int
}

// CFG is a reducible control-flow graph over nodes stored in reverse
// post-order. Nodes are addressed by index, so edges stay valid while node
// contents are rewritten.
type CFG[N any] struct {
    nodes []_CfgNode[N]
    loops bool
}

type _DfsFrame struct {
    node int
    next int
}

// NewCFG builds a CFG from nodes and edges given as (from, to) index pairs.
// Node 0 is the entry. The nodes are renumbered into reverse post-order and
// nodes unreachable from the entry are dropped; the returned slice maps each
// new index to the original one.
func NewCFG[N any](nodes []N, edges [][2]int) (*CFG[N], []int) {
    succ := make([][]int, len(nodes))
    pred := make([][]int, len(nodes))

    /* build the adjacency lists */
    for _, e := range edges {
        succ[e[0]] = append(succ[e[0]], e[1])
        pred[e[1]] = append(pred[e[1]], e[0])
    }

    /* walk the graph and find the back edges */
    po, back := postOrder(succ)
    rpo := make([]int, len(po))
    remap := make([]int, len(nodes))

    /* reverse the post-order, unreachable nodes get -1 */
    for i := range remap {
        remap[i] = -1
    }
    for i, n := range po {
        rpo[len(po)-1-i] = n
    }
    for i, n := range rpo {
        remap[n] = i
    }

    /* create the renumbered nodes */
    cfg := &CFG[N]{nodes: make([]_CfgNode[N], len(rpo))}
    for i, n := range rpo {
        cfg.nodes[i] = _CfgNode[N]{
            node:       nodes[n],
            dom:        -1,
            loopHeader: -1,
            loopParent: -1,
        }
        for _, s := range succ[n] {
            cfg.nodes[i].succ = append(cfg.nodes[i].succ, remap[s])
        }
        for _, p := range pred[n] {
            if remap[p] >= 0 {
                cfg.nodes[i].pred = append(cfg.nodes[i].pred, remap[p])
            }
        }
    }

    /* remap the back edges as well */
    for i, e := range back {
        back[i] = [2]int{remap[e[0]], remap[e[1]]}
    }

    /* compute the dominators and loops */
    cfg.calcDominance()
    cfg.calcLoops(back)
    return cfg, rpo
}

func postOrder(succ [][]int) (po []int, back [][2]int) {
    const (
        _Unseen = iota
        _OnStack
        _Done
    )

    /* explicit DFS stack, successors are visited in reverse order so the
     * first successor (the fall-through) ends up right after its
     * predecessor in reverse post-order */
    state := make([]uint8, len(succ))
    stack := lane.NewStack()
    stack.Push(&_DfsFrame{node: 0, next: len(succ[0]) - 1})
    state[0] = _OnStack

    /* iterative DFS */
    for !stack.Empty() {
        top := stack.Head().(*_DfsFrame)

        /* all successors visited, emit the node */
        if top.next < 0 {
            stack.Pop()
            po = append(po, top.node)
            state[top.node] = _Done
            continue
        }

        /* visit the next successor */
        s := succ[top.node][top.next]
        top.next--

        /* edge into a node on the stack closes a cycle */
        switch state[s] {
        case _Unseen:
            state[s] = _OnStack
            stack.Push(&_DfsFrame{node: s, next: len(succ[s]) - 1})
        case _OnStack:
            back = append(back, [2]int{top.node, s})
        }
    }
    return
}

func (self *CFG[N]) intersect(a int, b int) int {
    for a != b {
        for a > b {
            a = self.nodes[a].dom
        }
        for b > a {
            b = self.nodes[b].dom
        }
    }
    return a
}

func (self *CFG[N]) calcDominance() {
    changed := true
    self.nodes[0].dom = 0

    /* iterate until the dominators converge */
    for changed {
        changed = false
        for i := 1; i < len(self.nodes); i++ {
            idom := -1

            /* intersect all the processed predecessors */
            for _, p := range self.nodes[i].pred {
                if self.nodes[p].dom < 0 {
                    continue
                } else if idom < 0 {
                    idom = p
                } else {
                    idom = self.intersect(idom, p)
                }
            }

            /* every reachable node has at least one processed predecessor */
            if idom < 0 {
                panic(fmt.Sprintf("cfg: node %d has no dominating predecessor", i))
            }

            /* update the dominator */
            if self.nodes[i].dom != idom {
                self.nodes[i].dom = idom
                changed = true
            }
        }
    }

    /* build the tree, the entry is its own dominator only during the fixpoint */
    self.nodes[0].dom = -1
    for i := 1; i < len(self.nodes); i++ {
        d := self.nodes[i].dom
        self.nodes[d].domKids = append(self.nodes[d].domKids, i)
    }

    /* number the dominator tree for O(1) dominance queries */
    idx := 0
    stack := lane.NewStack()
    stack.Push(&_DfsFrame{node: 0, next: 0})
    self.nodes[0].domPre = idx

    /* iterative DFS over the tree */
    for !stack.Empty() {
        top := stack.Head().(*_DfsFrame)
        kids := self.nodes[top.node].domKids

        /* leave the node once all the children are numbered */
        if top.next >= len(kids) {
            stack.Pop()
            self.nodes[top.node].domPost = idx
            continue
        }

        /* enter the next child */
        k := kids[top.next]
        top.next++
        idx++
        self.nodes[k].domPre = idx
        stack.Push(&_DfsFrame{node: k, next: 0})
    }
}

func (self *CFG[N]) calcLoops(back [][2]int) {
    hdrs := make(map[int][]int)
    order := make([]int, 0, len(back))

    /* every back edge must target a node dominating its source */
    for _, e := range back {
        if !self.Dominates(e[1], e[0]) {
            panic(fmt.Sprintf("cfg: irreducible control flow from %d to %d", e[0], e[1]))
        }
        if _, ok := hdrs[e[1]]; !ok {
            order = append(order, e[1])
        }
        hdrs[e[1]] = append(hdrs[e[1]], e[0])
    }

    /* process inner loops first, they have larger indices */
    self.loops = len(order) != 0
    sortIntsDesc(order)

    /* collect the natural loop of every header */
    for _, h := range order {
        q := lane.NewQueue()
        seen := map[int]bool{h: true}

        /* the header belongs to its own loop */
        if self.nodes[h].loopHeader < 0 {
            self.nodes[h].loopHeader = h
        }

        /* walk backwards from the latches */
        for _, l := range hdrs[h] {
            if !seen[l] {
                seen[l] = true
                q.Enqueue(l)
            }
        }

        /* mark the body */
        for !q.Empty() {
            n := q.Dequeue().(int)
            self.claimLoopNode(h, n)

            /* keep walking */
            for _, p := range self.nodes[n].pred {
                if !seen[p] {
                    seen[p] = true
                    q.Enqueue(p)
                }
            }
        }
    }

    /* compute the loop depths, outer headers have smaller indices */
    for i := range self.nodes {
        if self.nodes[i].loopHeader == i {
            if p := self.nodes[i].loopParent; p < 0 {
                self.nodes[i].loopDepth = 1
            } else {
                self.nodes[i].loopDepth = self.nodes[p].loopDepth + 1
            }
        }
    }

    /* other nodes inherit the depth of their innermost header */
    for i := range self.nodes {
        if h := self.nodes[i].loopHeader; h >= 0 && h != i {
            self.nodes[i].loopDepth = self.nodes[h].loopDepth
        }
    }
}

func (self *CFG[N]) claimLoopNode(h int, n int) {
    x := self.nodes[n].loopHeader

    /* not claimed by any inner loop yet */
    if x < 0 {
        self.nodes[n].loopHeader = h
        return
    }

    /* find the outermost loop claimed so far and nest it into this one */
    for self.nodes[x].loopParent >= 0 {
        x = self.nodes[x].loopParent
    }
    if x != h {
        self.nodes[x].loopParent = h
    }
}

func sortIntsDesc(v []int) {
    for i := 1; i < len(v); i++ {
        for j := i; j > 0 && v[j-1] < v[j]; j-- {
            v[j-1], v[j] = v[j], v[j-1]
        }
    }
}

// Len returns the number of nodes.
func (self *CFG[N]) Len() int {
    return len(self.nodes)
}

// At returns the i-th node in reverse post-order.
func (self *CFG[N]) At(i int) N {
    return self.nodes[i].node
}

// Nodes returns all the nodes in reverse post-order.
func (self *CFG[N]) Nodes() []N {
    ret := make([]N, len(self.nodes))
    for i := range self.nodes {
        ret[i] = self.nodes[i].node
    }
    return ret
}

func (self *CFG[N]) Succ(i int) []int { return self.nodes[i].succ }
func (self *CFG[N]) Pred(i int) []int { return self.nodes[i].pred }

// DomParent returns the immediate dominator of i.
func (self *CFG[N]) DomParent(i int) (int, bool) {
    d := self.nodes[i].dom
    return d, d >= 0
}

// DomChildren returns the nodes immediately dominated by i.
func (self *CFG[N]) DomChildren(i int) []int {
    return self.nodes[i].domKids
}

// DomPreIdx returns the pre-order index of i in the dominator tree.
func (self *CFG[N]) DomPreIdx(i int) int {
    return self.nodes[i].domPre
}

// Dominates reports whether every path from the entry to b passes through a.
// Every node dominates itself.
func (self *CFG[N]) Dominates(a int, b int) bool {
    return self.nodes[a].domPre <= self.nodes[b].domPre && self.nodes[b].domPost <= self.nodes[a].domPost
}

// HasLoop reports whether the graph contains any cycle.
func (self *CFG[N]) HasLoop() bool {
    return self.loops
}

// LoopHeader returns the innermost loop header containing i. A loop header
// is its own loop header.
func (self *CFG[N]) LoopHeader(i int) (int, bool) {
    h := self.nodes[i].loopHeader
    return h, h >= 0
}

func (self *CFG[N]) IsLoopHeader(i int) bool {
    return self.nodes[i].loopHeader == i
}

// InLoop reports whether node i belongs to the loop headed by h, directly
// or through nested loops.
func (self *CFG[N]) InLoop(h int, i int) bool {
    x := self.nodes[i].loopHeader
    for x >= 0 && x != h {
        x = self.nodes[x].loopParent
    }
    return x == h && h >= 0
}

// LoopDepth returns the number of loops containing i.
func (self *CFG[N]) LoopDepth(i int) int {
    return self.nodes[i].loopDepth
}

// Verify cross-checks the immediate dominators against an independent
// implementation and panics on any mismatch.
func (self *CFG[N]) Verify() {
    g := simple.NewDirectedGraph()

    /* rebuild the graph */
    for i := range self.nodes {
        g.AddNode(simple.Node(i))
    }
    for i := range self.nodes {
        for _, s := range self.nodes[i].succ {
            if i != s && !g.HasEdgeFromTo(int64(i), int64(s)) {
                g.SetEdge(g.NewEdge(simple.Node(i), simple.Node(s)))
            }
        }
    }

    /* compare every immediate dominator */
    dt := flow.Dominators(simple.Node(0), g)
    for i := 1; i < len(self.nodes); i++ {
        if d := dt.DominatorOf(int64(i)); d == nil || int(d.ID()) != self.nodes[i].dom {
            panic(fmt.Sprintf("cfg: immediate dominator mismatch at node %d", i))
        }
    }

    /* every non-entry node must have a predecessor that comes before it */
    for i := 1; i < len(self.nodes); i++ {
        ok := false
        for _, p := range self.nodes[i].pred {
            ok = ok || p < i
        }
        if !ok {
            panic(fmt.Sprintf("cfg: node %d has no forward predecessor", i))
        }
    }
}
