package flow

import (
	"sort"

	"github.com/decompile/sleighcore/pcode"
)

// BasicBlock is an ordered, contiguous run of p-code ops plus its directed
// edges to other blocks (spec.md §4.5 generate_blocks, §8's partition
// invariant: every op belongs to exactly one block, sorted by sequence
// number, every non-entry block has at least one incoming edge).
type BasicBlock struct {
	ID  int
	Ops []*pcode.Op
	In  []int
	Out []int
}

// generateBlocks implements spec.md §4.5 generate_blocks: fill halts for
// unprocessed addresses, collect op-to-op edges, split on block-start
// marks, translate edges to block-to-block, and synthesize an empty entry
// block if the real entry block has incoming edges.
func generateBlocks(f *FlowFollower) []*BasicBlock {
	for _, a := range f.unprocessedSorted() {
		if f.isVisited(a) {
			continue
		}
		f.appendHalt(a, pcode.HaltMissing)
	}

	if len(f.ops) == 0 {
		return nil
	}
	f.ops[0].BlockStart = true

	starts := map[int]bool{0: true}
	for i, op := range f.ops {
		if op.BlockStart {
			starts[i] = true
		}
	}
	ordered := make([]int, 0, len(starts))
	for i := range starts {
		ordered = append(ordered, i)
	}
	sort.Ints(ordered)

	blocks := make([]*BasicBlock, len(ordered))
	opBlock := make([]int, len(f.ops))
	for bi, start := range ordered {
		end := len(f.ops)
		if bi+1 < len(ordered) {
			end = ordered[bi+1]
		}
		blocks[bi] = &BasicBlock{ID: bi, Ops: f.ops[start:end]}
		for i := start; i < end; i++ {
			opBlock[i] = bi
		}
	}

	addEdge := func(from, to int) {
		b, t := blocks[from], blocks[to]
		for _, o := range b.Out {
			if o == t.ID {
				return
			}
		}
		b.Out = append(b.Out, t.ID)
		t.In = append(t.In, b.ID)
	}

	for bi, blk := range blocks {
		if len(blk.Ops) == 0 {
			continue
		}
		lastGlobal := 0
		for i, op := range f.ops {
			if op == blk.Ops[len(blk.Ops)-1] {
				lastGlobal = i
				break
			}
		}
		for _, t := range f.successors(lastGlobal) {
			addEdge(bi, opBlock[t])
		}
	}

	entryBlock := 0
	if vs, ok := f.visited[key(f.entry)]; ok {
		entryBlock = opBlock[vs.firstOpIndex]
	}
	if len(blocks[entryBlock].In) > 0 {
		synth := &BasicBlock{ID: -1, Out: []int{entryBlock}}
		blocks[entryBlock].In = append(blocks[entryBlock].In, synth.ID)
		renumbered := make([]*BasicBlock, 0, len(blocks)+1)
		renumbered = append(renumbered, synth)
		renumbered = append(renumbered, blocks...)
		for newID, b := range renumbered {
			oldID := b.ID
			b.ID = newID
			for _, other := range renumbered {
				for i, e := range other.Out {
					if e == oldID && other != b {
						other.Out[i] = newID
					}
				}
				for i, e := range other.In {
					if e == oldID && other != b {
						other.In[i] = newID
					}
				}
			}
		}
		return renumbered
	}
	return blocks
}

// successors returns the global op indices control can transfer to from
// the op at i, the shared logic behind generate_blocks' edge-collection
// pass (CBRANCH/BRANCH/BRANCHIND/fallthru).
func (f *FlowFollower) successors(i int) []int {
	op := f.ops[i]
	switch op.Opcode {
	case pcode.BRANCH:
		if t, ok := f.resolveBranchTarget(op, i); ok {
			return []int{t}
		}
		return nil
	case pcode.CBRANCH:
		var out []int
		if t, ok := f.resolveBranchTarget(op, i); ok {
			out = append(out, t)
		}
		if i+1 < len(f.ops) {
			out = append(out, i+1)
		}
		return out
	case pcode.BRANCHIND:
		var out []int
		seen := make(map[int]bool)
		for _, a := range f.jumpTargets[op] {
			vs, ok := f.visited[key(a)]
			if !ok || seen[vs.firstOpIndex] {
				continue
			}
			seen[vs.firstOpIndex] = true
			out = append(out, vs.firstOpIndex)
		}
		return out
	case pcode.RETURN:
		return nil
	default:
		if i+1 < len(f.ops) {
			return []int{i + 1}
		}
		return nil
	}
}

// resolveBranchTarget finds the op index a BRANCH/CBRANCH at i targets,
// whether it is a same-instruction relative target (a constant input, in
// sequence-number ticks) or an absolute address (looked up in visited).
func (f *FlowFollower) resolveBranchTarget(op *pcode.Op, i int) (int, bool) {
	if len(op.Input) == 0 {
		return 0, false
	}
	v := op.Input[0]
	if v.IsConstant() {
		delta := signedFromMasked(v.Offset, v.Size)
		t := i + int(delta)
		if t >= 0 && t < len(f.ops) {
			return t, true
		}
		return 0, false
	}
	vs, ok := f.visited[key(v.Addr())]
	if !ok {
		return 0, false
	}
	return vs.firstOpIndex, true
}
