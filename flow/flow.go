// Package flow implements the flow-follower (spec.md §4.5): from an entry
// address it emits p-code for every reachable instruction via the sleigh
// decoder, tracks fall-through/branch/call/jump-table control flow, splices
// in injection-library payloads, and partitions the result into basic
// blocks with directed edges.
package flow

import (
	"fmt"
	"sort"

	"github.com/decompile/sleighcore/addr"
	"github.com/decompile/sleighcore/errs"
	"github.com/decompile/sleighcore/inject"
	"github.com/decompile/sleighcore/pcode"
	"github.com/decompile/sleighcore/sleigh"
)

// Options are the combinable flags of spec.md §4.5: a policy per
// recoverable condition, plus three behavior switches.
type Options struct {
	OutOfBounds         errs.Policy
	Unimplemented       errs.Policy
	Reinterpreted       errs.Policy
	TooManyInstructions errs.Policy
	InaccessibleData    errs.Policy

	FlowForInline       bool
	RecordJumpLoads     bool
	PossibleUnreachable bool
	MaxInstructions     int // 0 means unbounded

	// JumpTableFailMode governs truncate_indirect_jump: how a BRANCHIND
	// whose jump table never resolves gets rewritten (spec.md §7 tier 2).
	JumpTableFailMode TruncateMode
	// MaxJumpTableRounds bounds how many recovery rounds an unresolved
	// jump table gets before truncateIndirectJump gives up on it. 0 means
	// the package default (8).
	MaxJumpTableRounds int
}

// DefaultOptions mirrors the spec's stated default: every recoverable
// condition warns rather than silently ignoring or hard-failing.
func DefaultOptions() Options {
	return Options{
		OutOfBounds:         errs.PolicyWarn,
		Unimplemented:       errs.PolicyWarn,
		Reinterpreted:       errs.PolicyWarn,
		TooManyInstructions: errs.PolicyWarn,
		InaccessibleData:    errs.PolicyWarn,
		MaxInstructions:     0,
		JumpTableFailMode:   TruncateDefault,
		MaxJumpTableRounds:  0,
	}
}

const defaultMaxJumpTableRounds = 8

func (f *FlowFollower) maxJumpTableRounds() int {
	if f.opts.MaxJumpTableRounds > 0 {
		return f.opts.MaxJumpTableRounds
	}
	return defaultMaxJumpTableRounds
}

// Flags records whether each recoverable condition fired at least once,
// for a caller to surface as a header warning (spec.md §7 tier 1).
type Flags struct {
	OutOfBoundsPresent     bool
	UnimplementedPresent   bool
	ReinterpretedPresent   bool
	TooManyPresent         bool
	InaccessiblePresent    bool
	JumpTableFailedPresent bool
}

// visitStat is what generate_ops records per visited address (spec.md §3's
// VisitStat): the index of its first op in the flat op stream, and its
// instruction byte length.
type visitStat struct {
	firstOpIndex int
	length       int
}

// FuncCallSpecs is a call site: looked up by id, never by pointer, per the
// design notes' cyclic-reference fix (spec.md §9).
type FuncCallSpecs struct {
	ID        int
	CallAddr  addr.Address
	EntryAddr addr.Address
	Prototype string
	Inline    bool
	NoReturn  bool
}

// CallResolver supplies what the flow-follower needs to know about a call
// target that isn't derivable from p-code alone (prototype, inline/no-return
// flags) — an external collaborator per spec.md §1's non-goals.
type CallResolver interface {
	Resolve(entry addr.Address) (prototype string, inlineOK bool, noReturn bool, known bool)
}

// JumpTableFinder recovers a BRANCHIND's target set (spec.md §6.4
// find_jump_table). done reports whether recovery is complete; if false the
// op stays in tablelist for another round (check_multistage_jumptables).
type JumpTableFinder interface {
	FindJumpTable(op *pcode.Op, caller addr.Address) (targets []addr.Address, done bool, err error)
}

// UserOpType distinguishes a plain CALLOTHER from one backed by an
// injection-library payload (spec.md §6.4 user_ops.get_op(index).get_type()).
type UserOpType int

const (
	UserOpPlain UserOpType = iota
	UserOpInjected
)

// UserOpRegistry resolves a CALLOTHER's user-op index to its type.
type UserOpRegistry interface {
	GetOpType(index int) UserOpType
	GetOpName(index int) string
}

// FlowFollower owns the work list, visited map, jump-table list, injection
// list, call-spec registry, and resulting basic-block container for one
// function's flow (spec.md §3 Ownership).
type FlowFollower struct {
	dec     *sleigh.Decoder
	lib     *inject.Library
	userOps UserOpRegistry
	jump    JumpTableFinder
	calls   CallResolver

	opts  Options
	Flags Flags

	baddr, eaddr addr.Address

	addrlist    []addr.Address
	visited     map[uint64]*visitStat
	unprocessed map[uint64]bool

	tablelist     []*pcode.Op
	tableAttempts map[*pcode.Op]int
	injectlist    []*pcode.Op
	jumpTargets   map[*pcode.Op][]addr.Address

	qlst       map[int]*FuncCallSpecs
	nextCallID int

	inlineBase      map[uint64]bool
	inlineRecursion map[uint64]bool

	// markNextInstructionBlockStart carries a branch's "mark the
	// next op as a block start" requirement across instruction boundaries,
	// when the branch is the last op of its instruction (spec.md §4.5).
	markNextInstructionBlockStart bool

	ops    []*pcode.Op
	blocks []*BasicBlock

	entry addr.Address
}

func NewFlowFollower(dec *sleigh.Decoder, lib *inject.Library, userOps UserOpRegistry, jump JumpTableFinder, calls CallResolver, baddr, eaddr addr.Address, opts Options) *FlowFollower {
	return &FlowFollower{
		dec: dec, lib: lib, userOps: userOps, jump: jump, calls: calls,
		opts: opts, baddr: baddr, eaddr: eaddr,
	}
}

func (f *FlowFollower) reset() {
	f.Flags = Flags{}
	f.addrlist = nil
	f.visited = make(map[uint64]*visitStat)
	f.unprocessed = make(map[uint64]bool)
	f.tablelist = nil
	f.tableAttempts = make(map[*pcode.Op]int)
	f.injectlist = nil
	f.jumpTargets = make(map[*pcode.Op][]addr.Address)
	f.qlst = make(map[int]*FuncCallSpecs)
	f.nextCallID = 1
	f.inlineBase = make(map[uint64]bool)
	f.inlineRecursion = make(map[uint64]bool)
	f.ops = nil
	f.blocks = nil
}

// Ops returns the complete, still-unsplit op stream generate_ops produced.
func (f *FlowFollower) Ops() []*pcode.Op { return f.ops }

// CallSpecs returns the call-site registry built during this run.
func (f *FlowFollower) CallSpecs() map[int]*FuncCallSpecs { return f.qlst }

func key(a addr.Address) uint64 { return a.Offset }

func (f *FlowFollower) pushAddr(a addr.Address) { f.addrlist = append(f.addrlist, a) }

func (f *FlowFollower) popAddr() addr.Address {
	n := len(f.addrlist)
	a := f.addrlist[n-1]
	f.addrlist = f.addrlist[:n-1]
	return a
}

func (f *FlowFollower) isVisited(a addr.Address) bool {
	_, ok := f.visited[key(a)]
	return ok
}

func (f *FlowFollower) inRange(a addr.Address) bool {
	return a.InRange(f.baddr, f.eaddr)
}

func (f *FlowFollower) applyPolicy(p errs.Policy, err *errs.CoreError) errs.Outcome {
	return errs.Apply(p, err)
}

// GenerateOps runs the full algorithm of spec.md §4.5: drain the work list,
// run pending injections, then loop recovering jump tables (and anything
// they push back onto the work list) until tablelist is empty.
func (f *FlowFollower) GenerateOps(entry addr.Address) error {
	f.reset()
	return f.runBody(entry)
}

// newInlineSubFollower builds a fresh follower for decoding an inline
// candidate's body. inlineBase/inlineRecursion are shared by reference with
// the host so cycle detection (spec.md §8 scenario 5) spans the whole
// inlining attempt, not just one follower's local state.
func (f *FlowFollower) newInlineSubFollower() *FlowFollower {
	sub := &FlowFollower{
		dec: f.dec, lib: f.lib, userOps: f.userOps, jump: f.jump, calls: f.calls,
		opts: f.opts, baddr: f.baddr, eaddr: f.eaddr,
	}
	sub.visited = make(map[uint64]*visitStat)
	sub.unprocessed = make(map[uint64]bool)
	sub.qlst = make(map[int]*FuncCallSpecs)
	sub.jumpTargets = make(map[*pcode.Op][]addr.Address)
	sub.tableAttempts = make(map[*pcode.Op]int)
	sub.nextCallID = 1
	sub.inlineBase = f.inlineBase
	sub.inlineRecursion = f.inlineRecursion
	return sub
}

func (f *FlowFollower) runBody(entry addr.Address) error {
	f.entry = entry
	f.pushAddr(entry)

	if err := f.drainAddrlist(); err != nil {
		return err
	}
	if len(f.injectlist) > 0 {
		if err := f.injectPcode(); err != nil {
			return err
		}
	}

	for {
		tables := f.tablelist
		f.tablelist = nil
		for _, op := range tables {
			targets, done, err := f.jump.FindJumpTable(op, op.Seq.Addr)
			if err != nil {
				return err
			}
			f.jumpTargets[op] = append(f.jumpTargets[op], targets...)
			for _, t := range targets {
				if err := f.newAddress(t); err != nil {
					return err
				}
			}
			if done {
				continue
			}
			f.tableAttempts[op]++
			if f.tableAttempts[op] >= f.maxJumpTableRounds() {
				if err := f.truncateIndirectJump(op); err != nil {
					return err
				}
				continue
			}
			f.tablelist = append(f.tablelist, op)
		}
		if err := f.drainAddrlist(); err != nil {
			return err
		}
		if err := f.checkContainedCall(); err != nil {
			return err
		}
		f.checkMultistageJumptables()
		if len(f.injectlist) > 0 {
			if err := f.injectPcode(); err != nil {
				return err
			}
		}
		if len(f.tablelist) == 0 {
			break
		}
	}
	return nil
}

func (f *FlowFollower) drainAddrlist() error {
	for len(f.addrlist) > 0 {
		if err := f.fallthru(); err != nil {
			return err
		}
	}
	return nil
}

// GenerateBlocks partitions the accumulated op stream into basic blocks
// (spec.md §4.5 generate_blocks), stored on the follower and returned.
func (f *FlowFollower) GenerateBlocks() []*BasicBlock {
	f.blocks = generateBlocks(f)
	return f.blocks
}

func (f *FlowFollower) String() string {
	return fmt.Sprintf("flow.FlowFollower{entry=%s, ops=%d, blocks=%d}", f.entry, len(f.ops), len(f.blocks))
}

// unprocessedSorted returns the unprocessed addresses in ascending order,
// for generate_blocks' "sorted, deduplicated" halt-filling pass.
func (f *FlowFollower) unprocessedSorted() []addr.Address {
	out := make([]addr.Address, 0, len(f.unprocessed))
	for k := range f.unprocessed {
		out = append(out, addr.NewAddress(f.baddr.Space, k))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
