// Package inject implements the p-code injection library (spec.md §4.6): a
// set of named payloads, indexed by integer id and by name within four
// disjoint namespaces, each exposing an inject(context, emit) contract that
// splices a canned p-code snippet into a flow-follower's op stream.
package inject

import (
	"fmt"
	"sync"

	"github.com/decompile/sleighcore/addr"
	"github.com/decompile/sleighcore/errs"
	"github.com/decompile/sleighcore/pcode"
)

// Namespace is one of the four disjoint id spaces a payload is registered
// under (spec.md §4.6).
type Namespace int

const (
	NamespaceCallFixup Namespace = iota
	NamespaceCallOtherFixup
	NamespaceMechanism
	NamespaceExecutable
)

func (n Namespace) String() string {
	switch n {
	case NamespaceCallFixup:
		return "call-fixup"
	case NamespaceCallOtherFixup:
		return "callother-fixup"
	case NamespaceMechanism:
		return "call-mechanism"
	case NamespaceExecutable:
		return "executable-pcode"
	default:
		return "unknown-namespace"
	}
}

// VarKind distinguishes how a snippet operand resolves against a call site.
type VarKind int

const (
	RefInput  VarKind = iota // ctx.Inputs[Index]
	RefOutput                // ctx.Output
	RefUnique                // a temp reserved within this payload's own slots
	RefConst                 // a literal constant
)

// VarRef is one operand of an InjectOp, resolved against an Context at
// injection time rather than against a constructor's operand handles.
type VarRef struct {
	Kind  VarKind
	Index int
	Const uint64
	Size  int
}

// InjectOp is one p-code operation within a payload body.
type InjectOp struct {
	Opcode pcode.Opcode
	Out    *VarRef
	In     []VarRef
}

// Payload is one registered injection body: a fixed p-code template plus
// the bookkeeping get_payload/get_payload_id/evaluate need.
type Payload struct {
	ID        int
	Name      string
	Type      Namespace
	Ops       []InjectOp
	NumInputs int
	HasOutput bool

	emuOnce sync.Once
	emu     *emulator
}

// Inject expands the payload's template against ctx, handing each resulting
// op to emit — the payload contract of spec.md §4.6.
func (p *Payload) Inject(ctx *Context, emit pcode.Emit) error {
	for _, op := range p.Ops {
		var out *pcode.VarnodeData
		if op.Out != nil {
			v, err := ctx.resolve(*op.Out)
			if err != nil {
				return err
			}
			out = &v
		}
		in := make([]pcode.VarnodeData, len(op.In))
		for i, ref := range op.In {
			v, err := ctx.resolve(ref)
			if err != nil {
				return err
			}
			in[i] = v
		}
		emit.Dump(ctx.Addr, op.Opcode, out, in)
	}
	return nil
}

// Evaluate runs this payload as a stripped-down emulator over concrete
// input values, returning the value of the temp written by the payload's
// last temp-writing op (spec.md §4.6, executable-pcode payloads only).
func (p *Payload) Evaluate(inputs []uint64) (uint64, error) {
	if p.Type != NamespaceExecutable {
		return 0, errs.NewFatal("inject: Evaluate called on non-executable payload %q", p.Name)
	}
	p.emuOnce.Do(func() { p.emu = newEmulator(p) })
	return p.emu.run(inputs)
}

// Library owns the payload registry across all four namespaces and a
// pooled Context callers reuse across injections (spec.md §4.6).
type Library struct {
	mu       sync.Mutex
	byID     map[int]*Payload
	byName   map[Namespace]map[string]int
	nextID   int
	unique   *addr.AddrSpace
	cachedCtx *Context
}

func NewLibrary(unique *addr.AddrSpace) *Library {
	return &Library{
		byID:   make(map[int]*Payload),
		byName: map[Namespace]map[string]int{NamespaceCallFixup: {}, NamespaceCallOtherFixup: {}, NamespaceMechanism: {}, NamespaceExecutable: {}},
		nextID: 1,
		unique: unique,
	}
}

// DecodeInject decodes a payload body out of raw (the packed tag-stream
// encoding of an <inject> element), registers it under name/typ, and
// returns its new id — decode_inject(src, name, type, decoder) of spec §4.6.
func (l *Library) DecodeInject(raw []byte, name string, typ Namespace) (int, error) {
	ops, numIn, hasOut, err := decodeInjectBody(raw)
	if err != nil {
		return 0, err
	}
	return l.register(name, typ, ops, numIn, hasOut), nil
}

// ManualCallFixup compiles a pre-built snippet at runtime under name in the
// call-fixup namespace (spec §4.6's manual_call_fixup).
func (l *Library) ManualCallFixup(name string, snippet []InjectOp) int {
	return l.register(name, NamespaceCallFixup, snippet, 0, false)
}

// ManualCallOtherFixup compiles a pre-built snippet at runtime under name in
// the callother-fixup namespace, declaring numOut/numIn operand slots
// (spec §4.6's manual_call_other_fixup).
func (l *Library) ManualCallOtherFixup(name string, numOut, numIn int, snippet []InjectOp) int {
	return l.register(name, NamespaceCallOtherFixup, snippet, numIn, numOut > 0)
}

func (l *Library) register(name string, typ Namespace, ops []InjectOp, numIn int, hasOut bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	p := &Payload{ID: id, Name: name, Type: typ, Ops: ops, NumInputs: numIn, HasOutput: hasOut}
	l.byID[id] = p
	l.byName[typ][name] = id
	return id
}

// GetPayload returns the payload registered under id, or nil.
func (l *Library) GetPayload(id int) *Payload {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byID[id]
}

// GetPayloadID looks up a payload by namespace and name.
func (l *Library) GetPayloadID(typ Namespace, name string) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byName[typ][name]
	return id, ok
}

// GetCallFixupName returns the name a call-fixup payload was registered
// under, or "" if id does not name one.
func (l *Library) GetCallFixupName(id int) string {
	p := l.GetPayload(id)
	if p == nil || p.Type != NamespaceCallFixup {
		return ""
	}
	return p.Name
}

// GetCachedContext returns the library's reusable per-call Context. The
// caller must Clear() it before filling in Addr/Inputs/Output, per the
// spec's "caller must clear() before use" contract.
func (l *Library) GetCachedContext() *Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cachedCtx == nil {
		l.cachedCtx = &Context{unique: l.unique}
	}
	return l.cachedCtx
}

func (l *Library) String() string {
	return fmt.Sprintf("inject.Library{%d payloads}", len(l.byID))
}
