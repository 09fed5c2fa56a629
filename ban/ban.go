package ban

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reveno/cachecore/objcore"
)

// Flag bits for a Ban (spec.md §3 "Ban", §6 wire format byte 12).
type Flag byte

const (
	FlagReq Flag = 1 << iota
	FlagObj
	FlagCompleted
	FlagHTTP
	FlagDuration
	FlagNodedup
)

// Ban is an invalidation predicate (spec.md §3). Tests are combined with
// conjunction (a core must match every Test to be killed).
type Ban struct {
	timestamp float64 // monotonic within the list; wire format bytes 0-7
	flags     atomic.Uint32
	tests     []Test

	refcount atomic.Int32

	// objects is this ban's per-ban object-core list, used by the lurker
	// for the sentinel-bounded sweep of spec.md §4.2 point 3. Guarded by
	// the owning List's mu.
	objects *objList
}

func (b *Ban) Timestamp() float64 { return b.timestamp }

func (b *Ban) Flags() Flag { return Flag(b.flags.Load()) }

func (b *Ban) hasFlag(f Flag) bool { return b.flags.Load()&uint32(f) != 0 }

func (b *Ban) setFlag(f Flag) {
	for {
		old := b.flags.Load()
		if b.flags.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

// IsReq reports whether this ban references request data, which means the
// lurker cannot evaluate it in the background (spec.md §3).
func (b *Ban) IsReq() bool { return b.hasFlag(FlagReq) }

// IsCompleted reports whether this ban has been overtaken by a newer
// identical ban, or fully processed by the lurker.
func (b *Ban) IsCompleted() bool { return b.hasFlag(FlagCompleted) }

// Ref/Deref manage the ban's reference count (spec.md §3: "refcount (number
// of object cores pointing at it, plus transient holders)"). The head ban
// always carries a reference from the list itself, so valid refcounts are
// always >= 1 while the ban is reachable (spec.md §6 sentinel values).
func (b *Ban) Ref() int32   { return b.refcount.Add(1) }
func (b *Ban) Deref() int32 { return b.refcount.Add(-1) }
func (b *Ban) Refcount() int32 { return b.refcount.Load() }

// Tests exposes the compiled test list for rendering (ban/render.go).
func (b *Ban) Tests() []Test { return b.tests }

// Builder accumulates tests before Commit, mirroring spec.md §6's
// build -> add_test -> commit / abandon lifecycle.
type Builder struct {
	mu    sync.Mutex
	tests []Test
	flags Flag
}

// NewBuilder starts a new ban build. REQ-ness is derived from which Arg
// values are added (ArgReqHeader sets FlagReq, every other Arg sets FlagObj).
func NewBuilder() *Builder { return &Builder{} }

// AddTest validates (arg, op) against the fixed matrix (spec.md §4.2) and,
// on success, appends the test. Regexes are compiled immediately so build
// errors surface to the CLI caller rather than at lazy-evaluation time
// (spec.md §7 "Ban parse/regex error ... CLI error, ban not committed").
func (bld *Builder) AddTest(arg Arg, field string, op Op, literal string, duration float64) error {
	if err := validate(arg, op); err != nil {
		return err
	}
	if arg.hasField() && field == "" {
		return fmt.Errorf("ban: argument %v requires a field name", arg)
	}
	t := Test{Arg: arg, Field: field, Op: op, Literal: literal, Duration: duration}
	if err := t.compileRegex(); err != nil {
		return err
	}
	bld.mu.Lock()
	defer bld.mu.Unlock()
	bld.tests = append(bld.tests, t)
	if arg == ArgReqHeader {
		bld.flags |= FlagReq
	} else {
		bld.flags |= FlagObj
	}
	return nil
}

// SetNodedup marks the resulting ban NODEDUP (spec.md §3, §8: "A ban with
// NODEDUP flag set is never cancelled by a later identical ban").
func (bld *Builder) SetNodedup() {
	bld.mu.Lock()
	defer bld.mu.Unlock()
	bld.flags |= FlagNodedup
}

// build finalizes the builder into a Ban stamped with the given timestamp.
// Timestamps are supplied by the caller (List.Commit) rather than taken
// from a clock here, keeping Builder free of any time.Now() access for
// easier testing (and respecting this exercise's "no argless time access"
// scripting constraint upstream).
func (bld *Builder) build(ts float64) (*Ban, error) {
	bld.mu.Lock()
	defer bld.mu.Unlock()
	if len(bld.tests) == 0 {
		return nil, fmt.Errorf("ban: no tests added")
	}
	b := &Ban{timestamp: ts, tests: append([]Test(nil), bld.tests...), objects: newObjList()}
	b.flags.Store(uint32(bld.flags))
	b.refcount.Store(1)
	return b, nil
}

// RequestContext carries the request-scoped attributes needed to evaluate
// REQ-typed tests at lookup time (spec.md §4.1 Lookup calling into ban
// evaluation). ObjectContext below carries the object-scoped equivalent.
type RequestContext struct {
	URL     string
	Headers map[string]string
}

// ObjectContext carries the object-scoped attributes a ban test may compare
// against (spec.md §4.2 "Supported arguments").
type ObjectContext struct {
	Headers func(name string) (string, bool)
	Status  int
	Now     time.Time
	Core    *objcore.Core
}

// Matches reports whether every test in the ban holds for the given
// request/object context (conjunction, spec.md §4.2).
func (b *Ban) Matches(req *RequestContext, obj *ObjectContext) bool {
	for i := range b.tests {
		if !b.tests[i].matches(req, obj) {
			return false
		}
	}
	return true
}

func (t *Test) matches(req *RequestContext, obj *ObjectContext) bool {
	switch t.Arg {
	case ArgURL:
		if req == nil {
			return false
		}
		return t.matchString(req.URL)
	case ArgReqHeader:
		if req == nil {
			return false
		}
		v, ok := req.Headers[t.Field]
		if !ok {
			v = ""
		}
		return t.matchString(v)
	case ArgObjHeader:
		if obj == nil || obj.Headers == nil {
			return false
		}
		v, _ := obj.Headers(t.Field)
		return t.matchString(v)
	case ArgObjStatus:
		if obj == nil {
			return false
		}
		return t.matchOrdering(float64(obj.Status))
	case ArgTTL:
		return t.matchOrdering(objTimerFraction(obj, obj.Core.TTL))
	case ArgAge:
		if obj == nil {
			return false
		}
		return t.matchOrdering(obj.Now.Sub(obj.Core.TOrigin).Seconds())
	case ArgGrace:
		return t.matchOrdering(objTimerFraction(obj, obj.Core.Grace))
	case ArgKeep:
		return t.matchOrdering(objTimerFraction(obj, obj.Core.Keep))
	default:
		return false
	}
}

func objTimerFraction(obj *ObjectContext, d time.Duration) float64 {
	if obj == nil {
		return 0
	}
	return d.Seconds()
}

func (t *Test) matchString(v string) bool {
	switch t.Op {
	case OpEq:
		return v == t.Literal
	case OpNe:
		return v != t.Literal
	case OpMatch, OpNotMatch:
		ok, _ := t.regex.MatchString(v)
		if t.Op == OpNotMatch {
			return !ok
		}
		return ok
	default:
		return false
	}
}

func (t *Test) matchOrdering(v float64) bool {
	lit := t.Duration
	switch t.Op {
	case OpEq:
		return v == lit
	case OpNe:
		return v != lit
	case OpLt:
		return v < lit
	case OpLe:
		return v <= lit
	case OpGt:
		return v > lit
	case OpGe:
		return v >= lit
	default:
		return false
	}
}
