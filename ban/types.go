// Package ban implements the invalidation-predicate list and its background
// lurker (spec.md §4.2): a monotonic, append-only, newest-first list of
// bans, evaluated lazily at lookup time and eagerly by a background sweep.
package ban

import (
	"fmt"

	"github.com/dlclark/regexp2"
)

// Arg identifies what a ban test compares against (spec.md §4.2
// "Predicate encoding").
type Arg byte

const (
	ArgURL Arg = iota + 1
	ArgReqHeader
	ArgObjHeader
	ArgObjStatus
	ArgTTL
	ArgAge
	ArgGrace
	ArgKeep
)

func (a Arg) String() string {
	switch a {
	case ArgURL:
		return "req.url"
	case ArgReqHeader:
		return "req.http"
	case ArgObjHeader:
		return "obj.http"
	case ArgObjStatus:
		return "obj.status"
	case ArgTTL:
		return "obj.ttl"
	case ArgAge:
		return "obj.age"
	case ArgGrace:
		return "obj.grace"
	case ArgKeep:
		return "obj.keep"
	default:
		return "unknown"
	}
}

// hasField reports whether this argument is a header-family selector that
// carries a field name (spec.md §4.2: "optional length-prefixed field name
// (for header-family selectors)").
func (a Arg) hasField() bool {
	return a == ArgReqHeader || a == ArgObjHeader
}

// isDuration reports whether this argument's literal is an IEEE-754
// number (a duration or a status code) rather than a string.
func (a Arg) isDuration() bool {
	switch a {
	case ArgTTL, ArgAge, ArgGrace, ArgKeep, ArgObjStatus:
		return true
	default:
		return false
	}
}

// Op is a ban test comparison operator.
type Op byte

const (
	OpEq Op = iota + 1
	OpNe
	OpMatch
	OpNotMatch
	OpLt
	OpLe
	OpGt
	OpGe
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpMatch:
		return "~"
	case OpNotMatch:
		return "!~"
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	default:
		return "?"
	}
}

func (o Op) isRegex() bool { return o == OpMatch || o == OpNotMatch }

func (o Op) isOrdering() bool {
	switch o {
	case OpLt, OpLe, OpGt, OpGe:
		return true
	default:
		return false
	}
}

// validMatrix encodes spec.md §4.2's "Argument/operator pairs are validated
// at build time per a fixed matrix": string-valued arguments support
// equality and regex; duration-valued arguments support equality and
// ordering, never regex.
var validMatrix = map[Arg]map[Op]bool{
	ArgURL:       {OpEq: true, OpNe: true, OpMatch: true, OpNotMatch: true},
	ArgReqHeader: {OpEq: true, OpNe: true, OpMatch: true, OpNotMatch: true},
	ArgObjHeader: {OpEq: true, OpNe: true, OpMatch: true, OpNotMatch: true},
	ArgObjStatus: {OpEq: true, OpNe: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true},
	ArgTTL:       {OpEq: true, OpNe: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true},
	ArgAge:       {OpEq: true, OpNe: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true},
	ArgGrace:     {OpEq: true, OpNe: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true},
	ArgKeep:      {OpEq: true, OpNe: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true},
}

func validate(a Arg, o Op) error {
	ops, ok := validMatrix[a]
	if !ok {
		return fmt.Errorf("ban: unknown argument %v", a)
	}
	if !ops[o] {
		return fmt.Errorf("ban: operator %v not valid for argument %v", o, a)
	}
	return nil
}

// Test is one (argument-selector, operator, literal) triple (spec.md §4.2).
type Test struct {
	Arg   Arg
	Field string // header name, only meaningful when Arg.hasField()
	Op    Op

	Literal  string        // string comparison / regex source
	Duration float64       // seconds, only meaningful when Arg.isDuration()
	regex    *regexp2.Regexp // compiled lazily by compileRegex
}

func (t *Test) compileRegex() error {
	if !t.Op.isRegex() {
		return nil
	}
	re, err := regexp2.Compile(t.Literal, regexp2.None)
	if err != nil {
		return fmt.Errorf("ban: invalid regex %q: %w", t.Literal, err)
	}
	t.regex = re
	return nil
}
