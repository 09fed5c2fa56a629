// Package policy defines the VCL-style hook interfaces cacheability and
// request-shaping decisions are delegated to. None of the built-in
// behavior here encodes a cacheability policy of its own beyond "always
// cacheable unless a hook says otherwise" (spec.md §7 Non-goals: "no
// cacheability policy").
package policy

import (
	"time"

	"github.com/reveno/cachecore/ban"
	"github.com/reveno/cachecore/digest"
	"github.com/reveno/cachecore/objcore"
	"github.com/reveno/cachecore/objindex"
)

// LookupPrepare derives the object index lookup parameters from whatever
// request representation the caller's transport layer uses (spec.md §6
// "lookup_prepare(request) -> digest, vary_key, req_ttl?, req_grace?,
// ignore_busy, ignore_vary, always_miss, hash_always_miss").
type LookupPrepare interface {
	LookupPrepare(req any) (digest.Fingerprint, *objindex.LookupRequest)
}

// HitClassifier decides whether a core that otherwise looks servable
// should instead be treated as HITMISS or HITPASS (spec.md §6
// "is_hitmiss(core) -> bool, is_hitpass(core) -> bool"). The object core's
// own flags are the default source of truth; a Hooks implementation may
// override based on out-of-band policy (e.g. VCL's beresp.uncacheable).
type HitClassifier interface {
	IsHitMiss(core *objcore.Core) bool
	IsHitPass(core *objcore.Core) bool
}

// BanChecker lets policy veto a candidate core during Lookup's walk beyond
// what the committed ban list already encodes (spec.md §6
// "ban_check_hook(worker, core, request) -> bool (may mark core dying)").
// Returning true asks the caller to kill core.
type BanChecker interface {
	BanCheck(core *objcore.Core, req *ban.RequestContext) bool
}

// Hooks bundles every VCL-style hook a cachecore facade consults. A nil
// field is treated as "no opinion": DefaultHooks below supplies harmless
// always-cacheable defaults for HitClass and BanCheck; it leaves
// LookupPrepare nil.
type Hooks struct {
	LookupPrepare LookupPrepare
	HitClass      HitClassifier
	BanCheck      BanChecker
}

// DefaultTTL is a conservative fallback freshness lifetime for
// LookupPrepare implementations to use when a request carries none. Nothing
// in this package applies it.
const DefaultTTL = 120 * time.Second

type defaultHooks struct{}

func (defaultHooks) IsHitMiss(core *objcore.Core) bool { return core.HasFlag(objcore.HitMiss) }
func (defaultHooks) IsHitPass(core *objcore.Core) bool { return core.HasFlag(objcore.HitPass) }
func (defaultHooks) BanCheck(core *objcore.Core, req *ban.RequestContext) bool { return false }

// DefaultHooks returns a Hooks whose HitClass/BanCheck fields defer
// entirely to the object core's own flags and the committed ban list
// (i.e. make no additional policy decision), for callers and tests that
// don't need a real VCL integration.
func DefaultHooks() Hooks {
	d := defaultHooks{}
	return Hooks{HitClass: d, BanCheck: d}
}
