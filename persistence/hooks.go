package persistence

import "github.com/reveno/cachecore/ban"

// Store is what a stevedore-side collaborator implements to persist ban
// state across restarts (spec.md §4.2 "Persistence interface").
type Store interface {
	// BanInfoNew is called with one newly committed ban's wire encoding.
	// Returning true asks the caller to perform a full Export instead of
	// appending the single record (spec.md §6 "ban_info_new(bytes) -> bool
	// (true => request a full export)") — original_source's own backends
	// use this to fold many small appends into one compaction pass once a
	// size threshold is crossed.
	BanInfoNew(record []byte) bool

	// BanInfoDrop mirrors BanInfoNew for a ban being reaped.
	BanInfoDrop(record []byte) bool

	// BanExport persists a full export blob (spec.md §6 "ban_export").
	BanExport(blob []byte)
}

// Notifier drives a ban.List's Commit/Reap calls through a Store,
// following spec.md's new/drop/export protocol instead of persisting on
// every single mutation.
type Notifier struct {
	list  *ban.List
	store Store
}

// NewNotifier builds a Notifier over list/store.
func NewNotifier(list *ban.List, store Store) *Notifier {
	return &Notifier{list: list, store: store}
}

// NotifyCommitted reports a newly committed ban to the store, performing a
// full export if the store asks for one.
func (n *Notifier) NotifyCommitted(b *ban.Ban) {
	record := ban.Encode(b)
	if n.store.BanInfoNew(record) {
		n.store.BanExport(Export(n.list))
	}
}

// NotifyReaped reports a reaped ban to the store, likewise.
func (n *Notifier) NotifyReaped(b *ban.Ban) {
	record := ban.Encode(b)
	if n.store.BanInfoDrop(record) {
		n.store.BanExport(Export(n.list))
	}
}
