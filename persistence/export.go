// Package persistence implements the ban export/import black box: turning
// the committed ban list into a byte blob a stevedore can persist, and
// reloading one back (spec.md §4.2 "Persistence interface", §6
// "ban_info_new"/"ban_info_drop"/"ban_export").
package persistence

import (
	"encoding/binary"
	"fmt"

	"github.com/reveno/cachecore/ban"
)

// Export renders every ban currently in list as a single self-delimiting
// byte blob: each ban's own wire encoding already carries its total length
// (ban.Encode's header), so bans are simply concatenated back to back
// (original_source/bin/varnishd/cache/cache_ban.c's full ban list export
// path, `ban_export`).
func Export(list *ban.List) []byte {
	snap := list.Snapshot()
	var out []byte
	for _, b := range snap {
		out = append(out, ban.Encode(b)...)
	}
	return out
}

// Import decodes blob (as produced by Export or accumulated incrementally
// via BanInfoNew) and commits every ban it contains into list, oldest
// first so the resulting list's newest-first order matches the order the
// bans were originally committed in.
func Import(list *ban.List, blob []byte, now float64) (int, error) {
	decoded, err := splitBans(blob)
	if err != nil {
		return 0, err
	}
	for i := len(decoded) - 1; i >= 0; i-- {
		if err := list.Reload(decoded[i]); err != nil {
			return 0, fmt.Errorf("persistence: import ban %d: %w", i, err)
		}
	}
	return len(decoded), nil
}

// splitBans walks blob, decoding one ban.Encode-framed record at a time by
// reading each record's own length prefix (bytes 8-11 of its header).
func splitBans(blob []byte) ([]*ban.Ban, error) {
	const headerLenOffset = 8
	const minHeader = 16

	var out []*ban.Ban
	for len(blob) > 0 {
		if len(blob) < minHeader {
			return nil, fmt.Errorf("persistence: truncated ban record (%d bytes left)", len(blob))
		}
		total := int(binary.BigEndian.Uint32(blob[headerLenOffset : headerLenOffset+4]))
		if total < minHeader || total > len(blob) {
			return nil, fmt.Errorf("persistence: invalid ban record length %d", total)
		}
		b, err := ban.Decode(blob[:total])
		if err != nil {
			return nil, err
		}
		out = append(out, b)
		blob = blob[total:]
	}
	return out, nil
}
