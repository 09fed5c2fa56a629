package ban

import (
	"fmt"
	"io"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/olekukonko/tablewriter"
)

// entryView is the JSON shape of one ban in ban.list output (SPEC_FULL §5,
// supplemented from the original implementation's ban_list CLI JSON).
type entryView struct {
	Timestamp float64  `json:"timestamp"`
	Refs      int32    `json:"refs"`
	Flags     string   `json:"flags"`
	Req       bool     `json:"req"`
	Completed bool     `json:"completed"`
	Predicate []string `json:"predicate"`
}

func toView(b *Ban) entryView {
	pred := make([]string, 0, len(b.tests))
	for _, t := range b.tests {
		lit := t.Literal
		if t.Arg.isDuration() {
			lit = strconv.FormatFloat(t.Duration, 'g', -1, 64)
		}
		if t.Arg.hasField() {
			pred = append(pred, fmt.Sprintf("%s(%s) %s %q", t.Arg, t.Field, t.Op, lit))
		} else {
			pred = append(pred, fmt.Sprintf("%s %s %q", t.Arg, t.Op, lit))
		}
	}
	return entryView{
		Timestamp: b.timestamp,
		Refs:      b.Refcount(),
		Flags:     flagString(b.Flags()),
		Req:       b.IsReq(),
		Completed: b.IsCompleted(),
		Predicate: pred,
	}
}

func flagString(f Flag) string {
	s := ""
	if f&FlagReq != 0 {
		s += "R"
	}
	if f&FlagObj != 0 {
		s += "O"
	}
	if f&FlagCompleted != 0 {
		s += "C"
	}
	if f&FlagNodedup != 0 {
		s += "D"
	}
	if s == "" {
		return "-"
	}
	return s
}

// RenderJSON writes the ban list as a JSON array, newest first.
func RenderJSON(w io.Writer, bans []*Ban) error {
	views := make([]entryView, len(bans))
	for i, b := range bans {
		views[i] = toView(b)
	}
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	return enc.Encode(views)
}

// RenderTable writes the ban list as a human-readable table (the CLI's
// default ban.list rendering).
func RenderTable(w io.Writer, bans []*Ban) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Timestamp", "Refs", "Flags", "Predicate"})
	table.SetAutoWrapText(false)
	for _, b := range bans {
		v := toView(b)
		pred := ""
		for i, p := range v.Predicate {
			if i > 0 {
				pred += " && "
			}
			pred += p
		}
		table.Append([]string{
			strconv.FormatFloat(v.Timestamp, 'f', 6, 64),
			strconv.FormatInt(int64(v.Refs), 10),
			v.Flags,
			pred,
		})
	}
	table.Render()
}
