package cli

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/client"
	"github.com/frobware/go-bfrt/entryfmt"
)

func formatJSON(v any) (string, error) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(output) + "\n", nil
}

func itemStrings(items []entryfmt.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.String()
	}
	return out
}

type entryView struct {
	Key  []string `json:"key"`
	Data []string `json:"data"`
}

func entryViews(entries []client.Entry) []entryView {
	views := make([]entryView, len(entries))
	for i, e := range entries {
		views[i] = entryView{Key: itemStrings(e.Key), Data: itemStrings(e.Data)}
	}
	return views
}

// FormatEntries formats entries one per line as "KEY -> DATA".
func FormatEntries(entries []client.Entry, flags *OutputFlags) (string, error) {
	if flags.Format() == OutputFormatJSON {
		return formatJSON(entryViews(entries))
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s -> %s\n", entryfmt.Join(e.Key), entryfmt.Join(e.Data))
	}
	return b.String(), nil
}

// FormatPage formats one GetEntries batch and its session.
func FormatPage(page client.Page, flags *OutputFlags) (string, error) {
	if flags.Format() == OutputFormatJSON {
		return formatJSON(struct {
			Session string      `json:"session"`
			Entries []entryView `json:"entries"`
		}{page.Session, entryViews(page.Entries)})
	}
	out, err := FormatEntries(page.Entries, flags)
	if err != nil {
		return "", err
	}
	return out + "session: " + page.Session + "\n", nil
}

// FormatItems formats a data record.
func FormatItems(items []entryfmt.Item, flags *OutputFlags) (string, error) {
	if flags.Format() == OutputFormatJSON {
		return formatJSON(itemStrings(items))
	}
	return entryfmt.Join(items) + "\n", nil
}

// FormatProgram formats a program description as two tables.
func FormatProgram(prog client.Program, flags *OutputFlags) (string, error) {
	if flags.Format() == OutputFormatJSON {
		return formatJSON(prog)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Program %s on dev%d\n\n", prog.Name, prog.Device)

	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tKIND\tSIZE\tKEY\tACTIONS\tFLAGS")
	for _, t := range prog.Tables {
		var attrs []string
		if t.Idle {
			attrs = append(attrs, "idle")
		}
		if t.Immutable {
			attrs = append(attrs, "immutable")
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			t.Name, t.Kind, t.Size,
			strings.Join(t.Key, ","), strings.Join(t.Actions, ","), strings.Join(attrs, ","))
	}
	w.Flush()

	if len(prog.Profiles) > 0 {
		b.WriteString("\n")
		w = tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PROFILE\tSIZE\tSELECTOR")
		for _, p := range prog.Profiles {
			fmt.Fprintf(w, "%s\t%d\t%t\n", p.Name, p.Size, p.Selector)
		}
		w.Flush()
	}
	return b.String(), nil
}

// FormatIdle formats an aging configuration.
func FormatIdle(cfg bfrt.IdleConfig, flags *OutputFlags) (string, error) {
	if flags.Format() == OutputFormatJSON {
		return formatJSON(cfg)
	}
	return fmt.Sprintf("mode: %s\nenabled: %t\nquery_interval: %dms\nmax_ttl: %dms\nmin_ttl: %dms\n",
		cfg.Mode, cfg.Enabled, cfg.QueryInterval, cfg.MaxTTL, cfg.MinTTL), nil
}

// FormatGroups formats selector groups.
func FormatGroups(groups []bfrt.Group, flags *OutputFlags) (string, error) {
	if flags.Format() == OutputFormatJSON {
		type groupView struct {
			ID      bfrt.GroupID    `json:"id"`
			MaxSize uint32          `json:"max_size"`
			Members []bfrt.MemberID `json:"members"`
		}
		views := make([]groupView, len(groups))
		for i, g := range groups {
			views[i] = groupView{ID: g.ID, MaxSize: g.MaxSize, Members: g.Members}
		}
		return formatJSON(views)
	}
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GROUP\tMAX SIZE\tMEMBERS")
	for _, g := range groups {
		fmt.Fprintf(w, "%d\t%d\t%s\n", g.ID, g.MaxSize, memberString(g.Members))
	}
	w.Flush()
	return b.String(), nil
}

// FormatMembers formats a list of member ids.
func FormatMembers(ids []bfrt.MemberID, flags *OutputFlags) (string, error) {
	if flags.Format() == OutputFormatJSON {
		if ids == nil {
			ids = []bfrt.MemberID{}
		}
		return formatJSON(ids)
	}
	var b strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&b, "%d\n", id)
	}
	return b.String(), nil
}

// FormatUsage formats entry counts by table, sorted by name.
func FormatUsage(usage map[string]uint32, flags *OutputFlags) (string, error) {
	if flags.Format() == OutputFormatJSON {
		return formatJSON(usage)
	}
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tENTRIES")
	for _, name := range slices.Sorted(maps.Keys(usage)) {
		fmt.Fprintf(w, "%s\t%d\n", name, usage[name])
	}
	w.Flush()
	return b.String(), nil
}

func memberString(ids []bfrt.MemberID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ",")
}
