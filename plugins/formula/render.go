package formula

import (
	"strings"

	catalog "formulabot/internal/formula"
	"formulabot/pkg/tgui"
)

// recordCard renders one record as an HTML message body.
func recordCard(r catalog.Record, tagNames map[int]string) string {
	var b strings.Builder
	b.WriteString(tgui.B(r.Title).String())
	if r.TitleEN != "" {
		b.WriteString(" ")
		b.WriteString(tgui.I(r.TitleEN).String())
	}
	b.WriteString("\n")
	b.WriteString(tgui.Code(r.Body).String())

	if len(r.Categories) > 0 {
		b.WriteString("\n")
		b.WriteString(tgui.Esc(strings.Join(r.Categories, ", ")).String())
	}
	if names := tagLine(r.TagIDs, tagNames); names != "" {
		b.WriteString("\n")
		b.WriteString(tgui.Esc(names).String())
	}
	if !r.CreatedAt.IsZero() {
		b.WriteString("\n")
		b.WriteString(tgui.I(r.CreatedAt.In(catalog.ReferenceZone).Format("2006-01-02")).String())
	}
	return b.String()
}

// recordLine renders one record as a single list row.
func recordLine(r catalog.Record) string {
	title := tgui.TruncRunes(r.Title, 60)
	return tgui.Code(r.ID).String() + " " + tgui.Esc(title).String()
}

func tagLine(ids []int, names map[int]string) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if n, ok := names[id]; ok && n != "" {
			parts = append(parts, "#"+n)
		}
	}
	return strings.Join(parts, " ")
}
