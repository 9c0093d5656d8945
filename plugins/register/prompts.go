package register

import (
	"fmt"
	"strings"

	catalog "formulabot/internal/formula"
	"formulabot/internal/register"
	"formulabot/pkg/tgui"
	tele "gopkg.in/telebot.v4"
)

const (
	promptTitle    = "New formula. Send the title."
	promptTitleEN  = "Send the English title, or \"skip\"."
	promptBody     = "Send the formula expression."
	promptImageURL = "Send the image URL (http:// or https://)."
	promptCategory = "Pick one or more categories, then press Done."
)

// categoryKeyboard renders the toggle grid. Selected entries carry a
// check mark so the edited message reflects the current pick.
func categoryKeyboard(s *register.Session) *tele.ReplyMarkup {
	kb := tgui.NewInline()
	var row []tele.Btn
	for _, name := range register.Categories {
		label := name
		if s.Flow.CategorySelected(name) {
			label = "✅ " + name
		}
		row = append(row, tgui.Btn(label, tgui.Data("register", "cat", s.ID+":"+name)))
		if len(row) == 2 {
			kb.Row(row...)
			row = nil
		}
	}
	if len(row) > 0 {
		kb.Row(row...)
	}
	kb.Row(
		tgui.Btn("Done", tgui.Data("register", "catdone", s.ID)),
		tgui.Btn("Cancel", tgui.Data("register", "abort", s.ID)),
	)
	return kb.Markup()
}

// tagPrompt lists the tag catalog with 1-based numbers for selection.
func tagPrompt(tags []catalog.Tag) string {
	if len(tags) == 0 {
		return "No tags are defined. Reply \"none\" to continue."
	}
	var b strings.Builder
	b.WriteString("Pick tags by number, comma separated (e.g. 1, 3), or reply \"none\".")
	for i, t := range tags {
		b.WriteString(fmt.Sprintf("\n%d. %s", i+1, t.Name))
	}
	return b.String()
}

// confirmSummary shows the full draft before commit.
func confirmSummary(s *register.Session) string {
	d := s.Flow.Draft()

	var b strings.Builder
	b.WriteString(tgui.B("Ready to submit").String())
	b.WriteString("\n")
	b.WriteString(tgui.B(d.Title).String())
	if d.TitleEN != "" {
		b.WriteString(" ")
		b.WriteString(tgui.I(d.TitleEN).String())
	}
	b.WriteString("\n")
	b.WriteString(tgui.Code(d.Body).String())
	b.WriteString("\n")
	b.WriteString(tgui.Esc(strings.Join(d.Categories, ", ")).String())
	if names := tagNamesFor(d.TagIDs, s.Flow.Tags()); names != "" {
		b.WriteString("\n")
		b.WriteString(tgui.Esc(names).String())
	}
	b.WriteString("\n")
	b.WriteString(tgui.Link("image", d.ImageURL).String())
	return b.String()
}

func confirmKeyboard(s *register.Session) *tele.ReplyMarkup {
	return tgui.ConfirmInline(
		tgui.Btn("Submit", tgui.Data("register", "confirm", s.ID)),
		tgui.Btn("Cancel", tgui.Data("register", "abort", s.ID)),
	).Markup()
}

func tagNamesFor(ids []int, tags []catalog.Tag) string {
	if len(ids) == 0 {
		return ""
	}
	byID := make(map[int]string, len(tags))
	for _, t := range tags {
		byID[t.ID] = t.Name
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if n := byID[id]; n != "" {
			parts = append(parts, "#"+n)
		}
	}
	return strings.Join(parts, " ")
}
