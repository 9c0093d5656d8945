package register

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"formulabot/internal/formula"
)

// State is the submission workflow's position.
//
// The happy path is strictly ordered:
//
//	Init → Title → TitleEN → Body → ImageURL → Categories → Tags → Confirm → Committed
//
// Cancelled and TimedOut are terminal; a failed commit stays in Confirm so
// the user can retry without re-entering anything.
type State int

const (
	StateInit State = iota
	StateTitle
	StateTitleEN
	StateBody
	StateImageURL
	StateCategories
	StateTags
	StateConfirm
	StateCommitted
	StateCancelled
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateTitle:
		return "title"
	case StateTitleEN:
		return "title_en"
	case StateBody:
		return "body"
	case StateImageURL:
		return "image_url"
	case StateCategories:
		return "categories"
	case StateTags:
		return "tags"
	case StateConfirm:
		return "confirm"
	case StateCommitted:
		return "committed"
	case StateCancelled:
		return "cancelled"
	case StateTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Categories is the fixed enumeration offered at the category step.
var Categories = []string{"function", "implicit", "polar", "parametric", "inequality", "other"}

// Field limits at submission time.
const (
	MaxTitleRunes = 100
	MaxBodyRunes  = 1000
)

// skipSentinels let the user skip the optional secondary title.
var skipSentinels = map[string]bool{"-": true, "none": true, "skip": true}

// ValidationError rejects one step's input with an actionable message.
// The flow stays on the same step; the user simply tries again.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Msg }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Flow is one user's in-progress submission. It holds the draft and the
// tag-catalog snapshot taken at the tag step. Flow knows nothing about
// the chat platform; the plugin renders prompts from State and feeds
// validated inputs in.
type Flow struct {
	state State
	draft formula.Draft

	// catalog snapshot for index→id mapping; valid from StateTags on.
	tags []formula.Tag

	// committedID is set once the append succeeded.
	committedID string
}

func NewFlow() *Flow { return &Flow{state: StateInit} }

func (f *Flow) State() State         { return f.state }
func (f *Flow) Draft() formula.Draft { return f.draft }
func (f *Flow) Tags() []formula.Tag  { return f.tags }
func (f *Flow) CommittedID() string  { return f.committedID }
func (f *Flow) Terminal() bool {
	return f.state == StateCommitted || f.state == StateCancelled || f.state == StateTimedOut
}

// Start moves Init → Title. Any other state is a misuse.
func (f *Flow) Start() error {
	if f.state != StateInit {
		return fmt.Errorf("start from %s", f.state)
	}
	f.state = StateTitle
	return nil
}

// SubmitTitle validates and stores the required title.
func (f *Flow) SubmitTitle(text string) error {
	if f.state != StateTitle {
		return fmt.Errorf("title input in %s", f.state)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return invalid("title", "a title is required")
	}
	if n := utf8.RuneCountInString(text); n > MaxTitleRunes {
		return invalid("title", "too long: %d characters (max %d)", n, MaxTitleRunes)
	}
	f.draft.Title = text
	f.state = StateTitleEN
	return nil
}

// SubmitTitleEN stores the optional secondary-language title.
// "-", "none" or "skip" leaves it empty.
func (f *Flow) SubmitTitleEN(text string) error {
	if f.state != StateTitleEN {
		return fmt.Errorf("title_en input in %s", f.state)
	}
	text = strings.TrimSpace(text)
	if skipSentinels[strings.ToLower(text)] {
		text = ""
	}
	if n := utf8.RuneCountInString(text); n > MaxTitleRunes {
		return invalid("title_en", "too long: %d characters (max %d)", n, MaxTitleRunes)
	}
	f.draft.TitleEN = text
	f.state = StateBody
	return nil
}

// SubmitBody validates and stores the formula expression text.
func (f *Flow) SubmitBody(text string) error {
	if f.state != StateBody {
		return fmt.Errorf("body input in %s", f.state)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return invalid("formula", "the formula text is required")
	}
	if n := utf8.RuneCountInString(text); n > MaxBodyRunes {
		return invalid("formula", "too long: %d characters (max %d)", n, MaxBodyRunes)
	}
	f.draft.Body = text
	f.state = StateImageURL
	return nil
}

// SubmitImageURL validates the rendered-image URL. Only absolute http(s)
// URLs are accepted; anything else re-prompts the same step.
func (f *Flow) SubmitImageURL(text string) error {
	if f.state != StateImageURL {
		return fmt.Errorf("image_url input in %s", f.state)
	}
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "http://") && !strings.HasPrefix(text, "https://") {
		return invalid("image_url", "must be an absolute http:// or https:// URL")
	}
	f.draft.ImageURL = text
	f.state = StateCategories
	return nil
}

// ToggleCategory flips one category in the selection. Selection order is
// preserved: first toggle-on decides the position, toggle-off removes.
func (f *Flow) ToggleCategory(name string) error {
	if f.state != StateCategories {
		return fmt.Errorf("category toggle in %s", f.state)
	}
	if !validCategory(name) {
		return invalid("category", "unknown category %q", name)
	}
	for i, c := range f.draft.Categories {
		if c == name {
			f.draft.Categories = append(f.draft.Categories[:i], f.draft.Categories[i+1:]...)
			return nil
		}
	}
	f.draft.Categories = append(f.draft.Categories, name)
	return nil
}

// FinishCategories requires at least one selection, then advances to Tags.
func (f *Flow) FinishCategories() error {
	if f.state != StateCategories {
		return fmt.Errorf("category finish in %s", f.state)
	}
	if len(f.draft.Categories) == 0 {
		return invalid("category", "pick at least one category")
	}
	f.state = StateTags
	return nil
}

// SetTagCatalog installs the freshly fetched catalog the tag selection
// will index into. Must be called when entering StateTags.
func (f *Flow) SetTagCatalog(tags []formula.Tag) {
	f.tags = tags
}

// SubmitTagSelection parses a free-text selection ("1, 3" or "none"),
// maps indices to tag ids, and advances to Confirm.
func (f *Flow) SubmitTagSelection(input string) error {
	if f.state != StateTags {
		return fmt.Errorf("tag input in %s", f.state)
	}
	idx, err := ParseSelection(input, len(f.tags))
	if err != nil {
		return err
	}
	ids := make([]int, 0, len(idx))
	for _, i := range idx {
		ids = append(ids, f.tags[i-1].ID)
	}
	f.draft.TagIDs = ids
	f.state = StateConfirm
	return nil
}

// MarkCommitted records a successful append. Terminal.
func (f *Flow) MarkCommitted(id string) error {
	if f.state != StateConfirm {
		return fmt.Errorf("commit in %s", f.state)
	}
	f.committedID = id
	f.state = StateCommitted
	return nil
}

// Cancel discards the draft. Valid from any non-terminal state.
func (f *Flow) Cancel() {
	if f.Terminal() {
		return
	}
	f.draft = formula.Draft{}
	f.state = StateCancelled
}

// Expire marks the flow timed out. Valid from any non-terminal state.
func (f *Flow) Expire() {
	if f.Terminal() {
		return
	}
	f.draft = formula.Draft{}
	f.state = StateTimedOut
}

func validCategory(name string) bool {
	for _, c := range Categories {
		if c == name {
			return true
		}
	}
	return false
}

// CategorySelected reports whether name is currently toggled on.
func (f *Flow) CategorySelected(name string) bool {
	for _, c := range f.draft.Categories {
		if c == name {
			return true
		}
	}
	return false
}
