package formula

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ReferenceZone is the fixed timezone the catalog stores timestamps in.
// Day boundaries for "new since" computations are taken in this zone.
var ReferenceZone = time.FixedZone("JST", 9*60*60)

// createdAtLayout is the spreadsheet's timestamp format.
const createdAtLayout = "2006/01/02 15:04:05"

// Record is one formula artifact stored in the catalog.
// Records are immutable from this bot's point of view: created through
// Append (or the external review pipeline), never edited or deleted here.
type Record struct {
	ID      string
	Title   string
	TitleEN string
	Body    string // formula expression text
	// Categories in the user's selection order.
	Categories []string
	// TagIDs referencing the tag catalog.
	TagIDs   []int
	ImageURL string
	// CreatedAt is assigned by the store; the ordering and "new since" key.
	CreatedAt time.Time
}

// recordWire mirrors the catalog API's row shape:
// id, title, title_EN, formula, formula_type, tags, image_url, timestamp.
type recordWire struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	TitleEN   string `json:"title_EN"`
	Formula   string `json:"formula"`
	Type      string `json:"formula_type"`
	Tags      string `json:"tags"`
	ImageURL  string `json:"image_url"`
	Timestamp string `json:"timestamp"`
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var w recordWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	r.ID = w.ID
	r.Title = w.Title
	r.TitleEN = w.TitleEN
	r.Body = w.Formula
	r.Categories = splitCSV(w.Type)
	r.TagIDs = splitIDs(w.Tags)
	r.ImageURL = w.ImageURL
	r.CreatedAt = time.Time{}
	if ts := strings.TrimSpace(w.Timestamp); ts != "" {
		// Rows with unparseable timestamps keep a zero CreatedAt; the
		// day filter skips them rather than failing the whole fetch.
		if t, err := time.ParseInLocation(createdAtLayout, ts, ReferenceZone); err == nil {
			r.CreatedAt = t
		}
	}
	return nil
}

func (r Record) MarshalJSON() ([]byte, error) {
	w := recordWire{
		ID:       r.ID,
		Title:    r.Title,
		TitleEN:  r.TitleEN,
		Formula:  r.Body,
		Type:     strings.Join(r.Categories, ", "),
		Tags:     joinIDs(r.TagIDs),
		ImageURL: r.ImageURL,
	}
	if !r.CreatedAt.IsZero() {
		w.Timestamp = r.CreatedAt.In(ReferenceZone).Format(createdAtLayout)
	}
	return json.Marshal(w)
}

// Tag is one entry of the tag catalog.
type Tag struct {
	ID     int
	Name   string
	NameEN string
}

// tagWire tolerates both string and numeric tagID values, which the
// spreadsheet API emits inconsistently.
type tagWire struct {
	ID     json.Number `json:"tagID"`
	Name   string      `json:"tagName"`
	NameEN string      `json:"tagName_EN"`
}

func (t *Tag) UnmarshalJSON(b []byte) error {
	var w tagWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	id, err := strconv.Atoi(strings.TrimSpace(w.ID.String()))
	if err != nil {
		return err
	}
	t.ID = id
	t.Name = w.Name
	t.NameEN = w.NameEN
	return nil
}

// Draft is a not-yet-committed Record assembled by the submission workflow.
// The store assigns ID and CreatedAt on append.
type Draft struct {
	Title      string
	TitleEN    string
	Body       string
	Categories []string
	TagIDs     []int
	ImageURL   string
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitIDs(s string) []int {
	var out []int
	for _, p := range splitCSV(s) {
		if n, err := strconv.Atoi(p); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func joinIDs(ids []int) string {
	if len(ids) == 0 {
		return ""
	}
	ss := make([]string, len(ids))
	for i, id := range ids {
		ss[i] = strconv.Itoa(id)
	}
	return strings.Join(ss, ",")
}
