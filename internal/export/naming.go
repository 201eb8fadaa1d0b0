package export

import (
	"strconv"
	"strings"
	"unicode"

	"cardexport/internal/cards"
	"cardexport/internal/records"
)

func nameRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) || r == '.' || r == '-' || r == '_'
}

// Sanitize turns free text into a file name component. Letters and digits of any script are kept;
// runs of anything else (separators, spaces, punctuation, control characters) collapse to "_".
func Sanitize(s string) string {
	var b strings.Builder
	gap := false
	for _, r := range strings.TrimSpace(s) {
		if !nameRune(r) {
			gap = true
			continue
		}
		if gap && b.Len() > 0 {
			b.WriteByte('_')
		}
		gap = false
		b.WriteRune(r)
	}
	out := strings.Trim(b.String(), "_.")
	if out == "" {
		return "card"
	}
	return out
}

// EntryName is the ZIP entry name of record index: "{displayName}_{rollNo or index+1}.jpg".
func EntryName(p records.Person, index int) string {
	return Sanitize(p.DisplayName()) + "_" + Sanitize(entryRef(p, index)) + ".jpg"
}

func entryRef(p records.Person, index int) string {
	return p.RollNo.Or(strconv.Itoa(index + 1))
}

// entryNames assigns ZIP entry names within one batch. Records sharing display name and roll number
// map to the same entry (last write wins); distinct records whose names only meet after sanitizing
// get the record position appended instead.
type entryNames struct {
	byKey map[string]string
	taken map[string]string
}

func newEntryNames() *entryNames {
	return &entryNames{byKey: make(map[string]string), taken: make(map[string]string)}
}

func (n *entryNames) next(p records.Person, index int) string {
	key := p.DisplayName() + "\x00" + entryRef(p, index)
	if name, ok := n.byKey[key]; ok {
		return name
	}
	name := EntryName(p, index)
	stem := strings.TrimSuffix(name, ".jpg") + "_" + strconv.Itoa(index+1)
	for i := 1; ; i++ {
		owner, ok := n.taken[name]
		if !ok || owner == key {
			break
		}
		name = stem + ".jpg"
		if i > 1 {
			name = stem + "_" + strconv.Itoa(i) + ".jpg"
		}
	}
	n.byKey[key] = name
	n.taken[name] = key
	return name
}

// DefaultOutputName derives "{identifier}_{ArtifactKind}" for a batch: "IDs_Batch_10_A" for
// identity cards, "Annual_Exam_Admit_Cards" for admit cards.
func DefaultOutputName(d cards.Descriptor, people []records.Person, ev *records.AdmitEvent) string {
	if d.Kind == cards.AdmitCard {
		name := "Exam"
		if ev != nil && strings.TrimSpace(ev.Name) != "" {
			name = ev.Name
		}
		return Sanitize(name) + "_Admit_Cards"
	}
	parts := []string{"IDs", "Batch"}
	if len(people) > 0 {
		class, section := people[0].Class.Or(""), people[0].Section.Or("")
		for _, p := range people[1:] {
			if p.Class.Or("") != class {
				class = ""
			}
			if p.Section.Or("") != section {
				section = ""
			}
		}
		for _, s := range []string{class, section} {
			if s != "" {
				parts = append(parts, Sanitize(s))
			}
		}
	}
	return strings.Join(parts, "_")
}

// SingleName names a one-card download: "{person}_{ArtifactKind}".
func SingleName(d cards.Descriptor, p records.Person) string {
	kind := "ID_Card"
	if d.Kind == cards.AdmitCard {
		kind = "Admit_Card"
	}
	return Sanitize(p.DisplayName()) + "_" + kind
}

// FileName appends the format extension to a base name unless it is already there.
func FileName(base string, f Format) string {
	base = Sanitize(base)
	ext := "." + string(f)
	if strings.HasSuffix(strings.ToLower(base), ext) {
		return base
	}
	return base + ext
}
