package cards

import (
	"strings"
	"time"
	"unicode"

	"cardexport/internal/assets"
	"cardexport/internal/records"
)

// ScheduleRow is one formatted admit card schedule line.
type ScheduleRow struct {
	Subject string
	Date    string
	Time    string
}

// Card is everything a template needs to draw one face: formatted values keyed by name, the
// schedule for admit cards, and resolved images (nil means placeholder).
type Card struct {
	Template Descriptor
	Values   map[string]string
	Schedule []ScheduleRow
	Photo    *assets.Asset
	Logo     *assets.Asset
}

// NewCard formats a record for a template. Every absent value becomes records.Placeholder.
// now only feeds "generated_on"; event may be nil for identity cards.
func NewCard(d Descriptor, p records.Person, in records.Institute, ev *records.AdmitEvent, now time.Time) Card {
	name := p.DisplayName()
	v := map[string]string{
		"name":               name,
		"first_name":         p.FirstName,
		"class":              p.ClassSection(),
		"roll_no":            p.RollNo.String(),
		"admission_no":       p.AdmissionNo.String(),
		"dob":                records.FormatDate(p.DateOfBirth),
		"blood_group":        p.BloodGroup,
		"father_name":        p.FatherName,
		"mother_name":        p.MotherName,
		"mobile":             p.Mobile.String(),
		"email":              p.Email,
		"address":            p.Address,
		"institute.name":     in.Name,
		"institute.address":  in.Address(),
		"institute.phone":    phoneLine(in),
		"institute.contact":  contactLine(in),
		"institute.initials": Initials(in.Name),
		"generated_on":       "Generated on " + records.FormatTime(now),
	}
	if ev != nil {
		v["event.name"] = ev.Name
		v["event.session"] = ev.Session
		v["event.title"] = joinNonEmpty(" | ", ev.Name, ev.Session)
		v["event.dates"] = dateRange(ev.StartDate, ev.EndDate)
	}
	for k, s := range v {
		if strings.TrimSpace(s) == "" {
			v[k] = records.Placeholder
		}
	}
	for _, k := range []string{"event.name", "event.session", "event.title", "event.dates"} {
		if _, ok := v[k]; !ok {
			v[k] = records.Placeholder
		}
	}
	v["qr"] = VerificationCode(p, in)

	c := Card{Template: d, Values: v}
	if ev != nil {
		for _, s := range ev.Schedule {
			c.Schedule = append(c.Schedule, ScheduleRow{
				Subject: orPlaceholder(s.Subject),
				Date:    orPlaceholder(records.FormatDate(s.Date)),
				Time:    orPlaceholder(s.Timing()),
			})
		}
	}
	return c
}

// Value returns the formatted value for key, or the placeholder.
func (c Card) Value(key string) string {
	if s, ok := c.Values[key]; ok && s != "" {
		return s
	}
	return records.Placeholder
}

// Asset returns the image for a slot name.
func (c Card) Asset(slot string) *assets.Asset {
	switch slot {
	case "photo":
		return c.Photo
	case "logo":
		return c.Logo
	}
	return nil
}

// VerificationCode is the QR payload: "institute|admission-or-roll|name".
func VerificationCode(p records.Person, in records.Institute) string {
	ref := p.AdmissionNo.Or(p.RollNo.Or(records.Placeholder))
	return strings.Join([]string{
		orPlaceholder(in.Name),
		ref,
		orPlaceholder(p.DisplayName()),
	}, "|")
}

// Initials returns up to two uppercase initials of a name, "?" when there are none.
func Initials(name string) string {
	var out []rune
	for _, w := range strings.Fields(name) {
		r := []rune(w)[0]
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		out = append(out, unicode.ToUpper(r))
		if len(out) == 2 {
			break
		}
	}
	if len(out) == 0 {
		return "?"
	}
	return string(out)
}

func phoneLine(in records.Institute) string {
	if ph := in.Phone.Or(""); ph != "" {
		return "Ph: " + ph
	}
	return ""
}

func contactLine(in records.Institute) string {
	var email string
	if e := strings.TrimSpace(in.Email); e != "" {
		email = "Email: " + e
	}
	return joinNonEmpty(" | ", phoneLine(in), email)
}

func dateRange(start, end string) string {
	a, b := records.FormatDate(start), records.FormatDate(end)
	switch {
	case a != "" && b != "" && a != b:
		return a + " to " + b
	case a != "":
		return a
	default:
		return b
	}
}

func joinNonEmpty(sep string, parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return records.Placeholder
	}
	return s
}
