package records

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Placeholder is what every absent optional field renders as.
const Placeholder = "N/A"

// Text is a string that also accepts JSON numbers, booleans and null.
// Backend payloads are loosely typed (roll_no arrives as 12 or "12"), so coercion happens here once.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(strings.TrimSpace(s))
	case 't', 'f':
		var v bool
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*t = Text(strconv.FormatBool(v))
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*t = Text(n.String())
	}
	return nil
}

// String returns the raw value.
func (t Text) String() string { return string(t) }

// Or returns the value, or fallback when empty.
func (t Text) Or(fallback string) string {
	if s := strings.TrimSpace(string(t)); s != "" {
		return s
	}
	return fallback
}

// Person is a student (or anyone else who gets a card).
type Person struct {
	ID          Text   `json:"id"`
	FirstName   string `json:"first_name" validate:"required_without=Name"`
	MiddleName  string `json:"middle_name"`
	LastName    string `json:"last_name"`
	Name        string `json:"name" validate:"required_without=FirstName"`
	Class       Text   `json:"class"`
	Section     Text   `json:"section"`
	RollNo      Text   `json:"roll_no"`
	AdmissionNo Text   `json:"admission_no"`
	DateOfBirth string `json:"dob"`
	BloodGroup  string `json:"blood_group"`
	FatherName  string `json:"father_name"`
	MotherName  string `json:"mother_name"`
	Mobile      Text   `json:"mobile" validate:"omitempty,max=20"`
	Email       string `json:"email" validate:"omitempty,email"`
	Address     string `json:"address"`
	PhotoURL    string `json:"photo_url" validate:"omitempty,url"`
}

// DisplayName joins the non-empty name parts. A full Name wins over the split fields.
func (p Person) DisplayName() string {
	if n := strings.TrimSpace(p.Name); n != "" {
		return collapseSpaces(n)
	}
	parts := make([]string, 0, 3)
	for _, s := range []string{p.FirstName, p.MiddleName, p.LastName} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// ClassSection renders "10 - A", "10" or "" depending on what is known.
func (p Person) ClassSection() string {
	c, s := p.Class.Or(""), p.Section.Or("")
	switch {
	case c != "" && s != "":
		return c + " - " + s
	case c != "":
		return c
	default:
		return s
	}
}

// Institute is the school printed on every card in a batch.
type Institute struct {
	ID       Text   `json:"id"`
	Name     string `json:"name" validate:"required"`
	Street   string `json:"street"`
	District string `json:"district"`
	State    string `json:"state"`
	Pincode  Text   `json:"pincode"`
	Phone    Text   `json:"phone"`
	Email    string `json:"email" validate:"omitempty,email"`
	LogoURL  string `json:"logo_url" validate:"omitempty,url"`
}

// Address composes "street, district, state - pincode" from the parts that are present.
func (in Institute) Address() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{in.Street, in.District, in.State} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	addr := strings.Join(parts, ", ")
	if pin := in.Pincode.Or(""); pin != "" {
		if addr == "" {
			return pin
		}
		addr += " - " + pin
	}
	return addr
}

// ExamSlot is one row of an admit card schedule.
type ExamSlot struct {
	Subject   string `json:"subject" validate:"required"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Timing renders "10:00 - 13:00", a single bound, or "".
func (s ExamSlot) Timing() string {
	a, b := strings.TrimSpace(s.StartTime), strings.TrimSpace(s.EndTime)
	switch {
	case a != "" && b != "":
		return a + " - " + b
	case a != "":
		return a
	default:
		return b
	}
}

// AdmitEvent is an examination that admit cards are printed for.
type AdmitEvent struct {
	ID        Text       `json:"id"`
	Name      string     `json:"name" validate:"required"`
	Session   string     `json:"session"`
	StartDate string     `json:"start_date"`
	EndDate   string     `json:"end_date"`
	Schedule  []ExamSlot `json:"schedule" validate:"dive"`
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
