package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"cardexport/internal/auth"
	"cardexport/internal/records"
)

// Repository reads card records straight from the school database. It never writes.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const studentColumns = `
	id::text, COALESCE(first_name, ''), COALESCE(middle_name, ''), COALESCE(last_name, ''),
	COALESCE(class, ''), COALESCE(section, ''), COALESCE(roll_no, ''), COALESCE(admission_no, ''),
	COALESCE(to_char(dob, 'YYYY-MM-DD'), ''), COALESCE(blood_group, ''),
	COALESCE(father_name, ''), COALESCE(mother_name, ''), COALESCE(mobile, ''),
	COALESCE(email, ''), COALESCE(address, ''), COALESCE(photo_url, '')`

type scanner interface {
	Scan(dest ...any) error
}

func scanPerson(row scanner) (records.Person, error) {
	var p records.Person
	err := row.Scan(&p.ID, &p.FirstName, &p.MiddleName, &p.LastName,
		&p.Class, &p.Section, &p.RollNo, &p.AdmissionNo,
		&p.DateOfBirth, &p.BloodGroup,
		&p.FatherName, &p.MotherName, &p.Mobile,
		&p.Email, &p.Address, &p.PhotoURL)
	return p, err
}

// Students lists students of the filter's institute ordered by class, section and roll number.
func (r *Repository) Students(ctx context.Context, sess auth.Session, f Filter) ([]records.Person, error) {
	inst := f.InstituteID
	if inst == "" {
		inst = sess.InstituteID
	}
	if inst == "" {
		return nil, errors.New("institute id required")
	}
	query := `SELECT` + studentColumns + ` FROM students`
	args := []any{inst}
	clauses := []string{"institute_id::text = $1"}
	if f.Class != "" {
		args = append(args, f.Class)
		clauses = append(clauses, fmt.Sprintf("class = $%d", len(args)))
	}
	if f.Section != "" {
		args = append(args, f.Section)
		clauses = append(clauses, fmt.Sprintf("section = $%d", len(args)))
	}
	query += " WHERE " + strings.Join(clauses, " AND ") + " ORDER BY class, section, roll_no, first_name"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}
	defer rows.Close()
	var res []records.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// Student returns one student of the session's institute.
func (r *Repository) Student(ctx context.Context, sess auth.Session, id string) (records.Person, error) {
	query := `SELECT` + studentColumns + ` FROM students WHERE id::text = $1`
	args := []any{id}
	if sess.InstituteID != "" {
		query += " AND institute_id::text = $2"
		args = append(args, sess.InstituteID)
	}
	p, err := scanPerson(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return records.Person{}, fmt.Errorf("%w: student %s", ErrNotFound, id)
	}
	if err != nil {
		return records.Person{}, fmt.Errorf("get student: %w", err)
	}
	return p, nil
}

// Institute returns an institute profile.
func (r *Repository) Institute(ctx context.Context, _ auth.Session, id string) (records.Institute, error) {
	var in records.Institute
	err := r.db.QueryRowContext(ctx, `
		SELECT id::text, name, COALESCE(street, ''), COALESCE(district, ''), COALESCE(state, ''),
			COALESCE(pincode, ''), COALESCE(phone, ''), COALESCE(email, ''), COALESCE(logo_url, '')
		FROM institutes WHERE id::text = $1
	`, id).Scan(&in.ID, &in.Name, &in.Street, &in.District, &in.State, &in.Pincode, &in.Phone, &in.Email, &in.LogoURL)
	if errors.Is(err, sql.ErrNoRows) {
		return records.Institute{}, fmt.Errorf("%w: institute %s", ErrNotFound, id)
	}
	if err != nil {
		return records.Institute{}, fmt.Errorf("get institute: %w", err)
	}
	return in, nil
}

// AdmitEvent returns an event with its exam slots in schedule order.
func (r *Repository) AdmitEvent(ctx context.Context, sess auth.Session, id string) (records.AdmitEvent, error) {
	query := `
		SELECT id::text, name, COALESCE(session, ''),
			COALESCE(to_char(start_date, 'YYYY-MM-DD'), ''), COALESCE(to_char(end_date, 'YYYY-MM-DD'), '')
		FROM admit_events WHERE id::text = $1`
	args := []any{id}
	if sess.InstituteID != "" {
		query += " AND institute_id::text = $2"
		args = append(args, sess.InstituteID)
	}
	var ev records.AdmitEvent
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&ev.ID, &ev.Name, &ev.Session, &ev.StartDate, &ev.EndDate)
	if errors.Is(err, sql.ErrNoRows) {
		return records.AdmitEvent{}, fmt.Errorf("%w: admit event %s", ErrNotFound, id)
	}
	if err != nil {
		return records.AdmitEvent{}, fmt.Errorf("get admit event: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT subject, COALESCE(to_char(exam_date, 'YYYY-MM-DD'), ''),
			COALESCE(to_char(start_time, 'HH24:MI'), ''), COALESCE(to_char(end_time, 'HH24:MI'), '')
		FROM exam_slots WHERE event_id::text = $1
		ORDER BY exam_date, start_time, subject
	`, id)
	if err != nil {
		return records.AdmitEvent{}, fmt.Errorf("query exam slots: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s records.ExamSlot
		if err := rows.Scan(&s.Subject, &s.Date, &s.StartTime, &s.EndTime); err != nil {
			return records.AdmitEvent{}, fmt.Errorf("scan exam slot: %w", err)
		}
		ev.Schedule = append(ev.Schedule, s)
	}
	return ev, rows.Err()
}
