package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"cardexport/internal/records"
)

// ErrUnsupportedFile is returned for roster files that are neither xlsx nor csv.
var ErrUnsupportedFile = errors.New("unsupported roster file")

// Skipped describes a row Import left out.
type Skipped struct {
	Row    int
	Reason string
}

// ImportResult is what a roster file yielded.
type ImportResult struct {
	People  []records.Person
	Skipped []Skipped
}

type setter func(p *records.Person, v string)

var columns = map[string]setter{
	"name":          func(p *records.Person, v string) { p.Name = v },
	"student_name":  func(p *records.Person, v string) { p.Name = v },
	"full_name":     func(p *records.Person, v string) { p.Name = v },
	"first_name":    func(p *records.Person, v string) { p.FirstName = v },
	"middle_name":   func(p *records.Person, v string) { p.MiddleName = v },
	"last_name":     func(p *records.Person, v string) { p.LastName = v },
	"id":            func(p *records.Person, v string) { p.ID = records.Text(v) },
	"student_id":    func(p *records.Person, v string) { p.ID = records.Text(v) },
	"class":         func(p *records.Person, v string) { p.Class = records.Text(v) },
	"section":       func(p *records.Person, v string) { p.Section = records.Text(v) },
	"roll_no":       func(p *records.Person, v string) { p.RollNo = records.Text(v) },
	"roll":          func(p *records.Person, v string) { p.RollNo = records.Text(v) },
	"roll_number":   func(p *records.Person, v string) { p.RollNo = records.Text(v) },
	"admission_no":  func(p *records.Person, v string) { p.AdmissionNo = records.Text(v) },
	"admission_num": func(p *records.Person, v string) { p.AdmissionNo = records.Text(v) },
	"dob":           func(p *records.Person, v string) { p.DateOfBirth = v },
	"date_of_birth": func(p *records.Person, v string) { p.DateOfBirth = v },
	"blood_group":   func(p *records.Person, v string) { p.BloodGroup = v },
	"father_name":   func(p *records.Person, v string) { p.FatherName = v },
	"fathers_name":  func(p *records.Person, v string) { p.FatherName = v },
	"mother_name":   func(p *records.Person, v string) { p.MotherName = v },
	"mothers_name":  func(p *records.Person, v string) { p.MotherName = v },
	"mobile":        func(p *records.Person, v string) { p.Mobile = records.Text(v) },
	"phone":         func(p *records.Person, v string) { p.Mobile = records.Text(v) },
	"email":         func(p *records.Person, v string) { p.Email = v },
	"address":       func(p *records.Person, v string) { p.Address = v },
	"photo_url":     func(p *records.Person, v string) { p.PhotoURL = v },
	"photo":         func(p *records.Person, v string) { p.PhotoURL = v },
}

// normalizeHeader maps "Roll No.", "roll-no" and "ROLL_NO" to "roll_no".
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer("'", "", ".", "", "-", " ", "/", " ").Replace(h)
	return strings.Join(strings.Fields(h), "_")
}

// Import reads a roster from an .xlsx or .csv file. The first row is the header; columns are matched
// by name, unknown columns are ignored and rows without a name are skipped.
func Import(r io.Reader, filename string) (ImportResult, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		rows, err = readXLSX(r)
	case ".csv":
		rows, err = readCSV(r)
	default:
		return ImportResult{}, fmt.Errorf("%w: %q", ErrUnsupportedFile, filename)
	}
	if err != nil {
		return ImportResult{}, err
	}
	return parseRows(rows)
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open excel file: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, errors.New("excel file does not contain any sheets")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read rows from sheet %s: %w", sheet, err)
	}
	return rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return rows, nil
}

func parseRows(rows [][]string) (ImportResult, error) {
	if len(rows) == 0 {
		return ImportResult{}, errors.New("roster is empty")
	}
	type column struct {
		pos int
		set setter
	}
	// Header order; when aliases repeat a field the rightmost non-empty cell wins.
	var index []column
	for i, h := range rows[0] {
		if set, ok := columns[normalizeHeader(h)]; ok {
			index = append(index, column{pos: i, set: set})
		}
	}
	if len(index) == 0 {
		return ImportResult{}, errors.New("roster header has no recognised columns")
	}

	var res ImportResult
	for i, row := range rows[1:] {
		line := i + 2
		if blank(row) {
			continue
		}
		var p records.Person
		for _, col := range index {
			if col.pos < len(row) {
				if v := strings.TrimSpace(row[col.pos]); v != "" {
					col.set(&p, v)
				}
			}
		}
		if p.DisplayName() == "" {
			res.Skipped = append(res.Skipped, Skipped{Row: line, Reason: "missing name"})
			continue
		}
		if err := records.Validate(p); err != nil {
			res.Skipped = append(res.Skipped, Skipped{Row: line, Reason: err.Error()})
			continue
		}
		res.People = append(res.People, p)
	}
	return res, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
