// Package dataset holds the healthcare records table: CSV loading, the
// encrypted billing column, the public projection returned by queries,
// and the nearest-neighbor distance computation over the plaintext
// coordinates.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"securequery/paillier"
)

// ErrUnknownField is returned when a query names a column the table
// does not project.
var ErrUnknownField = errors.New("dataset: unknown field")

// Header is the canonical CSV column order.
var Header = []string{
	"name", "age", "gender", "blood_type", "medical_condition",
	"date_of_admission", "doctor", "hospital", "insurance_provider",
	"billing_amount", "room_number", "admission_type",
	"discharge_date", "medication", "test_results", "latitude", "longitude",
}

// Record is one healthcare row.
type Record struct {
	Name              string  `json:"name"`
	Age               string  `json:"age"`
	Gender            string  `json:"gender"`
	BloodType         string  `json:"blood_type"`
	MedicalCondition  string  `json:"medical_condition"`
	DateOfAdmission   string  `json:"date_of_admission"`
	Doctor            string  `json:"doctor"`
	Hospital          string  `json:"hospital"`
	InsuranceProvider string  `json:"insurance_provider"`
	BillingAmount     float64 `json:"billing_amount"`
	RoomNumber        string  `json:"room_number"`
	AdmissionType     string  `json:"admission_type"`
	DischargeDate     string  `json:"discharge_date"`
	Medication        string  `json:"medication"`
	TestResults       string  `json:"test_results"`
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
}

// PublicView is the projection of a record that query results expose.
type PublicView struct {
	Name              string `json:"name"`
	MedicalCondition  string `json:"medical_condition"`
	InsuranceProvider string `json:"insurance_provider"`
	Gender            string `json:"gender"`
}

// complete reports whether every projected field is populated; rows
// with gaps are dropped from results.
func (v PublicView) complete() bool {
	return v.Name != "" && v.MedicalCondition != "" && v.InsuranceProvider != "" && v.Gender != ""
}

// Table is the in-memory dataset. It is loaded once at startup and
// read-only afterwards except for the administrative append path, which
// serializes against readers.
type Table struct {
	mu               sync.RWMutex
	records          []Record
	encryptedBilling []*paillier.EncryptedNumber
}

// NewEmpty returns a table with no rows.
func NewEmpty() *Table {
	return &Table{}
}

// Load reads the dataset CSV at path. The first row must be a header
// naming a subset of the canonical columns.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("dataset: parsing %s: %w", path, err)
	}
	if len(rows) == 0 {
		return NewEmpty(), nil
	}

	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	number := func(row []string, name string) float64 {
		v, err := strconv.ParseFloat(field(row, name), 64)
		if err != nil {
			return 0
		}
		return v
	}

	t := &Table{records: make([]Record, 0, len(rows)-1)}
	for _, row := range rows[1:] {
		t.records = append(t.records, Record{
			Name:              field(row, "name"),
			Age:               field(row, "age"),
			Gender:            field(row, "gender"),
			BloodType:         field(row, "blood_type"),
			MedicalCondition:  field(row, "medical_condition"),
			DateOfAdmission:   field(row, "date_of_admission"),
			Doctor:            field(row, "doctor"),
			Hospital:          field(row, "hospital"),
			InsuranceProvider: field(row, "insurance_provider"),
			BillingAmount:     number(row, "billing_amount"),
			RoomNumber:        field(row, "room_number"),
			AdmissionType:     field(row, "admission_type"),
			DischargeDate:     field(row, "discharge_date"),
			Medication:        field(row, "medication"),
			TestResults:       field(row, "test_results"),
			Latitude:          number(row, "latitude"),
			Longitude:         number(row, "longitude"),
		})
	}
	return t, nil
}

// Len returns the row count.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Records returns a copy of the rows.
func (t *Table) Records() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Record(nil), t.records...)
}

// fieldValue projects a queryable column out of a record.
func fieldValue(rec Record, field string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "name":
		return rec.Name, nil
	case "age":
		return rec.Age, nil
	case "gender":
		return rec.Gender, nil
	case "blood_type":
		return rec.BloodType, nil
	case "medical_condition":
		return rec.MedicalCondition, nil
	case "doctor":
		return rec.Doctor, nil
	case "hospital":
		return rec.Hospital, nil
	case "insurance_provider":
		return rec.InsuranceProvider, nil
	case "medication":
		return rec.Medication, nil
	case "test_results":
		return rec.TestResults, nil
	case "admission_type":
		return rec.AdmissionType, nil
	case "billing_amount":
		return strconv.FormatFloat(rec.BillingAmount, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
}

// normalize lowercases and strips a value the way queries are compared.
func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// view builds the public projection of a record.
func view(rec Record) PublicView {
	return PublicView{
		Name:              rec.Name,
		MedicalCondition:  rec.MedicalCondition,
		InsuranceProvider: rec.InsuranceProvider,
		Gender:            rec.Gender,
	}
}

// dedupe drops incomplete views and repeated projections, preserving
// first-seen order.
func dedupe(views []PublicView) []PublicView {
	seen := make(map[PublicView]struct{}, len(views))
	out := make([]PublicView, 0, len(views))
	for _, v := range views {
		if !v.complete() {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// ExactMatch returns the public views of rows whose normalized field
// value equals the normalized query value.
func (t *Table) ExactMatch(field, value string) ([]PublicView, error) {
	want := normalize(value)

	t.mu.RLock()
	defer t.mu.RUnlock()
	var views []PublicView
	for _, rec := range t.records {
		got, err := fieldValue(rec, field)
		if err != nil {
			return nil, err
		}
		if normalize(got) == want {
			views = append(views, view(rec))
		}
	}
	return dedupe(views), nil
}

// SelectMask returns the public views of rows whose mask bit is set.
// The mask must be as long as the table.
func (t *Table) SelectMask(mask []bool) ([]PublicView, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(mask) != len(t.records) {
		return nil, fmt.Errorf("dataset: mask has %d entries, table has %d", len(mask), len(t.records))
	}
	var views []PublicView
	for i, rec := range t.records {
		if mask[i] {
			views = append(views, view(rec))
		}
	}
	return dedupe(views), nil
}

// Nearest returns the public views of the k rows closest to the query
// point by squared Euclidean distance over latitude and longitude, ties
// broken by row order.
func (t *Table) Nearest(lat, lon float64, k int) []PublicView {
	t.mu.RLock()
	defer t.mu.RUnlock()

	type candidate struct {
		dist  float64
		index int
	}
	candidates := make([]candidate, len(t.records))
	for i, rec := range t.records {
		dLat := rec.Latitude - lat
		dLon := rec.Longitude - lon
		candidates[i] = candidate{dist: dLat*dLat + dLon*dLon, index: i}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].dist != candidates[b].dist {
			return candidates[a].dist < candidates[b].dist
		}
		return candidates[a].index < candidates[b].index
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	views := make([]PublicView, 0, k)
	for _, c := range candidates[:k] {
		views = append(views, view(t.records[c.index]))
	}
	return dedupe(views)
}

// EncryptBilling fills the encrypted billing column under the given
// public key. Called once at startup after Load. Encryption runs
// outside the table lock; only the final column swap takes it.
func (t *Table) EncryptBilling(pub *paillier.PublicKey) error {
	t.mu.RLock()
	amounts := make([]float64, len(t.records))
	for i, rec := range t.records {
		amounts[i] = rec.BillingAmount
	}
	t.mu.RUnlock()

	column, err := pub.EncryptColumn(amounts)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.encryptedBilling = column
	t.mu.Unlock()
	return nil
}

// EncryptedBilling returns the encrypted billing column.
func (t *Table) EncryptedBilling() []*paillier.EncryptedNumber {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*paillier.EncryptedNumber(nil), t.encryptedBilling...)
}

// Append adds a record, re-encrypts its billing amount when a public
// key is supplied, and atomically rewrites the CSV at path when path is
// non-empty. The write lock serializes against all readers.
func (t *Table) Append(rec Record, pub *paillier.PublicKey, path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if pub != nil {
		enc, err := pub.Encrypt(pub.EncodeAmount(rec.BillingAmount))
		if err != nil {
			return err
		}
		t.encryptedBilling = append(t.encryptedBilling, enc)
	}
	t.records = append(t.records, rec)

	if path == "" {
		return nil
	}
	return writeCSV(path, t.records)
}

// writeCSV persists rows through a temp file and rename so readers
// never observe a torn dataset file.
func writeCSV(path string, records []Record) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".dataset-*.tmp")
	if err != nil {
		return fmt.Errorf("dataset: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(Header); err != nil {
		tmp.Close()
		return fmt.Errorf("dataset: writing header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			rec.Name, rec.Age, rec.Gender, rec.BloodType, rec.MedicalCondition,
			rec.DateOfAdmission, rec.Doctor, rec.Hospital, rec.InsuranceProvider,
			strconv.FormatFloat(rec.BillingAmount, 'f', -1, 64),
			rec.RoomNumber, rec.AdmissionType, rec.DischargeDate,
			rec.Medication, rec.TestResults,
			strconv.FormatFloat(rec.Latitude, 'f', -1, 64),
			strconv.FormatFloat(rec.Longitude, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			tmp.Close()
			return fmt.Errorf("dataset: writing row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("dataset: flushing rows: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("dataset: closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("dataset: replacing %s: %w", path, err)
	}
	return nil
}
