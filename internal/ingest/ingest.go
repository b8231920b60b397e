// Package ingest parses account-listing CSV files into records the case
// managers can resolve into hosts, realms, and accounts. Parsing is strict
// about the header and lenient about rows: a malformed row is reported and
// skipped, never aborting the whole import.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// Account listing header. Column order matters: the index positions are
// used for field mapping.
var accountHeader = []string{"host", "login", "sid", "realm_name", "scope"}

// Record is one parsed account row.
type Record struct {
	Line      int
	Host      string
	Login     string
	SID       string
	RealmName string
	Scope     string
}

// RowError reports a row that could not be parsed or failed validation.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Line, e.Err)
}

// Result contains the outcome of a CSV import parse.
type Result struct {
	Records   []Record
	Skipped   int
	RowErrors []RowError
}

// scopes a row may carry. Empty means unknown.
var validScopes = map[string]bool{
	"": true, "unknown": true, "local": true, "domain": true,
}

// ValidateHeader checks if a CSV file has a valid account listing header.
// Returns an error describing the mismatch if validation fails.
func ValidateHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(newNullStripper(f))
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("reading header: %w", err)
	}

	if len(header) < len(accountHeader) {
		return fmt.Errorf("header too short: got %d columns, expected at least %d", len(header), len(accountHeader))
	}

	for i, expected := range accountHeader {
		if strings.TrimSpace(strings.ToLower(header[i])) != expected {
			return fmt.Errorf("header mismatch at column %d: expected '%s', got '%s'", i, expected, header[i])
		}
	}

	return nil
}

// ReadAccounts reads all account records from a CSV file.
// Optionally limits the number of records (pass 0 for no limit).
// An onProgress callback is called every 10,000 records if non-nil.
func ReadAccounts(path string, limit int, onProgress func(count int)) (*Result, error) {
	if err := ValidateHeader(path); err != nil {
		return nil, fmt.Errorf("invalid CSV: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(newNullStripper(f))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1 // allow variable field counts

	// Skip header
	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	result := &Result{}
	line := 1

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			result.Skipped++
			result.RowErrors = append(result.RowErrors, RowError{Line: line, Err: err})
			continue
		}

		if limit > 0 && len(result.Records) >= limit {
			break
		}

		rec, err := rowToRecord(line, row)
		if err != nil {
			result.Skipped++
			result.RowErrors = append(result.RowErrors, RowError{Line: line, Err: err})
			continue
		}
		result.Records = append(result.Records, rec)

		if onProgress != nil && len(result.Records)%10000 == 0 {
			onProgress(len(result.Records))
		}
	}

	return result, nil
}

// rowToRecord converts a CSV row into a Record.
// Column mapping: 0=host, 1=login, 2=sid, 3=realm_name, 4=scope.
func rowToRecord(line int, row []string) (Record, error) {
	rec := Record{
		Line:      line,
		Host:      strings.TrimSpace(safeIndex(row, 0)),
		Login:     strings.TrimSpace(safeIndex(row, 1)),
		SID:       strings.TrimSpace(safeIndex(row, 2)),
		RealmName: strings.TrimSpace(safeIndex(row, 3)),
		Scope:     strings.ToLower(strings.TrimSpace(safeIndex(row, 4))),
	}

	if rec.Host == "" {
		return Record{}, fmt.Errorf("missing host")
	}
	if rec.SID == "" && rec.Login == "" {
		return Record{}, fmt.Errorf("need a sid or a login")
	}
	if !validScopes[rec.Scope] {
		return Record{}, fmt.Errorf("unrecognized scope %q", rec.Scope)
	}

	return rec, nil
}

// safeIndex returns the value at index i, or empty string if out of bounds.
func safeIndex(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

// nullStripper wraps a reader and strips null bytes from the stream,
// which otherwise trip up csv.Reader on exports from some tools.
type nullStripper struct {
	r io.Reader
}

func newNullStripper(r io.Reader) io.Reader {
	return &nullStripper{r: r}
}

func (ns *nullStripper) Read(p []byte) (int, error) {
	n, err := ns.r.Read(p)
	if n == 0 {
		return n, err
	}
	j := 0
	for i := 0; i < n; i++ {
		if p[i] != 0 {
			p[j] = p[i]
			j++
		}
	}
	return j, err
}
