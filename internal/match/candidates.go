package match

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// DefaultTextColumn holds the free-text summary each candidate is matched on.
const DefaultTextColumn = "values_summary"

// Candidate is one row of the matching dataset.
type Candidate struct {
	ID     string
	Name   string
	Text   string
	Fields map[string]string
}

// LoadCandidatesFile reads a candidate CSV from disk.
func LoadCandidatesFile(path, textColumn string) ([]Candidate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("match: open candidates: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadCandidatesCSV(f, textColumn)
}

// LoadCandidatesCSV parses a header-first CSV. Rows whose width differs from the
// header, or whose text column is blank, are skipped. Optional id and name
// columns populate Candidate.ID and Candidate.Name; the row number is the
// fallback ID.
func LoadCandidatesCSV(r io.Reader, textColumn string) ([]Candidate, error) {
	if textColumn == "" {
		textColumn = DefaultTextColumn
	}
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("match: candidates csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("match: read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	textIdx, idIdx, nameIdx := -1, -1, -1
	for i, col := range header {
		switch strings.ToLower(col) {
		case strings.ToLower(textColumn):
			textIdx = i
		case "id":
			idIdx = i
		case "name":
			nameIdx = i
		}
	}
	if textIdx < 0 {
		return nil, fmt.Errorf("match: candidates csv has no %q column", textColumn)
	}

	var out []Candidate
	for row := 1; ; row++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			return nil, fmt.Errorf("match: read row %d: %w", row, err)
		}
		if len(rec) != len(header) || strings.TrimSpace(rec[textIdx]) == "" {
			continue
		}
		c := Candidate{
			ID:     strconv.Itoa(row),
			Text:   strings.TrimSpace(rec[textIdx]),
			Fields: make(map[string]string, len(header)),
		}
		for i, col := range header {
			c.Fields[col] = rec[i]
		}
		if idIdx >= 0 && rec[idIdx] != "" {
			c.ID = rec[idIdx]
		}
		if nameIdx >= 0 {
			c.Name = rec[nameIdx]
		}
		out = append(out, c)
	}
	return out, nil
}
