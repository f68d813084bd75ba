package labels

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Delimiter is the field separator of label mapping files.
const Delimiter = ','

// Entry is one row of a label mapping file
type Entry struct {
	Label uint16
	Name  string
}

// Mapping is the ordered content of a label mapping file
type Mapping []Entry

// ReadMapping parses the label mapping file at path.
func ReadMapping(path string) (Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open label mapping: %w", err)
	}
	defer f.Close()

	m, err := ParseMapping(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseMapping reads (label_id, label_name) rows. Blank lines and lines
// starting with '#' are skipped, a non-numeric first row is taken as a header
// and a row for label 0 (background) is ignored.
func ParseMapping(r io.Reader) (Mapping, error) {
	reader := csv.NewReader(r)
	reader.Comma = Delimiter
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var m Mapping
	seen := make(map[uint16]bool)
	first := true
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse label mapping: %w", err)
		}
		line, _ := reader.FieldPos(0)

		if len(row) < 2 {
			return nil, fmt.Errorf("line %d: expected label_id,label_name", line)
		}
		id, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil {
			if first {
				first = false
				continue
			}
			return nil, fmt.Errorf("line %d: invalid label id %q", line, row[0])
		}
		first = false

		if id < 0 || id > 0xFFFF {
			return nil, fmt.Errorf("line %d: label id %d out of range", line, id)
		}
		if id == 0 {
			continue
		}
		label := uint16(id)
		if seen[label] {
			return nil, fmt.Errorf("line %d: duplicate label id %d", line, id)
		}
		seen[label] = true
		m = append(m, Entry{Label: label, Name: strings.TrimSpace(row[1])})
	}
	return m, nil
}

// Labels returns the label ids in file order.
func (m Mapping) Labels() []uint16 {
	out := make([]uint16, len(m))
	for i, e := range m {
		out[i] = e.Label
	}
	return out
}

// Restrict returns the names of the labels that appear in present.
func (m Mapping) Restrict(present []uint16) map[uint16]string {
	names := make(map[uint16]string, len(present))
	for _, e := range m {
		if Contains(present, e.Label) {
			names[e.Label] = e.Name
		}
	}
	return names
}
