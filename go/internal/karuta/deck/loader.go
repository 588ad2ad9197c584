package deck

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML deck format
type File struct {
	Name  string `yaml:"name"`
	Cards []Row  `yaml:"cards"`
}

// LoadYAML reads a YAML deck file and builds it
func LoadYAML(path string) (Deck, error) {
	rows, err := readYAML(path)
	if err != nil {
		return Deck{}, err
	}
	return build(path, rows)
}

// Load reads a deck from a .csv file or a YAML file
func Load(path string) (Deck, error) {
	rows, err := ReadFile(path)
	if err != nil {
		return Deck{}, err
	}
	return build(path, rows)
}

// ReadFile returns the raw rows of a deck file before filtering
func ReadFile(path string) ([]Row, error) {
	if !strings.EqualFold(filepath.Ext(path), ".csv") {
		return readYAML(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open deck file: %w", err)
	}
	defer f.Close()

	rows, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse deck file: %w", err)
	}
	return rows, nil
}

func readYAML(path string) ([]Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read deck file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse deck file: %w", err)
	}
	return f.Cards, nil
}

func build(path string, rows []Row) (Deck, error) {
	d, err := Build(rows)
	if err != nil {
		return Deck{}, fmt.Errorf("deck %q: %w", path, err)
	}
	return d, nil
}

// ReadCSV reads number,term,text rows.
// A header row is detected by its column names and may list the columns in any order;
// without a header the first three columns are used in that order.
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEmpty
	}

	cols := [3]int{0, 1, 2}
	if header, ok := headerColumns(records[0]); ok {
		cols = header
		records = records[1:]
	}

	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, Row{
			Number: field(rec, cols[0]),
			Term:   field(rec, cols[1]),
			Text:   field(rec, cols[2]),
		})
	}
	return rows, nil
}

func headerColumns(rec []string) ([3]int, bool) {
	cols := [3]int{-1, -1, -1}
	for i, name := range rec {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "number", "no", "id":
			cols[0] = i
		case "term", "word":
			cols[1] = i
		case "text", "definition", "meaning":
			cols[2] = i
		}
	}
	for _, c := range cols {
		if c < 0 {
			return [3]int{}, false
		}
	}
	return cols, true
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}
