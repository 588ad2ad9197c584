package deck

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildTrimsFiltersAndDedupes(t *testing.T) {
	d, err := Build([]Row{
		{Number: " 1 ", Term: " apple ", Text: " a red fruit "},
		{Number: "2", Term: "", Text: "missing term"},
		{Number: "3", Term: "cherry", Text: ""},
		{Number: "1", Term: "apricot", Text: "duplicate number"},
		{Number: "A-4", Term: "banana", Text: "a yellow fruit"},
		{Number: "", Term: "nothing", Text: "no number"},
	})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if d.Len() != 2 {
		t.Fatalf("len = %d, want 2", d.Len())
	}
	first := d.Card(0)
	if first.Number != "1" || first.Term != "apple" || first.Text != "a red fruit" {
		t.Fatalf("first card = %+v, want trimmed apple", first)
	}
	if c, ok := d.Lookup(" A-4"); !ok || c.Term != "banana" {
		t.Fatalf("Lookup(A-4) = %+v, %v", c, ok)
	}
	if _, ok := d.Lookup("2"); ok {
		t.Fatal("row without term should have been dropped")
	}
}

func TestBuildEmpty(t *testing.T) {
	_, err := Build([]Row{{Number: "1", Term: "x"}})
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}
}

func TestCardsReturnsCopy(t *testing.T) {
	d, err := Build([]Row{{Number: "1", Term: "a", Text: "b"}})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	cards := d.Cards()
	cards[0].Term = "mutated"
	if d.Card(0).Term != "a" {
		t.Fatal("Cards must not expose the deck's backing slice")
	}
}

func TestReadCSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Row
	}{
		{
			name:  "header in any order",
			input: "Term,Text,Number\napple,a red fruit,1\nbanana,a yellow fruit,2\n",
			want: []Row{
				{Number: "1", Term: "apple", Text: "a red fruit"},
				{Number: "2", Term: "banana", Text: "a yellow fruit"},
			},
		},
		{
			name:  "headerless",
			input: "1,apple,a red fruit\n2,banana\n",
			want: []Row{
				{Number: "1", Term: "apple", Text: "a red fruit"},
				{Number: "2", Term: "banana", Text: ""},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := ReadCSV(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("ReadCSV returned error: %v", err)
			}
			if len(rows) != len(tt.want) {
				t.Fatalf("rows = %d, want %d", len(rows), len(tt.want))
			}
			for i := range rows {
				if rows[i] != tt.want[i] {
					t.Fatalf("row %d = %+v, want %+v", i, rows[i], tt.want[i])
				}
			}
		})
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.yaml")
	content := `name: fruit
cards:
  - number: "1"
    term: apple
    text: a red fruit
  - number: "2"
    term: banana
    text: a yellow fruit
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write deck: %v", err)
	}

	d, err := LoadYAML(path)
	if err != nil {
		t.Fatalf("LoadYAML returned error: %v", err)
	}
	if d.Len() != 2 {
		t.Fatalf("len = %d, want 2", d.Len())
	}
}

func TestLoadPicksFormatByExtension(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "deck.CSV")
	if err := os.WriteFile(csvPath, []byte("number,term,text\n1,a,alpha\n2,b,beta\n"), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	d, err := Load(csvPath)
	if err != nil {
		t.Fatalf("Load csv: %v", err)
	}
	if d.Len() != 2 {
		t.Fatalf("Len = %d, want 2", d.Len())
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestRowComplete(t *testing.T) {
	tests := []struct {
		row  Row
		want bool
	}{
		{row: Row{Number: "1", Term: "a", Text: "alpha"}, want: true},
		{row: Row{Number: " 1 ", Term: "a", Text: "alpha "}, want: true},
		{row: Row{Number: "1", Term: "a", Text: "   "}, want: false},
		{row: Row{Term: "a", Text: "alpha"}, want: false},
	}
	for _, tt := range tests {
		if got := tt.row.Complete(); got != tt.want {
			t.Errorf("%+v.Complete() = %v, want %v", tt.row, got, tt.want)
		}
	}
}
