// Package palette maps land-cover category codes to display colors.
package palette

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// RGB is one 8-bit color triple.
type RGB [3]uint8

// Fallback paints codes absent from a table. Cloud-covered pixels use it too.
var Fallback = RGB{255, 255, 255}

type Entry struct {
	Code uint16
	Name string
	RGB  RGB
}

// ColorTable is an immutable category code to color mapping. It is safe to
// share between goroutines.
type ColorTable struct {
	entries []Entry
	index   map[uint16]int
}

// New builds a table from entries in the given order. Codes must be unique.
func New(entries []Entry) (*ColorTable, error) {
	t := &ColorTable{
		entries: make([]Entry, len(entries)),
		index:   make(map[uint16]int, len(entries)),
	}
	copy(t.entries, entries)
	for i, e := range t.entries {
		if _, dup := t.index[e.Code]; dup {
			return nil, fmt.Errorf("duplicate category code %d", e.Code)
		}
		t.index[e.Code] = i
	}
	return t, nil
}

func (t *ColorTable) Lookup(code uint16) (RGB, bool) {
	i, ok := t.index[code]
	if !ok {
		return Fallback, false
	}
	return t.entries[i].RGB, true
}

// Entries returns a copy of the table in its declared order.
func (t *ColorTable) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *ColorTable) Len() int { return len(t.entries) }

type fileEntry struct {
	Code int    `yaml:"code"`
	Name string `yaml:"name"`
	RGB  []int  `yaml:"rgb"`
}

type fileTable struct {
	Categories []fileEntry `yaml:"categories"`
}

// Load parses a YAML color table:
//
//	categories:
//	  - {code: 111, name: Continuous urban fabric, rgb: [230, 0, 77]}
func Load(r io.Reader) (*ColorTable, error) {
	var ft fileTable
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&ft); err != nil {
		return nil, fmt.Errorf("parse color table: %w", err)
	}
	if len(ft.Categories) == 0 {
		return nil, fmt.Errorf("parse color table: no categories")
	}
	entries := make([]Entry, 0, len(ft.Categories))
	for _, fe := range ft.Categories {
		if fe.Code < 0 || fe.Code > 0xFFFF {
			return nil, fmt.Errorf("category code %d out of range", fe.Code)
		}
		if len(fe.RGB) != 3 {
			return nil, fmt.Errorf("category %d: rgb needs 3 channels, got %d", fe.Code, len(fe.RGB))
		}
		var rgb RGB
		for i, ch := range fe.RGB {
			if ch < 0 || ch > 255 {
				return nil, fmt.Errorf("category %d: channel value %d out of range", fe.Code, ch)
			}
			rgb[i] = uint8(ch)
		}
		entries = append(entries, Entry{Code: uint16(fe.Code), Name: fe.Name, RGB: rgb})
	}
	return New(entries)
}

func LoadFile(path string) (*ColorTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

//go:embed clc.yaml
var clcYAML string

var (
	defaultOnce  sync.Once
	defaultTable *ColorTable
)

// Default returns the CORINE land-cover table shipped with the binary.
func Default() *ColorTable {
	defaultOnce.Do(func() {
		t, err := Load(strings.NewReader(clcYAML))
		if err != nil {
			panic(fmt.Sprintf("embedded color table: %v", err))
		}
		defaultTable = t
	})
	return defaultTable
}
