package coa

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dvloznov/finance-ledger/internal/apperrors"
)

// Dictionary is a set of ledger account or category names discovered in the
// store. On disk it is a flat JSON object mapping each name to "".
type Dictionary map[string]struct{}

// NewDictionary builds a dictionary from names, dropping blanks.
func NewDictionary(names []string) Dictionary {
	d := make(Dictionary, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		d[name] = struct{}{}
	}
	return d
}

// Has reports whether name is in the dictionary. A nil dictionary holds
// nothing.
func (d Dictionary) Has(name string) bool {
	_, ok := d[name]
	return ok
}

// Names returns the names sorted.
func (d Dictionary) Names() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadDictionary reads a dictionary file. Both the object form and a plain
// array of names are accepted.
func LoadDictionary(path string) (Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewParseError(fmt.Sprintf("reading dictionary %s", path), err)
	}
	d, err := ParseDictionary(data)
	if err != nil {
		return nil, apperrors.NewParseError(fmt.Sprintf("parsing dictionary %s", path), err)
	}
	return d, nil
}

// ParseDictionary decodes the object or array form of a dictionary.
func ParseDictionary(data []byte) (Dictionary, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var names []string
		if err := json.Unmarshal(data, &names); err != nil {
			return nil, err
		}
		return NewDictionary(names), nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(obj))
	for name := range obj {
		names = append(names, name)
	}
	return NewDictionary(names), nil
}

// WriteDictionary writes names to path in the object form with sorted keys
// and a trailing newline, creating parent directories as needed.
func WriteDictionary(path string, names []string) error {
	d := NewDictionary(names)
	obj := make(map[string]string, len(d))
	for name := range d {
		obj[name] = ""
	}
	// encoding/json sorts map keys.
	data, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return fmt.Errorf("WriteDictionary: encoding: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("WriteDictionary: creating directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("WriteDictionary: writing %s: %w", path, err)
	}
	return nil
}
