// Package input loads candidate cards from JSON and YAML files or directory
// trees. Loading never validates: a malformed card is returned as-is so the
// validator can report it.
package input

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/cardcheck/internal/schema"
)

// ErrUnsupportedFormat is returned for a file whose extension is not .json,
// .yaml or .yml.
var ErrUnsupportedFormat = errors.New("input: unsupported file format")

// ErrNoCardType is returned by Group when a batch's card type cannot be
// determined and no fallback was given.
var ErrNoCardType = errors.New("input: cannot determine card type")

// maxFileSize is the largest input file that will be read.
const maxFileSize = 32 << 20

// Batch is the decoded content of one file, or one section of a file keyed
// by card type.
type Batch struct {
	Source string          // path the batch was read from
	Type   schema.CardType // empty when it could not be inferred
	Cards  any             // usually []any; anything else is left for the validator to reject
}

// defaultIgnore is the default set of directory names to skip.
var defaultIgnore = map[string]bool{
	".git":         true,
	"vendor":       true,
	"node_modules": true,
	"dist":         true,
	"build":        true,
}

func supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads path. A file is decoded directly; a directory is walked and
// every .json/.yaml/.yml file beneath it is decoded in lexical order.
// ignore supplements the default ignore list and is matched against
// directory base names.
func Load(path string, ignore []string) ([]Batch, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}
	if !info.IsDir() {
		return LoadFile(path)
	}

	extraIgnore := make(map[string]bool, len(ignore))
	for _, p := range ignore {
		extraIgnore[p] = true
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && (defaultIgnore[d.Name()] || extraIgnore[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return fs.SkipDir
			}
			return nil
		}
		if supported(d.Name()) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("input: walk %s: %w", path, err)
	}
	sort.Strings(files)

	var out []Batch
	for _, f := range files {
		bs, err := LoadFile(f)
		if err != nil {
			return nil, err
		}
		out = append(out, bs...)
	}
	return out, nil
}

// LoadFile decodes a single file.
//
// The decoded document is interpreted as:
//   - an object whose keys are all card types: one batch per key;
//   - any other object: a single card;
//   - anything else (normally an array): the batch content.
func LoadFile(path string) ([]Batch, error) {
	if !supported(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("input: %s exceeds %d bytes", path, maxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("input: read %s: %w", path, err)
	}
	doc, err := Decode(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("input: %s: %w", path, err)
	}
	return split(path, doc), nil
}

// Decode parses data as JSON (ext ".json") or YAML (".yaml", ".yml").
// YAML documents are normalised to the shapes JSON decoding produces.
func Decode(data []byte, ext string) (any, error) {
	var doc any
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		return doc, nil
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
		return normalize(doc), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func split(path string, doc any) []Batch {
	if obj, ok := doc.(map[string]any); ok {
		if keyedByType(obj) {
			var out []Batch
			for _, ct := range schema.CardTypes {
				if cards, ok := obj[string(ct)]; ok {
					out = append(out, Batch{Source: path, Type: ct, Cards: cards})
				}
			}
			return out
		}
		doc = []any{obj}
	}
	return []Batch{{Source: path, Type: inferType(path, doc), Cards: doc}}
}

func keyedByType(obj map[string]any) bool {
	if len(obj) == 0 {
		return false
	}
	for k := range obj {
		if _, err := schema.ParseCardType(k); err != nil {
			return false
		}
	}
	return true
}

// inferType guesses a batch's type from its file name ("flights.json",
// "place-results.yaml"), then from a "type" value shared by every card.
func inferType(path string, doc any) schema.CardType {
	stem := strings.ToLower(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	if i := strings.IndexAny(stem, "-_."); i > 0 {
		stem = stem[:i]
	}
	for _, cand := range []string{stem, strings.TrimSuffix(stem, "s")} {
		if ct, err := schema.ParseCardType(cand); err == nil {
			return ct
		}
	}

	cards, ok := doc.([]any)
	if !ok || len(cards) == 0 {
		return ""
	}
	var shared schema.CardType
	for _, c := range cards {
		obj, ok := c.(map[string]any)
		if !ok {
			return ""
		}
		s, _ := obj["type"].(string)
		ct, err := schema.ParseCardType(s)
		if err != nil || (shared != "" && ct != shared) {
			return ""
		}
		shared = ct
	}
	return shared
}

// Group merges batches by card type. A batch without a type takes fallback;
// if fallback is empty ErrNoCardType is returned. Array contents of the same
// type are concatenated in load order. A lone non-array batch is kept as-is
// so the validator reports it.
func Group(batches []Batch, fallback schema.CardType) (map[schema.CardType]any, error) {
	out := make(map[schema.CardType]any)
	for _, b := range batches {
		ct := b.Type
		if ct == "" {
			ct = fallback
		}
		if ct == "" {
			return nil, fmt.Errorf("%w for %s: name the file after a card type or pass a type", ErrNoCardType, b.Source)
		}
		prev, seen := out[ct]
		if !seen {
			out[ct] = b.Cards
			continue
		}
		merged := append([]any{}, asList(prev)...)
		out[ct] = append(merged, asList(b.Cards)...)
	}
	return out, nil
}

func asList(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	return []any{v}
}

// normalize converts YAML-specific shapes (map[any]any keys, time.Time
// scalars) to what encoding/json would have produced.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[fmt.Sprint(k)] = normalize(e)
		}
		return m
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return v
	}
}
