// Package clientconfig reads and rewrites the benchmark client's TOML
// configuration one field at a time. Comments, field order and every line
// that is not being updated are written back untouched.
package clientconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Fields read or swept by the controller.
const (
	FieldUseInvoke   = "use_invoke"
	FieldServerPorts = "server_udp_ports"
	FieldNumTenants  = "num_tenants"
	FieldTenantSkew  = "tenant_skew"
	FieldReqRate     = "req_rate"
	FieldNumAggr     = "num_aggr"
)

var (
	// ErrNotFound is returned by Load when the config file does not exist.
	ErrNotFound = errors.New("client config not found")
	// ErrMalformed is returned by Load when the file is not valid TOML.
	ErrMalformed = errors.New("malformed client config")
	// ErrMissingField is returned when a key is absent.
	ErrMissingField = errors.New("missing field")
	// ErrShapeMismatch is returned by Set when the new literal does not
	// have the same kind as the field's current value.
	ErrShapeMismatch = errors.New("value shape mismatch")
)

// entry locates a single-line scalar assignment within the file.
type entry struct {
	line    int
	prefix  string
	literal string
	suffix  string
	value   any
}

// Store is an in-memory view of a client config file.
type Store struct {
	path    string
	perm    fs.FileMode
	lines   []string
	doc     map[string]any
	entries map[string]*entry
}

// Load reads and validates the config file at path.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}

		return nil, fmt.Errorf("read client config %s: %w", path, err)
	}

	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat client config %s: %w", path, err)
	}

	s := &Store{
		path:    path,
		perm:    info.Mode().Perm(),
		lines:   strings.Split(string(data), "\n"),
		doc:     doc,
		entries: make(map[string]*entry),
	}
	s.index()

	return s, nil
}

// Path returns the file the store was loaded from.
func (s *Store) Path() string {
	return s.path
}

// Value returns the decoded value of key: int64, float64, bool, string,
// or a composite TOML value for fields that span several lines.
func (s *Store) Value(key string) (any, error) {
	if e, ok := s.entries[key]; ok {
		return e.value, nil
	}

	var cur any = s.doc
	for _, part := range strings.Split(key, ".") {
		table, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, key)
		}

		cur, ok = table[part]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, key)
		}
	}

	return cur, nil
}

// Get returns the textual form of key. Strings are unquoted; numbers and
// booleans are returned exactly as written in the file.
func (s *Store) Get(key string) (string, error) {
	v, err := s.Value(key)
	if err != nil {
		return "", err
	}

	if e, ok := s.entries[key]; ok {
		if str, isStr := e.value.(string); isStr {
			return str, nil
		}

		return e.literal, nil
	}

	switch val := v.(type) {
	case string:
		return val, nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	default:
		return fmt.Sprint(val), nil
	}
}

// Set replaces the value of key with literal. The literal is decoded as a
// TOML value and must have the same kind as the current value; an integer
// literal is accepted for a float field. A literal that already decodes to
// the field's kind is written as given; others are re-encoded. On any error
// the field is left unchanged. Set only changes the in-memory document;
// call Save to persist.
func (s *Store) Set(key, literal string) error {
	e, ok := s.entries[key]
	if !ok {
		if _, err := s.Value(key); err != nil {
			return err
		}

		return fmt.Errorf("%w: %s is not a single-line scalar", ErrShapeMismatch, key)
	}

	next, err := coerce(e.value, literal)
	if err != nil {
		return fmt.Errorf("%w: %s = %q: %w", ErrShapeMismatch, key, literal, err)
	}

	encoded, ok := verbatimLiteral(literal, next)
	if !ok {
		encoded, err = encodeLiteral(next)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
	}

	e.value = next
	e.literal = encoded
	s.lines[e.line] = e.prefix + encoded + e.suffix

	return nil
}

// Save writes the document back to its file through a temp file and rename.
func (s *Store) Save() error {
	dir := filepath.Dir(s.path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.WriteString(strings.Join(s.lines, "\n")); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("write temp config: %w", err)
	}

	if err := tmp.Chmod(s.perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("chmod temp config: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("close temp config: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("replace %s: %w", s.path, err)
	}

	return nil
}

// index records the position of every single-line scalar assignment.
// Keys inside [table] sections are qualified as "table.key"; keys inside
// arrays of tables are not addressable.
func (s *Store) index() {
	table := ""
	inArray := false

	for i, raw := range s.lines {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if strings.HasPrefix(trimmed, "[") {
			header := strings.TrimSpace(stripComment(trimmed))
			inArray = strings.HasPrefix(header, "[[")
			table = strings.TrimSpace(strings.Trim(header, "[]"))

			continue
		}

		if inArray {
			continue
		}

		key, prefix, literal, suffix, ok := splitAssignment(raw)
		if !ok {
			continue
		}

		value, err := decodeLiteral(literal)
		if err != nil {
			continue
		}

		if table != "" {
			key = table + "." + key
		}

		s.entries[key] = &entry{
			line:    i,
			prefix:  prefix,
			literal: literal,
			suffix:  suffix,
			value:   value,
		}
	}
}

// splitAssignment breaks `key = literal # comment` into its parts so that
// prefix+literal+suffix reproduces raw exactly.
func splitAssignment(raw string) (key, prefix, literal, suffix string, ok bool) {
	eq := strings.IndexByte(raw, '=')
	if eq <= 0 {
		return "", "", "", "", false
	}

	key = strings.TrimSpace(raw[:eq])
	if unquoted, err := strconv.Unquote(key); err == nil {
		key = unquoted
	} else if len(key) >= 2 && key[0] == '\'' && key[len(key)-1] == '\'' {
		key = key[1 : len(key)-1]
	}

	if key == "" {
		return "", "", "", "", false
	}

	rest := raw[eq+1:]
	lead := len(rest) - len(strings.TrimLeft(rest, " \t"))
	body := rest[lead:]
	end := len(stripComment(body))
	literal = strings.TrimRight(body[:end], " \t\r")

	if literal == "" {
		return "", "", "", "", false
	}

	prefix = raw[:eq+1+lead]
	suffix = body[len(literal):]

	return key, prefix, literal, suffix, true
}

// stripComment cuts s at the first '#' that is not inside a string.
func stripComment(s string) string {
	var quote byte

	for i := 0; i < len(s); i++ {
		c := s[i]

		switch {
		case quote == '"' && c == '\\':
			i++
		case quote != 0 && c == quote:
			quote = 0
		case quote == 0 && (c == '"' || c == '\''):
			quote = c
		case quote == 0 && c == '#':
			return s[:i]
		}
	}

	return s
}

func decodeLiteral(literal string) (any, error) {
	var doc map[string]any
	if err := toml.Unmarshal([]byte("v = "+literal), &doc); err != nil {
		return nil, err
	}

	return doc["v"], nil
}

// verbatimLiteral returns literal trimmed when it is a single TOML value
// that decodes to the same Go type as v.
func verbatimLiteral(literal string, v any) (string, bool) {
	literal = strings.TrimSpace(literal)
	if literal == "" || strings.ContainsAny(literal, "\r\n#") {
		return "", false
	}

	decoded, err := decodeLiteral(literal)
	if err != nil || reflect.TypeOf(decoded) != reflect.TypeOf(v) {
		return "", false
	}

	return literal, true
}

func encodeLiteral(v any) (string, error) {
	b, err := toml.Marshal(map[string]any{"v": v})
	if err != nil {
		return "", err
	}

	_, literal, found := strings.Cut(strings.TrimSpace(string(b)), "=")
	if !found {
		return "", fmt.Errorf("unexpected encoding %q", b)
	}

	literal = strings.TrimSpace(literal)

	// Keep floats floats: a bare "2" would change the field to an integer.
	if _, isFloat := v.(float64); isFloat &&
		!strings.ContainsAny(literal, ".eEn") {
		literal += ".0"
	}

	return literal, nil
}

// coerce decodes literal into the kind of current.
func coerce(current any, literal string) (any, error) {
	decoded, decodeErr := decodeLiteral(literal)

	switch current.(type) {
	case int64:
		if n, ok := decoded.(int64); ok {
			return n, nil
		}
	case float64:
		switch n := decoded.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		}
	case bool:
		if b, ok := decoded.(bool); ok {
			return b, nil
		}
	case string:
		if str, ok := decoded.(string); ok {
			return str, nil
		}

		return literal, nil
	default:
		return nil, fmt.Errorf("field kind %T cannot be updated", current)
	}

	if decodeErr != nil {
		return nil, decodeErr
	}

	return nil, fmt.Errorf("want %T, got %T", current, decoded)
}
