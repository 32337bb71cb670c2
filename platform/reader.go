// Package platform reads the hosting configuration that Platform.sh injects
// into every container as PLATFORM_* environment variables.
package platform

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// DefaultPrefix is prepended to every variable the platform injects
const DefaultPrefix = "PLATFORM_"

var (
	ErrNotValidPlatform = errors.New("not running on a Platform.sh environment")
	ErrBuildPhase       = errors.New("relationships are not available during the build phase")
	ErrNoRelationship   = errors.New("no relationship defined")
	ErrMalformed        = errors.New("malformed platform variable")
)

// Variables is the flat snapshot decoded from PLATFORM_VARIABLES
type Variables map[string]string

// Keys returns the variable names in sorted order
func (v Variables) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reader exposes the platform configuration of the current process.
// The environment is read once, when the Reader is created.
type Reader struct {
	prefix string
	env    map[string]string

	relationships map[string][]Credential
	relErr        error
	relLoaded     bool
}

// ReaderOption customises a Reader
type ReaderOption func(*Reader)

// WithEnviron reads from the given KEY=VALUE pairs instead of os.Environ
func WithEnviron(environ []string) ReaderOption {
	return func(r *Reader) {
		r.env = parseEnviron(environ)
	}
}

// WithPrefix overrides the PLATFORM_ prefix, as local emulators do
func WithPrefix(prefix string) ReaderOption {
	return func(r *Reader) {
		r.prefix = prefix
	}
}

// NewReader snapshots the process environment
func NewReader(opts ...ReaderOption) *Reader {
	r := &Reader{prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(r)
	}
	if r.env == nil {
		r.env = parseEnviron(os.Environ())
	}
	return r
}

func parseEnviron(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, pair := range environ {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		m[k] = v
	}
	return m
}

func (r *Reader) value(name string) string {
	return r.env[r.prefix+name]
}

// IsValidPlatform reports whether the process runs inside a platform container
func (r *Reader) IsValidPlatform() bool {
	return r.value("APPLICATION_NAME") != ""
}

// InBuild reports whether the process runs during the build hook
func (r *Reader) InBuild() bool {
	return r.IsValidPlatform() && r.value("ENVIRONMENT") == ""
}

// InRuntime reports whether the process runs in a deployed environment
func (r *Reader) InRuntime() bool {
	return r.IsValidPlatform() && r.value("ENVIRONMENT") != ""
}

func (r *Reader) ApplicationName() string { return r.value("APPLICATION_NAME") }
func (r *Reader) Environment() string     { return r.value("ENVIRONMENT") }
func (r *Reader) Branch() string          { return r.value("BRANCH") }
func (r *Reader) ProjectID() string       { return r.value("PROJECT") }

// Credentials returns the first endpoint bound to the named relationship
func (r *Reader) Credentials(relationship string) (Credential, error) {
	if !r.IsValidPlatform() {
		return Credential{}, ErrNotValidPlatform
	}
	if r.InBuild() {
		return Credential{}, ErrBuildPhase
	}

	rels, err := r.loadRelationships()
	if err != nil {
		return Credential{}, err
	}

	endpoints, ok := rels[relationship]
	if !ok || len(endpoints) == 0 {
		return Credential{}, fmt.Errorf("%w: %s", ErrNoRelationship, relationship)
	}
	return endpoints[0], nil
}

// HasRelationship reports whether the named relationship is bound
func (r *Reader) HasRelationship(relationship string) bool {
	rels, err := r.loadRelationships()
	if err != nil {
		return false
	}
	return len(rels[relationship]) > 0
}

func (r *Reader) loadRelationships() (map[string][]Credential, error) {
	if r.relLoaded {
		return r.relationships, r.relErr
	}
	r.relLoaded = true

	raw := r.value("RELATIONSHIPS")
	if raw == "" {
		r.relationships = map[string][]Credential{}
		return r.relationships, nil
	}

	rels := map[string][]Credential{}
	if err := decodeBase64JSON(raw, &rels); err != nil {
		r.relErr = fmt.Errorf("%w: %sRELATIONSHIPS: %v", ErrMalformed, r.prefix, err)
		return nil, r.relErr
	}
	r.relationships = rels
	return rels, nil
}

// Variables decodes PLATFORM_VARIABLES. A missing variable yields an empty map.
func (r *Reader) Variables() (Variables, error) {
	raw := r.value("VARIABLES")
	if raw == "" {
		return Variables{}, nil
	}

	decoded := map[string]json.RawMessage{}
	if err := decodeBase64JSON(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %sVARIABLES: %v", ErrMalformed, r.prefix, err)
	}

	vars := make(Variables, len(decoded))
	for name, msg := range decoded {
		vars[name] = renderValue(msg)
	}
	return vars, nil
}

// Variable returns a single value from PLATFORM_VARIABLES, or "" when unset
func (r *Reader) Variable(name string) string {
	vars, err := r.Variables()
	if err != nil {
		return ""
	}
	return vars[name]
}

func decodeBase64JSON(raw string, out interface{}) error {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// renderValue flattens a JSON value into the string form an env var can carry
func renderValue(msg json.RawMessage) string {
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		return s
	}
	var b bool
	if err := json.Unmarshal(msg, &b); err == nil {
		return strconv.FormatBool(b)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, msg); err != nil {
		return strings.TrimSpace(string(msg))
	}
	if buf.String() == "null" {
		return ""
	}
	return buf.String()
}
