package services

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
)

// allowlistFileKey is accepted as a KEY=a,b,c line inside an allow-list file
const allowlistFileKey = "PLATFORMENV_ALLOWED_VARIABLES"

// Allowlist is the set of variable names allowed into the public environment
type Allowlist map[string]struct{}

// NewAllowlist builds an allow-list from names, ignoring blanks
func NewAllowlist(names ...string) Allowlist {
	a := make(Allowlist, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			a[n] = struct{}{}
		}
	}
	return a
}

// Allows reports whether name is in the list. Matching is exact.
func (a Allowlist) Allows(name string) bool {
	_, ok := a[name]
	return ok
}

// Names returns the sorted members
func (a Allowlist) Names() []string {
	names := make([]string, 0, len(a))
	for n := range a {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LoadAllowlist merges the configured names with those listed in filePath.
// The file holds one name per line, or KEY=a,b,c lines; # starts a comment.
// A missing file is an error so that a typo in the path is noticed.
func LoadAllowlist(names []string, filePath string) (Allowlist, error) {
	a := NewAllowlist(names...)
	if filePath == "" {
		return a, nil
	}

	f, err := os.Open(filePath)
	if err != nil {
		return a, fmt.Errorf("open allow-list file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, allowlistFileKey+"=") {
			val := strings.TrimSpace(strings.TrimPrefix(line, allowlistFileKey+"="))
			val = strings.Trim(val, "\"'")
			for _, n := range strings.Split(val, ",") {
				if n = strings.TrimSpace(n); n != "" {
					a[n] = struct{}{}
				}
			}
			continue
		}
		a[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return a, fmt.Errorf("read allow-list file: %w", err)
	}
	return a, nil
}
