package jsvm

import (
	"fmt"
	"regexp"
	"strings"
)

var identRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// splitClassName splits an internal ("pkg/App") or binary ("pkg.App")
// class name into the property path the managed side walks.
func splitClassName(name string) ([]string, error) {
	if name == "" {
		return nil, fmt.Errorf("empty class name")
	}
	segs := strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '.' })
	if len(segs) == 0 || strings.HasPrefix(name, "/") || strings.HasPrefix(name, ".") ||
		strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".") ||
		strings.Contains(name, "//") || strings.Contains(name, "..") {
		return nil, fmt.Errorf("malformed class name %q", name)
	}
	for _, s := range segs {
		if !identRe.MatchString(s) {
			return nil, fmt.Errorf("malformed class name %q: segment %q is not an identifier", name, s)
		}
	}
	return segs, nil
}

// displayName renders a class name with dots for logs.
func displayName(name string) string {
	return strings.ReplaceAll(name, "/", ".")
}
