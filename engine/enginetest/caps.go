package enginetest

import (
	"fmt"
	"strconv"
	"strings"
)

// Caps is a parsed capability string of the form
// media/type,key=value,key=(type)value,key=(type){a,b}.
type Caps struct {
	Raw       string
	MediaType string
	Fields    map[string]string
}

func (c *Caps) String() string { return c.Raw }

// ParseCaps parses a capability string.
func ParseCaps(s string) (*Caps, error) {
	parts := splitTopLevel(s)
	if len(parts) == 0 || !strings.Contains(parts[0], "/") {
		return nil, fmt.Errorf("could not parse caps %q", s)
	}
	c := &Caps{Raw: s, MediaType: strings.TrimSpace(parts[0]), Fields: make(map[string]string)}
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("could not parse caps %q: bad field %q", s, p)
		}
		v = strings.TrimSpace(v)
		if strings.HasPrefix(v, "(") {
			if i := strings.Index(v, ")"); i >= 0 {
				v = v[i+1:]
			}
		}
		c.Fields[strings.TrimSpace(k)] = v
	}
	return c, nil
}

// Format returns the first accepted format.
func (c *Caps) Format() string {
	v := strings.Trim(c.Fields["format"], "{}")
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}

// Int returns an integer field.
func (c *Caps) Int(key string) (int, bool) {
	n, err := strconv.Atoi(c.Fields[key])
	return n, err == nil
}

// Framerate returns the framerate as a fraction, or 0/1 when unset.
func (c *Caps) Framerate() (num, den int) {
	v, ok := c.Fields["framerate"]
	if !ok {
		return 0, 1
	}
	n, d, _ := strings.Cut(v, "/")
	num, _ = strconv.Atoi(n)
	den, err := strconv.Atoi(d)
	if err != nil || den == 0 {
		den = 1
	}
	return num, den
}

func splitTopLevel(s string) []string {
	var (
		parts []string
		depth int
		start int
	)
	for i, r := range s {
		switch r {
		case '{', '[', '<':
			depth++
		case '}', ']', '>':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}
