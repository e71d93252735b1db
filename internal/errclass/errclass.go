// Package errclass sorts engine error messages into coarse categories for
// logs and metrics.
package errclass

import (
	"strings"
	"sync/atomic"
)

// Category classifies an engine error.
type Category int

const (
	// Network covers connection, timeout and resolution failures; a restart
	// may help.
	Network Category = iota
	// Codec covers decode and negotiation failures; a restart rarely helps.
	Codec
	// Auth covers rejected credentials.
	Auth
	Unknown
)

// Categories lists every category in display order.
var Categories = []Category{Network, Codec, Auth, Unknown}

func (c Category) String() string {
	switch c {
	case Network:
		return "network"
	case Codec:
		return "codec"
	case Auth:
		return "auth"
	default:
		return "unknown"
	}
}

// Keyword tables, most specific first. Engines do not expose a stable error
// domain through the bindings, so classification relies on message text.
var (
	authKeywords = []string{
		"unauthorized", "401", "403", "forbidden", "authentication",
		"credentials", "password", "username",
	}
	codecKeywords = []string{
		"codec", "decode", "encode", "format", "negotiation", "caps",
		"h264", "h265", "mjpeg", "jpeg", "not negotiated", "no decoder",
		"missing plugin",
	}
	networkKeywords = []string{
		"connection", "timeout", "timed out", "unreachable", "network", "dns",
		"resolve", "socket", "tcp", "udp", "rtsp", "not found",
		"could not connect", "failed to connect", "could not open resource",
		"could not read from resource",
	}
)

// Classify returns the category of an engine error given its message and
// debug string.
func Classify(text, debug string) Category {
	combined := strings.ToLower(text + " " + debug)
	switch {
	case containsAny(combined, authKeywords):
		return Auth
	case containsAny(combined, codecKeywords):
		return Codec
	case containsAny(combined, networkKeywords):
		return Network
	default:
		return Unknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// Counters counts errors per category. The zero value is ready to use.
type Counters struct {
	counts [4]atomic.Uint64
}

// Add records one error of category c.
func (c *Counters) Add(cat Category) {
	if cat < Network || cat > Unknown {
		cat = Unknown
	}
	c.counts[cat].Add(1)
}

// Snapshot returns the counts keyed by category name.
func (c *Counters) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, len(Categories))
	for _, cat := range Categories {
		out[cat.String()] = c.counts[cat].Load()
	}
	return out
}
