package cache

import (
	"sort"
	"strings"
	"time"

	"github.com/sellerpulse/marketfetch/pkg/chunker"
)

// Key identifies one cached chunk result.
type Key struct {
	// APIType is the profile key of the endpoint family.
	APIType string

	// From/To are the chunk bounds.
	From time.Time
	To   time.Time

	// Params are extra request parameters that change the result shape
	// (e.g. a flag=1 full-history pull).
	Params map[string]string
}

// String generates the deterministic Redis key.
// Format: mf:api_type:from:to[:param=value...]
func (k Key) String() string {
	parts := []string{
		"mf",
		k.APIType,
		k.From.Format(chunker.DateFormat),
		k.To.Format(chunker.DateFormat),
	}

	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			parts = append(parts, name+"="+k.Params[name])
		}
	}

	return strings.Join(parts, ":")
}
