// Package records defines the typed record structs decoded from the
// marketplace APIs and the identity keys used to recognize the same
// record across chunk fetches.
//
// Identity rules: an explicit unique id field when the source API
// provides one, otherwise a composite key built from a fixed ordered
// field list. Records lacking any identity report ok=false and are kept
// by the aggregator, flagged suspicious.
package records

import "strings"

// Record is the unit the deduplicating aggregator operates on.
type Record interface {
	// Identity returns the dedup key. ok is false when the record
	// carries no usable identity at all.
	Identity() (key string, ok bool)
}

// compositeKey joins the parts with "|" under the given prefix. ok is
// false when every part is empty.
func compositeKey(prefix string, parts ...string) (string, bool) {
	empty := true
	for _, p := range parts {
		if p != "" {
			empty = false
			break
		}
	}
	if empty {
		return "", false
	}
	return prefix + ":" + strings.Join(parts, "|"), true
}
