package cache

import "time"

// Entry is one cached chunk result. Payload holds the JSON-encoded
// record list; the fetch function that stored it knows how to decode it
// back into typed records.
type Entry struct {
	Payload  []byte    `json:"payload"`
	Count    int       `json:"count"`
	CachedAt time.Time `json:"cached_at"`
	Expires  time.Time `json:"expires"`
}

// IsExpired returns true if the entry is past its expiry.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration, or 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
