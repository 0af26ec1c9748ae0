// Package cache provides an optional Redis-backed cache for chunk fetch
// results. Fully-elapsed historical date ranges do not change between
// pulls, so re-serving them from cache saves both time and rate budget.
//
// The fetcher consults the cache before acquiring a rate-limit slot and
// stores successful chunk results with a TTL taken from the api_type's
// profile. A CacheTTL of zero disables caching for that api_type. Cache
// errors always degrade to a miss; they never fail a fetch.
//
// Keys are deterministic: api_type, chunk bounds, and any extra request
// parameters in sorted order.
package cache
