// Package cache provides file-based caching with TTL expiration for
// suggestion lists fetched from the memory service.
//
// Entries are JSON files under the configured cache directory (by default
// ~/.memctl/cache), keyed by a SHA256 of the list filter. A successful
// execution invalidates every stored list, since it changes what the service
// would suggest next.
package cache
