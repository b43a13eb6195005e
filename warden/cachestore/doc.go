// Component for caching short strings (eg, user network hosts) with a fixed TTL and purging.
//
// Includes an interface and implementations using redis and in-process memory.
//
// The chat transport fills this from join prefixes and WHO replies, and the sanction
// executor reads it to build host-based ban masks. Entries are best-effort: a miss is
// normal and callers fall back to something else.
package cachestore
