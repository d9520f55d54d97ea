/*
Package cache implements the gateway's TTL-based response cache for idempotent vehicle
reads.

Vehicle state changes slowly relative to how often users poll it, and every backend
round trip consumes OEM quota. The cache short-circuits repeat reads within an
operation-class-specific TTL window: status-like reads stay fresh for under a minute,
semi-static data such as capability lists for hours.

Only successful, side-effect-free reads are cached. Command results never enter the
cache, and a successful mutating command drops every entry for the affected resource
so stale pre-mutation state is never served afterwards.

Entries are bounded both by TTL and by an LRU capacity limit, so memory stays bounded
under many distinct resources. The cache is sharded internally; concurrent requests
for unrelated resources do not contend on a shared lock.
*/
package cache
