// Keyed record storage for per-user moderation state (violation histories, phone ledgers).
//
// Includes an interface and implementations using redis and in-process memory. Values are
// stored whole: callers read a record, modify their copy, and put it back. Serializing
// writes for a single key is the caller's job.
package ledgerstore
