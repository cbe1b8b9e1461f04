// Package quarantine tracks which (user, target) pairs are temporarily or
// permanently ineligible for dispatch.
//
// # Entries
//
// An entry is either permanent (removed only explicitly) or temporary with an
// expiry. At most one active entry exists per (user, chat) key; adding a new
// entry atomically replaces the old one. A temporary entry past its expiry is
// treated as inactive immediately, even before cleanup deletes the row.
//
// # Classification
//
// Provider failures are turned into quarantine decisions by Classify: throttle
// errors become temporary entries sized by the reported wait, permission-class
// errors become permanent entries, and anything unrecognized becomes a
// conservative one-hour temporary entry so a transient failure never bans a
// target forever.
package quarantine
