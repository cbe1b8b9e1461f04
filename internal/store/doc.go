// Package store provides sendbot's persistence layer on embedded SQLite.
//
// It owns the tables the dispatch engine reads (users, message templates,
// targets, settings) and the tables the engine writes (quarantine entries and
// the append-only dispatch log). Schema lives in migrations.sql and is applied
// on open.
package store
