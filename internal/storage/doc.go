package storage

// Package storage provides the persistence layer used by the tracker.
//
// It stores:
//   - User records (tracked sellers + seen-sets), keyed by user id
//   - Seller inventory snapshots, keyed by seller id
//   - Per-seller last-checked timestamps (best-effort throttle state)
//   - An append-only notification audit log
//
// Records are opaque JSON blobs; marshaling belongs to the owning package
// (userdata, inventory). Three drivers share the same interface: a plain
// file backend, SQLite and Postgres.
