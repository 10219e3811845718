// Package repository implements the durable record store over SQLite.
package repository

// Ordering expression shared by every chronological query. serverTimestamp is
// authoritative for community messages, then sent_at, then received_at.
const orderingExpr = "COALESCE(NULLIF(server_timestamp, 0), NULLIF(sent_at, 0), received_at)"

// StoreOptions configure the store implementations.
type StoreOptions struct {
	// OurPubkey is the local identity, used for mention detection.
	OurPubkey string
	// FTSEnabled is false when the SQLite build lacks the FTS5 module.
	FTSEnabled bool
}
