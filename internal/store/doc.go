// Package store provides durable persistence for the gateway.
//
// Two concerns live here: channel links (which external chat belongs to which
// workspace, one-to-one in both directions, last link wins) and the outbound
// reply queue that backs best-effort channel delivery with replay. Backed by
// SQLite via modernc.org/sqlite with WAL enabled.
package store
