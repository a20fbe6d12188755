// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool used by the
// durable storage backend.
//
// It wraps zombiezen.com/go/sqlite with the homeserver's defaults: WAL
// journal mode, FULL synchronous commits (the event log is the source
// of truth, so a committed event must survive power loss), and a busy
// timeout to absorb write contention.
//
// The pool is built on zombiezen's sqlitex.Pool, which manages a
// fixed-size set of connections. Callers [Pool.Take] a connection,
// perform work, and [Pool.Put] it back, or use [Pool.Read] and
// [Pool.Write] to run a function inside a transaction.
//
// # Pragmas
//
//   - journal_mode=WAL: readers never block the writer and the writer
//     never blocks readers.
//   - synchronous=FULL (configurable to NORMAL).
//   - busy_timeout=5000: wait up to 5 seconds for the write lock
//     instead of failing with SQLITE_BUSY.
//   - foreign_keys=ON: events reference their room row.
//   - cache_size=-8192: 8 MB page cache per connection.
//   - temp_store=MEMORY.
//
// # Usage
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   "/var/lib/homeserver/homeserver.db",
//	    Logger: logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	err = pool.Write(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "INSERT INTO ...", &sqlitex.ExecOptions{Args: args})
//	})
package sqlitepool
