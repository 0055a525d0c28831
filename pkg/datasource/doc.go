// Package datasource provides Connection Sources: bounded pools of raw
// database connections handed out as PooledConn handles.
//
// A Pool opens raw connections lazily up to its maximum size and reuses idle
// ones in LIFO order. Borrow blocks when every connection is checked out.
// Each raw connection carries a generation counter, so stale or repeated
// releases are detected without serialising unrelated borrows and releases.
//
// Closing a Pool wakes blocked borrowers, terminates idle connections and,
// unless ForceClose is set, reports connections that are still checked out
// as a *LeakError. Close may be called again once the leaked handles are
// released or terminated.
package datasource
