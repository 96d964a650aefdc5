// Package server implements the core of the parley multi-room chat
// service.
//
// Each connected client is a Session with its own read/write pumps; the
// Dispatcher runs a per-session request state machine; the Directory is the
// single serialized source of truth for room and username uniqueness; and
// the Broadcaster fans notifications out over membership snapshots taken
// under the Directory lock. The implementation is organized into
// specialized files for each of these concerns plus configuration, origin
// policy, rate limiting, and the SQLite transcript store.
package server
