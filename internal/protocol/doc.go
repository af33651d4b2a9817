// Package protocol owns the wire contract shared by clients and servers.
//
// Ownership boundary:
// - frame: little-endian id/length header and payload codec
// - session: exchanges, the in-flight table, per-session transport config
package protocol
