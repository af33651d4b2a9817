// Package server accepts TCP connections and exposes their request frames to an
// external handler.
//
// Ownership boundary:
// - Server: listener, accept loop, session registry, shared inbound queue, error log
// - Conn: one accepted connection with its reader/writer goroutines and outbound queue
//
// A handler drains Server.TakeReceived and answers through Conn.Push or
// Conn.Respond, reusing the request exchange so the response keeps its id.
package server
