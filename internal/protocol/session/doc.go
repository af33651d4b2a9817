// Package session owns the correlation primitives shared by client and server sessions.
//
// Ownership boundary:
// - Exchange: one correlated request/response unit and its single-fire completion
// - Inflight: the id -> Exchange table for sent-but-unanswered requests
// - transport timeouts and frame limits shared by both ends
package session
