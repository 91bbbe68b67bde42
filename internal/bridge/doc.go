// Package bridge exposes one peer over HTTP.
//
// POST /rpc accepts a single JSON-RPC request and answers with its response.
// /ws upgrades to a WebSocket where every text message is a request and every
// reply a response. GET /healthz reports the peer's counters.
//
// Requests are forwarded with the peer's own id space; the caller's id is
// echoed back. Notifications are accepted and dropped.
package bridge
