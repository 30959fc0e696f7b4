// Package coap exposes the relay and the lock simulator as CoAP resources
// over UDP.
//
// RelayServer mounts the relay engine: GET carries a control word, POST
// carries a request to capture or forward. LockServer serves a backend.Lock
// on its own so that a relay can forward to it with backend.CoAP.
//
// Every reply is text/plain and carries a one-byte ETag holding the reply
// length.
package coap
