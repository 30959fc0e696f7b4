// Package relay implements the store/forward/release state machine that sits
// between a client and a backend endpoint.
//
// An inbound request is handled in one of three ways:
//
//   - forwarded synchronously to the backend, with the backend's reply relayed
//     back to the caller;
//   - stored (when the engine was armed by a "store" command), with no backend
//     call and no business reply;
//   - released later by a "release" command, which replays the stored request
//     against the backend and hands the reply to whoever issued the release.
//
// The Engine owns every piece of mutable state (the arm flag, the stored slot
// and the relay buffer) behind a single mutex, so at most one relay is in
// flight process-wide.
//
// # Usage
//
//	eng := relay.New(backend.NewLock(), relay.WithLogger(logger))
//
//	eng.HandleGet(ctx, []byte("store"))   // "Storing activated"
//	eng.HandlePost(ctx, []byte("open"))   // captured, no backend call
//	resp, _ := eng.HandleGet(ctx, []byte("release"))
//	fmt.Println(string(resp.Payload))     // "Lock is now open"
package relay
