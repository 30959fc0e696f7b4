package coap

import (
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/mux"

	"github.com/getmockd/relayd/pkg/backend"
	"github.com/getmockd/relayd/pkg/protocol"
)

var _ protocol.StandaloneServer = (*LockServer)(nil)

// LockServer serves a backend.Lock as a CoAP resource. POST applies the
// payload to the lock; GET returns whether it is open.
type LockServer struct {
	*resourceServer
	lock *backend.Lock
}

// NewLockServer creates a server for lock listening on addr and serving path.
func NewLockServer(lock *backend.Lock, addr, path string) *LockServer {
	s := &LockServer{
		resourceServer: newResourceServer("coap-lock", "CoAP lock simulator", addr, path),
		lock:           lock,
	}
	s.handler = s.serve
	return s
}

func (s *LockServer) serve(w mux.ResponseWriter, r *mux.Message) {
	switch r.Code() {
	case codes.POST:
		body, err := r.ReadBody()
		if err != nil {
			_ = reply(w, codes.BadRequest, nil)
			return
		}
		_ = reply(w, codes.Changed, []byte(s.lock.Apply(string(body))))
	case codes.GET:
		state := "closed"
		if s.lock.IsOpen() {
			state = "open"
		}
		_ = reply(w, codes.Content, []byte(state))
	default:
		_ = reply(w, codes.MethodNotAllowed, nil)
	}
}
