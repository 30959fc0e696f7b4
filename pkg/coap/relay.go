package coap

import (
	"errors"

	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/mux"

	"github.com/getmockd/relayd/pkg/protocol"
	"github.com/getmockd/relayd/pkg/relay"
)

var (
	_ protocol.Handler          = (*RelayServer)(nil)
	_ protocol.StandaloneServer = (*RelayServer)(nil)
)

// RelayServer exposes a relay.Engine as a CoAP resource.
type RelayServer struct {
	*resourceServer
	engine *relay.Engine
}

// NewRelayServer creates a server for engine listening on addr and serving
// path. Empty values fall back to DefaultAddr and DefaultPath.
func NewRelayServer(engine *relay.Engine, addr, path string) *RelayServer {
	s := &RelayServer{
		resourceServer: newResourceServer("coap-relay", "CoAP relay", addr, path),
		engine:         engine,
	}
	s.handler = s.serve
	return s
}

func (s *RelayServer) serve(w mux.ResponseWriter, r *mux.Message) {
	body, err := r.ReadBody()
	if err != nil {
		s.logger().Warn("reading CoAP request body", "error", err)
		_ = reply(w, codes.BadRequest, nil)
		return
	}

	var resp relay.Response
	switch r.Code() {
	case codes.GET:
		resp, err = s.engine.HandleGet(r.Context(), body)
	case codes.POST:
		resp, err = s.engine.HandlePost(r.Context(), body)
	default:
		_ = reply(w, codes.MethodNotAllowed, nil)
		return
	}

	if err != nil {
		_ = reply(w, errorCode(err), []byte(err.Error()))
		return
	}
	if resp.Stored {
		_ = reply(w, codes.Changed, nil)
		return
	}
	if werr := reply(w, codes.Content, resp.Payload); werr != nil {
		s.logger().Warn("writing CoAP response", "error", werr)
	}
}

// errorCode maps relay errors to CoAP response codes.
func errorCode(err error) codes.Code {
	switch {
	case errors.Is(err, relay.ErrPayloadTooLarge):
		return codes.RequestEntityTooLarge
	case errors.Is(err, relay.ErrNothingStored):
		return codes.NotFound
	case errors.Is(err, relay.ErrBackendUnavailable):
		return codes.ServiceUnavailable
	case errors.Is(err, relay.ErrReplyTooLarge):
		return codes.BadGateway
	default:
		return codes.InternalServerError
	}
}
