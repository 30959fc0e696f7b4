// Package protocol defines the lifecycle contract shared by relayd's servers.
//
// Every listener relayd runs (the CoAP relay resource, the CoAP lock
// simulator, the HTTP API and the embedded MQTT broker) implements Handler so
// that `relayd serve` can start, stop and health-check them uniformly through
// a Registry:
//
//	reg := protocol.NewRegistry()
//	_ = reg.Register(coapServer)
//	_ = reg.Register(httpServer)
//
//	if err := reg.StartAll(ctx); err != nil {
//	    return err
//	}
//	defer reg.StopAll(context.Background(), 5*time.Second)
//
// Handlers are started in registration order and stopped in reverse order.
package protocol
