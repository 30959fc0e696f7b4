// Package events carries relay events from the engine to observers.
//
// The engine publishes an Event for every operation it completes. A Bus
// numbers each event, gives it an ID, and hands it to its sinks on a
// background goroutine, so a slow sink never delays a relay. When the
// queue is full the event is dropped and counted.
//
// Sinks:
//
//   - FileSink appends JSON lines to a file or any io.Writer.
//   - MQTTSink publishes each event to "<prefix>/<kind>" over MQTT.
//   - Hub streams events to websocket subscribers.
//   - History keeps the most recent events in memory.
//
// Any sink can be wrapped with Filtered to receive only events that match
// an expression:
//
//	f, err := events.CompileFilter(`kind == "relay.released" && replyLength > 16`)
//	bus.AddSink(events.Filtered(sink, f))
package events
