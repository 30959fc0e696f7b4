// Package mqtt provides a small embedded MQTT broker.
//
// relayd runs it when no external broker is available so that relay events
// can be published over MQTT and consumed by any MQTT client.
//
// # Basic Usage
//
//	broker, err := mqtt.NewBroker(&mqtt.Config{Port: 1883})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := broker.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//	defer broker.Stop(context.Background(), 5*time.Second)
//
//	broker.Publish("relayd/relay/released", []byte(`{"kind":"relay.released"}`), 0, false)
//
// # Authentication
//
// With Auth enabled, clients must present one of the configured
// username/password pairs. AnonymousRead additionally admits clients without
// credentials, but only to subscribe:
//
//	config := &mqtt.Config{
//	    Port: 1883,
//	    Auth: &mqtt.AuthConfig{
//	        Enabled:       true,
//	        Users:         []mqtt.User{{Username: "relayd", Password: "secret"}},
//	        AnonymousRead: true,
//	    },
//	}
//
// # Internal Subscriptions
//
// Subscribe registers an in-process handler for a topic pattern. Patterns
// support the MQTT wildcards + and #.
package mqtt
