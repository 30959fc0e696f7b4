package mqtt

import (
	"bytes"
	"crypto/subtle"
	"strings"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
)

// aclHook authenticates clients of the event broker. Listed users may
// publish and subscribe. When AnonymousRead is set, clients without a
// username are let in as watchers that can subscribe but never publish, so
// only the relay's own sink can put events on the wire.
type aclHook struct {
	mqtt.HookBase
	config *AuthConfig
}

func newACLHook(config *AuthConfig) *aclHook {
	return &aclHook{config: config}
}

func (h *aclHook) ID() string { return "relayd-acl" }

func (h *aclHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
	}, []byte{b})
}

func (h *aclHook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	username := cl.Properties.Username
	if len(username) == 0 {
		return h.config.AnonymousRead
	}
	for _, user := range h.config.Users {
		if subtle.ConstantTimeCompare([]byte(user.Username), username) == 1 &&
			subtle.ConstantTimeCompare([]byte(user.Password), pk.Connect.Password) == 1 {
			return true
		}
	}
	return false
}

func (h *aclHook) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	if !write {
		return true
	}
	return len(cl.Properties.Username) > 0
}

// matchTopic reports whether topic matches an MQTT filter with + and #
// wildcards.
func matchTopic(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		switch {
		case f == "#":
			return true
		case i >= len(ts):
			return false
		case f != "+" && f != ts[i]:
			return false
		}
	}
	return len(fs) == len(ts)
}

// observeHook counts published events, hands them to in-process
// subscribers and logs watcher connections.
type observeHook struct {
	mqtt.HookBase
	broker *Broker
}

func (h *observeHook) ID() string { return "relayd-observe" }

func (h *observeHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnPublish,
		mqtt.OnConnect,
		mqtt.OnDisconnect,
	}, []byte{b})
}

func (h *observeHook) OnPublish(cl *mqtt.Client, pk packets.Packet) (packets.Packet, error) {
	h.broker.published.Add(1)
	h.broker.notifySubscribers(pk.TopicName, pk.Payload)
	return pk, nil
}

func (h *observeHook) OnConnect(cl *mqtt.Client, pk packets.Packet) error {
	h.broker.logger().Debug("event watcher connected",
		"clientId", cl.ID, "remote", cl.Net.Remote, "anonymous", len(cl.Properties.Username) == 0)
	return nil
}

func (h *observeHook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	h.broker.logger().Debug("event watcher disconnected", "clientId", cl.ID, "error", err)
}
