package mqtt

// DefaultPort is the standard MQTT port.
const DefaultPort = 1883

// Config configures the embedded broker.
type Config struct {
	ID   string      `json:"id,omitempty" yaml:"id,omitempty"`
	Port int         `json:"port" yaml:"port"`
	Auth *AuthConfig `json:"auth,omitempty" yaml:"auth,omitempty"`
}

// AuthConfig configures username/password authentication. Listed users
// may publish; AnonymousRead admits clients without credentials as
// subscribe-only watchers.
type AuthConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	Users         []User `json:"users,omitempty" yaml:"users,omitempty"`
	AnonymousRead bool   `json:"anonymousRead" yaml:"anonymousRead"`
}

// User is an accepted username/password pair.
type User struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// SubscriptionHandler is a callback for received messages.
type SubscriptionHandler func(topic string, payload []byte)

// Stats contains broker statistics.
type Stats struct {
	Running     bool   `json:"running"`
	ClientCount int    `json:"clientCount"`
	Published   uint64 `json:"published"`
	Port        int    `json:"port"`
	AuthEnabled bool   `json:"authEnabled"`
}
