package relay

// Command is a control word recognised on the GET verb.
type Command int

// Control commands.
const (
	CommandInvalid Command = iota
	CommandStore
	CommandRelease
)

// Control words, matched byte-for-byte.
const (
	wordStore   = "store"
	wordRelease = "release"
)

// ParseCommand classifies a GET payload. Matching is exact and
// case-sensitive; no trimming or prefix matching is done.
func ParseCommand(payload []byte) Command {
	switch string(payload) {
	case wordStore:
		return CommandStore
	case wordRelease:
		return CommandRelease
	default:
		return CommandInvalid
	}
}

// String returns the control word, or "invalid".
func (c Command) String() string {
	switch c {
	case CommandStore:
		return wordStore
	case CommandRelease:
		return wordRelease
	default:
		return "invalid"
	}
}
