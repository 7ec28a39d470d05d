package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Command intake.
	ErrQueueFull  = "E_QUEUE_FULL"
	ErrBadCommand = "E_BAD_COMMAND"

	// World state.
	ErrWorldHalted = "E_WORLD_HALTED"
	ErrInternal    = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrQueueFull:       {},
	ErrBadCommand:      {},
	ErrWorldHalted:     {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
