package protocol

// ProtocolVersion is bumped whenever an event payload changes shape.
const ProtocolVersion = 1

// Event names pushed from the gateway to websocket watchers.
const (
	EventHealth   = "health"
	EventMessage  = "message"
	EventTurn     = "turn"
	EventCommand  = "command"
	EventError    = "error"
	EventShutdown = "shutdown"
)

// Message event subtypes (in payload.type)
const (
	MessageEventAccepted    = "accepted"
	MessageEventSkipped     = "skipped"
	MessageEventRateLimited = "rate_limited"
	MessageEventCooldown    = "cooldown"
	MessageEventInactive    = "inactive_channel"
)

// Turn event subtypes (in payload.type)
const (
	TurnEventStarted   = "started"
	TurnEventBatched   = "batched"
	TurnEventChunkSent = "chunk.sent"
	TurnEventCompleted = "completed"
	TurnEventEmpty     = "empty"
	TurnEventAborted   = "aborted"
	TurnEventFailed    = "failed"
)
