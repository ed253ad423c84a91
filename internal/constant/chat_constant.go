package constant

// Client -> server frame types.
const (
	ChatActionJoin      = "join"
	ChatActionLeave     = "leave"
	ChatActionSend      = "send"
	ChatActionMarkRead  = "markRead"
	ChatActionSetTyping = "setTyping"
	ChatActionSetStatus = "setStatus"
)

// Server -> client event types.
const (
	ChatEventJoined            = "joined"
	ChatEventRecentHistory     = "recentHistory"
	ChatEventPresenceList      = "presenceList"
	ChatEventParticipantJoined = "participantJoined"
	ChatEventParticipantLeft   = "participantLeft"
	ChatEventNewMessage        = "newMessage"
	ChatEventMessageDelivered  = "messageDelivered"
	ChatEventMessageReadBy     = "messageReadBy"
	ChatEventUserTyping        = "userTyping"
	ChatEventUserStoppedTyping = "userStoppedTyping"
	ChatEventUserStatusChanged = "userStatusChanged"
	ChatEventError             = "error"
)

// Durable NATS consumer name for membership revocations.
const ChatRevocationConsumer = "chat-membership-revocations"
