// Package events defines the derived event types the monitor emits and the
// payload shapes carried to the downstream webhook receiver.
package events

// Event couples a wire event type with its payload. Payloads are maps or
// structs that marshal to the documented JSON shapes.
type Event struct {
	Type    string
	Payload any
}

// Live lifecycle events.
const (
	TypeLiveStarted        = "youtube.live.started"
	TypeLiveUpdate         = "youtube.live.update"
	TypeLiveViewersUpdated = "youtube.live.viewers_updated"
	TypeLiveEnded          = "youtube.live.ended"
)

// Chat activity events.
const (
	TypeChatMessage        = "youtube.chat.message"
	TypeChatSuperchat      = "youtube.chat.superchat"
	TypeChatSupersticker   = "youtube.chat.supersticker"
	TypeChatNewSponsor     = "youtube.chat.new_sponsor"
	TypeChatUserBanned     = "youtube.chat.user_banned"
	TypeChatMessageDeleted = "youtube.chat.message_deleted"
	TypeChatPoll           = "youtube.chat.poll"
)

// Supported lists every event type the service can emit, in a stable order
// used by the /data/events listing.
var Supported = []string{
	TypeLiveStarted,
	TypeLiveUpdate,
	TypeLiveViewersUpdated,
	TypeLiveEnded,
	TypeChatMessage,
	TypeChatSuperchat,
	TypeChatNewSponsor,
	TypeChatSupersticker,
	TypeChatUserBanned,
	TypeChatMessageDeleted,
	TypeChatPoll,
}

// IsSupported reports whether t is a known event type.
func IsSupported(t string) bool {
	for _, s := range Supported {
		if s == t {
			return true
		}
	}
	return false
}
