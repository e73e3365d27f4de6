package transport

import "encoding/json"

// Outbound event names.
const (
	EvtAuthenticate     = "authenticate"
	EvtJoinConversation = "join_conversation"
	EvtSendMessage      = "send_message"
	EvtMarkRead         = "mark_read"
	EvtTyping           = "typing"
	EvtDeleteMessage    = "delete_message"
)

// Inbound event names.
const (
	EvtNewMessage     = "new_message"
	EvtMessageRead    = "message_read"
	EvtOnlineStatus   = "online_status"
	EvtMessageDeleted = "message_deleted"

	evtAck = "ack"
)

// frame is the websocket wire envelope. Acks echo the Seq of the frame
// they acknowledge with Event set to "ack".
type frame struct {
	Event   string          `json:"event"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
