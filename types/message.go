package types

import "time"

// Broadcast is the reserved destination that fans a message out to every
// registered agent except the sender.
const Broadcast = "*"

// AgentMessage is a small payload directed from one agent to another (or all),
// delivered asynchronously by the router.
type AgentMessage struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Type    string    `json:"type"`
	Payload AgentData `json:"payload,omitempty"`
	SentAt  time.Time `json:"sent_at"`
}

// IsBroadcast reports whether the message targets all agents.
func (m AgentMessage) IsBroadcast() bool { return m.To == Broadcast }
