package channel

import "padington/internal/ids"

// SignalQueueCapacity is the bounded capacity of a member's private
// directed-signal queue. Enqueuing past this drops the signal with a
// warning; senders are never blocked on a slow or stuck receiver.
const SignalQueueCapacity = 20

// SignalEnvelope is one directed signal queued for delivery to a member.
type SignalEnvelope struct {
	From        ids.UserID
	PayloadJSON string
}

// PublicMember is the subset of a member's fields visible to peers.
type PublicMember struct {
	Name  string `json:"name"`
	Audio bool   `json:"audio"`
}

// member is the channel actor's private bookkeeping for one attached user.
type member struct {
	Name   string
	Audio  bool
	Signal chan<- SignalEnvelope
}

func (m *member) public() PublicMember {
	return PublicMember{Name: m.Name, Audio: m.Audio}
}
