package proto

// Kind discriminates control messages.
type Kind string

const (
	// KindDeclare client -> server: register domains for this session.
	KindDeclare Kind = "declare"
	// KindAck server -> client: declaration accepted.
	KindAck Kind = "ack"
	// KindError server -> client: declaration rejected, session will close.
	KindError Kind = "error"
	// KindForward server -> client: open a data connection for the carried id.
	KindForward Kind = "forward"
	// KindPing / KindPong keep the control connection alive through NATs.
	KindPing Kind = "ping"
	KindPong Kind = "pong"
)

// Message is the single wire shape for all control messages; unused fields
// are omitted per kind.
type Message struct {
	Kind    Kind     `json:"kind"`
	Domains []string `json:"domains,omitempty"` // declare
	ID      string   `json:"id,omitempty"`      // forward (hex correlation id)
	Domain  string   `json:"domain,omitempty"`  // forward
	Reason  string   `json:"reason,omitempty"`  // error
}

func Declare(domains []string) *Message { return &Message{Kind: KindDeclare, Domains: domains} }

func Ack() *Message { return &Message{Kind: KindAck} }

func Error(reason string) *Message { return &Message{Kind: KindError, Reason: reason} }

func Forward(id ID, domain string) *Message {
	return &Message{Kind: KindForward, ID: id.String(), Domain: domain}
}

func Ping() *Message { return &Message{Kind: KindPing} }

func Pong() *Message { return &Message{Kind: KindPong} }
