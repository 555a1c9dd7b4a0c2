package gateway

import "encoding/json"

// Frame types for the WebSocket protocol.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// Methods accepted on /ws after the handshake.
const (
	MethodConnect      = "connect"
	MethodHealth       = "health"
	MethodChatSend     = "chat.send"
	MethodChatSub      = "chat.subscribe"
	MethodChatRead     = "chat.read"
	MethodVoiceStart   = "widget.voice.start"
	MethodVoiceStop    = "widget.voice.stop"
	MethodWidgetImage  = "widget.image"
	EventChallenge     = "connect.challenge"
	EventPrefix        = "chat."
	SubscribeAllTarget = "*"
)

// ProtocolVersion supported by this server.
const ProtocolVersion = 1

// Frame is the envelope of every WebSocket message.
type Frame struct {
	Type string `json:"type"`

	// Request fields
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// Response fields
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Event fields
	Event string `json:"event,omitempty"`
	Seq   int64  `json:"seq,omitempty"`

	Error *ErrorShape `json:"error,omitempty"`
}

// ErrorShape is the error format of response frames and admin HTTP errors.
type ErrorShape struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

// ConnectParams are sent by the widget in the "connect" request. Auth is
// only needed for operator consoles.
type ConnectParams struct {
	Client    ClientInfo   `json:"client"`
	SessionID string       `json:"sessionId,omitempty"`
	Auth      *ConnectAuth `json:"auth,omitempty"`
}

// ClientInfo identifies the connecting widget or console.
type ClientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// ConnectAuth carries an admin token or JWT.
type ConnectAuth struct {
	Token string `json:"token,omitempty"`
}

// HelloOK is the handshake response.
type HelloOK struct {
	Protocol int          `json:"protocol"`
	Server   ServerInfo   `json:"server"`
	Features Features     `json:"features"`
	Policy   ServerPolicy `json:"policy"`
	Admin    bool         `json:"admin,omitempty"`
}

// ServerInfo identifies the server.
type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	ConnID  string `json:"connId"`
}

// Features advertises methods and events.
type Features struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

// ServerPolicy communicates protocol limits to the client.
type ServerPolicy struct {
	MaxPayload int `json:"maxPayload"`
}

// NewRequest creates a request frame.
func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: raw}, nil
}

// NewResponse creates a success response frame.
func NewResponse(id string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	ok := true
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Payload: raw}, nil
}

// NewErrorResponse creates an error response frame.
func NewErrorResponse(id string, errShape ErrorShape) Frame {
	ok := false
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Error: &errShape}
}

// NewEvent creates an event frame.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeEvent, Event: event, Payload: raw, Seq: seq}, nil
}
