package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Role is the signaling role a client declares when it registers.
type Role string

const (
	RoleCamera  Role = "camera"
	RoleMonitor Role = "monitor"
)

func (r Role) Valid() bool {
	return r == RoleCamera || r == RoleMonitor
}

// Counterpart returns the role that receives lifecycle notifications about r.
func (r Role) Counterpart() Role {
	if r == RoleCamera {
		return RoleMonitor
	}
	return RoleCamera
}

type MessageType string

const (
	MessageTypeRegister            MessageType = "register"
	MessageTypeRegistered          MessageType = "registered"
	MessageTypeRequestOffer        MessageType = "request-offer"
	MessageTypeOffer               MessageType = "offer"
	MessageTypeAnswer              MessageType = "answer"
	MessageTypeICECandidate        MessageType = "ice-candidate"
	MessageTypeCameraDisconnected  MessageType = "camera-disconnected"
	MessageTypeMonitorDisconnected MessageType = "monitor-disconnected"
)

var ErrMalformedMessage = errors.New("malformed message")

// Inbound is a message sent by a client. The set of implementations is closed:
// RegisterMessage, OfferMessage, AnswerMessage, CandidateMessage and
// UnknownMessage.
type Inbound interface {
	inboundType() MessageType
}

type RegisterMessage struct {
	Role Role   `json:"role"`
	Name string `json:"name,omitempty"`
}

// OfferMessage carries an opaque session description from a camera. Offer,
// FromID and CameraName are kept as raw JSON so they are relayed exactly as
// received.
type OfferMessage struct {
	TargetID   string          `json:"targetId"`
	Offer      json.RawMessage `json:"offer,omitempty"`
	FromID     json.RawMessage `json:"fromId,omitempty"`
	CameraName json.RawMessage `json:"cameraName,omitempty"`
}

type AnswerMessage struct {
	TargetID string          `json:"targetId"`
	Answer   json.RawMessage `json:"answer,omitempty"`
	FromID   json.RawMessage `json:"fromId,omitempty"`
}

type CandidateMessage struct {
	TargetID  string          `json:"targetId"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	FromID    json.RawMessage `json:"fromId,omitempty"`
}

// UnknownMessage is any well-formed message whose type is not part of the
// client-to-server protocol. It is accepted and ignored.
type UnknownMessage struct {
	Type MessageType
}

func (RegisterMessage) inboundType() MessageType  { return MessageTypeRegister }
func (OfferMessage) inboundType() MessageType     { return MessageTypeOffer }
func (AnswerMessage) inboundType() MessageType    { return MessageTypeAnswer }
func (CandidateMessage) inboundType() MessageType { return MessageTypeICECandidate }
func (m UnknownMessage) inboundType() MessageType { return m.Type }

// ParseInbound decodes one client frame. Unknown fields are ignored so newer
// clients keep working; unknown message types decode to UnknownMessage.
func ParseInbound(data []byte) (Inbound, error) {
	var envelope struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch envelope.Type {
	case MessageTypeRegister:
		var msg RegisterMessage
		if err := decodeInbound(data, &msg); err != nil {
			return nil, err
		}
		if !msg.Role.Valid() {
			return nil, fmt.Errorf("%w: unsupported role %q", ErrMalformedMessage, msg.Role)
		}
		return msg, nil
	case MessageTypeOffer:
		var msg OfferMessage
		if err := decodeInbound(data, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case MessageTypeAnswer:
		var msg AnswerMessage
		if err := decodeInbound(data, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case MessageTypeICECandidate:
		var msg CandidateMessage
		if err := decodeInbound(data, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return UnknownMessage{Type: envelope.Type}, nil
	}
}

func decodeInbound(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}

// Outbound is a message the server sends to a client.
type Outbound interface {
	outboundType() MessageType
}

type RegisteredMessage struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id"`
}

type RequestOfferMessage struct {
	Type      MessageType `json:"type"`
	MonitorID string      `json:"monitorId"`
}

type ForwardedOffer struct {
	Type       MessageType     `json:"type"`
	Offer      json.RawMessage `json:"offer,omitempty"`
	FromID     json.RawMessage `json:"fromId,omitempty"`
	CameraName json.RawMessage `json:"cameraName,omitempty"`
}

type ForwardedAnswer struct {
	Type   MessageType     `json:"type"`
	Answer json.RawMessage `json:"answer,omitempty"`
	FromID json.RawMessage `json:"fromId,omitempty"`
}

type ForwardedCandidate struct {
	Type      MessageType     `json:"type"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	FromID    json.RawMessage `json:"fromId,omitempty"`
}

type CameraDisconnectedMessage struct {
	Type     MessageType `json:"type"`
	CameraID string      `json:"cameraId"`
}

type MonitorDisconnectedMessage struct {
	Type      MessageType `json:"type"`
	MonitorID string      `json:"monitorId"`
}

func (m RegisteredMessage) outboundType() MessageType          { return m.Type }
func (m RequestOfferMessage) outboundType() MessageType        { return m.Type }
func (m ForwardedOffer) outboundType() MessageType             { return m.Type }
func (m ForwardedAnswer) outboundType() MessageType            { return m.Type }
func (m ForwardedCandidate) outboundType() MessageType         { return m.Type }
func (m CameraDisconnectedMessage) outboundType() MessageType  { return m.Type }
func (m MonitorDisconnectedMessage) outboundType() MessageType { return m.Type }

func registered(id string) RegisteredMessage {
	return RegisteredMessage{Type: MessageTypeRegistered, ID: id}
}

func requestOffer(monitorID string) RequestOfferMessage {
	return RequestOfferMessage{Type: MessageTypeRequestOffer, MonitorID: monitorID}
}

func (m OfferMessage) forward() ForwardedOffer {
	return ForwardedOffer{Type: MessageTypeOffer, Offer: m.Offer, FromID: m.FromID, CameraName: m.CameraName}
}

func (m AnswerMessage) forward() ForwardedAnswer {
	return ForwardedAnswer{Type: MessageTypeAnswer, Answer: m.Answer, FromID: m.FromID}
}

func (m CandidateMessage) forward() ForwardedCandidate {
	return ForwardedCandidate{Type: MessageTypeICECandidate, Candidate: m.Candidate, FromID: m.FromID}
}

// departed builds the notification counterparts receive when a client with
// the given role leaves.
func departed(role Role, id string) Outbound {
	if role == RoleCamera {
		return CameraDisconnectedMessage{Type: MessageTypeCameraDisconnected, CameraID: id}
	}
	return MonitorDisconnectedMessage{Type: MessageTypeMonitorDisconnected, MonitorID: id}
}

// EncodeOutbound renders msg as a single JSON text frame.
func EncodeOutbound(msg Outbound) ([]byte, error) {
	return json.Marshal(msg)
}
