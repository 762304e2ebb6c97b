package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope wraps every message in both directions. RequestID is
// client-generated and echoed back on direct error responses.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Decode parses an inbound frame strictly: malformed JSON or a missing type
// never reaches the router.
func Decode(data []byte) (*Envelope, *Error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ValidationError("malformed message envelope")
	}
	if env.Type == "" {
		return nil, ValidationError("missing message type")
	}
	return &env, nil
}

// DecodePayload unmarshals an envelope payload into the typed struct for its
// message type. A nil payload decodes as the zero value.
func DecodePayload(env *Envelope, v any) *Error {
	if len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return ValidationError(fmt.Sprintf("invalid payload for %s", env.Type))
	}
	return nil
}

// Encode builds an outbound frame.
func Encode(msgType, requestID string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(Envelope{Type: msgType, RequestID: requestID, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// EncodeError builds the error.v1 frame for a protocol error, echoing the
// request id of the message that caused it.
func EncodeError(perr *Error, requestID string) []byte {
	data, err := Encode(TypeError, requestID, ErrorPayload{
		Code:      perr.Code,
		Error:     perr.Tag,
		Message:   perr.Message,
		RequestID: requestID,
	})
	if err != nil {
		// ErrorPayload contains only scalars; this cannot fail in practice.
		return []byte(`{"type":"error.v1","payload":{"code":4999,"error":"INTERNAL_SERVER_ERROR","message":"encoding failure"}}`)
	}
	return data
}
