package grpctransport

import "encoding/json"

// envelope is the wire shape exchanged over every RPC this transport
// defines. Rather than generating .proto stubs for a dozen small message
// types, every method exchanges a wrapperspb.BytesValue whose Value is
// one JSON-encoded envelope: one generic frame carrying many logical
// message kinds.
type envelope struct {
	Subject string            `json:"subject,omitempty"`
	Reply   string            `json:"reply,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Payload []byte            `json:"payload,omitempty"`

	Bucket  string `json:"bucket,omitempty"`
	Key     string `json:"key,omitempty"`
	Version uint64 `json:"version,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

func marshalEnvelope(e envelope) ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalEnvelope(data []byte) (envelope, error) {
	var e envelope
	err := json.Unmarshal(data, &e)
	return e, err
}
