package types

// AlarmMessage is an opaque alarm notification relayed between channels.
// The payload is never inspected or rewritten.
type AlarmMessage struct {
	// ID is the identifier assigned by the inbound channel, if any
	ID string `json:"id,omitempty"`

	// Subject is the optional message subject (SNS Subject)
	Subject string `json:"subject,omitempty"`

	// Payload is the message body, forwarded byte for byte
	Payload []byte `json:"payload"`

	// Attributes are inbound string attributes, forwarded where the outbound channel supports them
	Attributes map[string]string `json:"attributes,omitempty"`
}
