package types

// Event is the flat wire form of a lifecycle event. Attribute values are
// decimal amounts, hex addresses or plain text, so the journal can hash and
// persist them without knowing the concrete event type.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attr returns the named attribute, or "" when it is absent.
func (e *Event) Attr(key string) string {
	if e == nil {
		return ""
	}
	return e.Attributes[key]
}
