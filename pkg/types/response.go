package types

// ErrorBody is the JSON shape of every failed request.
type ErrorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// FieldError describes one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// CheckoutSessionResponse is returned after a hosted payment session is created.
type CheckoutSessionResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
	OrderID   string `json:"orderId"`
}

// WebhookAck acknowledges a verified webhook delivery.
type WebhookAck struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}

// OK is the body of commands that return nothing else.
type OK struct {
	OK bool `json:"ok"`
}
