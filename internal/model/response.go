package model

// ResultResponse is the envelope for recognition endpoints. Result is a
// string for classification, a number (or error string) for compute, a
// text-to-center mapping for detection, and an offset pair for sliders.
type ResultResponse struct {
	Result interface{} `json:"result"`
}

// TokenResponse is the envelope for single-token admin endpoints.
type TokenResponse struct {
	Success bool   `json:"success"`
	Token   Token  `json:"token"`
	Message string `json:"message,omitempty"`
}

// TokenListResponse is the envelope for the token listing endpoint. Secrets
// are masked before they reach this envelope.
type TokenListResponse struct {
	Success bool    `json:"success"`
	Tokens  []Token `json:"tokens"`
}

// StatusResponse reports whether the service has been provisioned with any
// tokens. It is the only admin endpoint served without authentication.
type StatusResponse struct {
	Configured bool `json:"configured"`
	TokenCount int  `json:"token_count"`
}

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
