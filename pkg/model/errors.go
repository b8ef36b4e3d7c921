package model

// ErrorResponse is the body of every non-200 response from the query route.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
