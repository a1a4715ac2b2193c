package response

const (
	ErrCodeSuccess         = 2000 // Success
	ErrCodeParamInvalid    = 4003 // Request payload invalid
	ErrCodeUnauthorized    = 4010 // Missing or invalid token
	ErrCodeForbidden       = 4030 // Caller is not a participant
	ErrCodeNotFound        = 4040 // Conversation not found
	ErrCodeTooManyRequests = 4290 // Rate limited
	ErrCodeInternal        = 5000 // Internal error
)

// message
var msg = map[int]string{
	ErrCodeSuccess:         "success",
	ErrCodeParamInvalid:    "invalid request",
	ErrCodeUnauthorized:    "unauthorized",
	ErrCodeForbidden:       "access to conversation denied",
	ErrCodeNotFound:        "conversation not found",
	ErrCodeTooManyRequests: "rate limit exceeded",
	ErrCodeInternal:        "internal server error",
}

// Message returns the human readable text for an application code.
func Message(code int) string {
	if m, ok := msg[code]; ok {
		return m
	}
	return msg[ErrCodeInternal]
}
