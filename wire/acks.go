package wire

// Error codes carried in acks and REST error responses. The squad SDK maps
// these onto its error taxonomy.
const (
	CodeAuthRequired = "auth-required"
	CodeNotFound     = "not-found"
	CodeFull         = "full"
	CodeServerError  = "server-error"
)

// ResultAck is the minimal ACK response shape used by socket handlers.
type ResultAck struct {
	// Result is "success" or "error".
	Result string `json:"result"`
	// Code is a machine-readable error code when Result is "error".
	Code string `json:"code,omitempty"`
	// Message is an optional error annotation.
	Message string `json:"message,omitempty"`
}

// SquadAck is the ACK response for create-squad and join-squad.
type SquadAck struct {
	Result string `json:"result"`
	Code   string `json:"code,omitempty"`
	// Squad is present on success.
	Squad *Squad `json:"squad,omitempty"`
}

// OK returns a success ack.
func OK() ResultAck { return ResultAck{Result: "success"} }

// Err returns an error ack with a code and message.
func Err(code, message string) ResultAck {
	return ResultAck{Result: "error", Code: code, Message: message}
}
