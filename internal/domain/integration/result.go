package integration

// ErrorKind classifies a failed Result
type ErrorKind string

const (
	ErrorKindNone           ErrorKind = ""
	ErrorKindValidation     ErrorKind = "validation"
	ErrorKindRemote         ErrorKind = "remote"
	ErrorKindTransport      ErrorKind = "transport"
	ErrorKindNotImplemented ErrorKind = "not_implemented"
)

// errorKindKey is the reserved data key carrying the failure classification
const errorKindKey = "error_type"

// Messages shared by every channel
const (
	MessageInvalidCredentials = "Invalid credentials provided"
	MessageNoChannel          = "No integration set"
)

// Result is the immutable outcome of one channel operation.
type Result struct {
	success    bool
	message    string
	externalID *string
	data       map[string]any
	httpCode   *int
}

// Success creates a successful result. An empty externalID means none.
func Success(message, externalID string, data map[string]any) *Result {
	r := &Result{
		success: true,
		message: message,
		data:    copyData(data),
	}
	if externalID != "" {
		r.externalID = &externalID
	}
	return r
}

// Failure creates a failed result. A zero httpCode means none.
func Failure(message string, httpCode int, data map[string]any) *Result {
	r := &Result{
		message: message,
		data:    copyData(data),
	}
	if httpCode != 0 {
		r.httpCode = &httpCode
	}
	return r
}

// FailureOf creates a failed result tagged with an error kind
func FailureOf(kind ErrorKind, message string, httpCode int, data map[string]any) *Result {
	r := Failure(message, httpCode, data)
	if kind != ErrorKindNone {
		r.data[errorKindKey] = string(kind)
	}
	return r
}

// InvalidCredentials is the failure returned before any network call when
// credential validation fails.
func InvalidCredentials() *Result {
	return FailureOf(ErrorKindValidation, MessageInvalidCredentials, 0, nil)
}

// NotImplemented is the failure returned by stub providers
func NotImplemented(provider string) *Result {
	return FailureOf(ErrorKindNotImplemented, provider+" integration not implemented yet", 0, nil)
}

// NoChannel is the failure returned when no channel was selected
func NoChannel() *Result {
	return FailureOf(ErrorKindValidation, MessageNoChannel, 0, nil)
}

func copyData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

// IsSuccess reports whether the operation succeeded
func (r *Result) IsSuccess() bool { return r.success }

// Message returns the human-readable outcome
func (r *Result) Message() string { return r.message }

// ExternalID returns the identifier assigned by the remote system
func (r *Result) ExternalID() (string, bool) {
	if r.externalID == nil {
		return "", false
	}
	return *r.externalID, true
}

// HTTPCode returns the remote HTTP status, when one was received
func (r *Result) HTTPCode() (int, bool) {
	if r.httpCode == nil {
		return 0, false
	}
	return *r.httpCode, true
}

// Data returns a copy of the auxiliary data
func (r *Result) Data() map[string]any {
	return copyData(r.data)
}

// Kind returns the failure classification. Failures without an explicit kind
// are remote when an HTTP code is present and transport otherwise.
func (r *Result) Kind() ErrorKind {
	if r.success {
		return ErrorKindNone
	}
	if k, ok := r.data[errorKindKey].(string); ok {
		return ErrorKind(k)
	}
	if r.httpCode != nil {
		return ErrorKindRemote
	}
	return ErrorKindTransport
}

// ToMap returns all five result keys, using nil for absent optional values.
func (r *Result) ToMap() map[string]any {
	m := map[string]any{
		"success":     r.success,
		"message":     r.message,
		"external_id": nil,
		"data":        r.Data(),
		"http_code":   nil,
	}
	if r.externalID != nil {
		m["external_id"] = *r.externalID
	}
	if r.httpCode != nil {
		m["http_code"] = *r.httpCode
	}
	return m
}
