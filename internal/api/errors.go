package api

// ErrorCode is the wire-level error taxonomy. Provider failures map to the
// opaque NoApplicableCode so backing-store detail never reaches a caller.
type ErrorCode string

const (
	CodeInvalidParameterValue ErrorCode = "InvalidParameterValue"
	CodeMissingParameterValue ErrorCode = "MissingParameterValue"
	CodeNotFound              ErrorCode = "NotFound"
	CodeNoApplicableCode      ErrorCode = "NoApplicableCode"
)

// Error is a structured request failure; it renders as
// {"code": ..., "description": ...} with the given HTTP status.
type Error struct {
	Code        ErrorCode
	Description string
	Status      int
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Description
}

func invalidParameter(description string) *Error {
	return &Error{Code: CodeInvalidParameterValue, Description: description, Status: 400}
}

func missingParameter(description string) *Error {
	return &Error{Code: CodeMissingParameterValue, Description: description, Status: 400}
}

func notFound(description string) *Error {
	return &Error{Code: CodeNotFound, Description: description, Status: 404}
}

func opaqueFailure(description string) *Error {
	return &Error{Code: CodeNoApplicableCode, Description: description, Status: 500}
}

func errInvalidFormat() *Error {
	return invalidParameter("Invalid format")
}

func errInvalidCollection() *Error {
	return invalidParameter("Invalid feature collection")
}

func errIdentifierNotFound() *Error {
	return notFound("identifier not found")
}
