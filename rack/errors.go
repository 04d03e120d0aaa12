package rack

import "fmt"

// RenderedError is a guest exception rendered to native strings: the
// exception's message and its formatted backtrace. Rendering happens
// when the error bridge drains the pending-error slot; the guest
// exception object itself is not retained.
type RenderedError struct {
	Message   string
	Backtrace string
}

func (e *RenderedError) Error() string {
	return e.Message
}

// LoadError reports a failure to load the guest application: a missing
// or unreadable file, a chunk that does not compile, or a raise while
// executing the file's top level.
type LoadError struct {
	Path  string
	Guest *RenderedError
}

func (e *LoadError) Error() string {
	if e.Guest != nil {
		return fmt.Sprintf("loading %s: %s", e.Path, e.Guest.Message)
	}
	return fmt.Sprintf("loading %s", e.Path)
}

func (e *LoadError) Unwrap() error {
	if e.Guest != nil {
		return e.Guest
	}
	return nil
}

// ProtocolErrorKind classifies guest responses that violate the calling
// convention.
type ProtocolErrorKind int

const (
	// MalformedResponse: the response is not a three element table, or
	// its header slot is not a table.
	MalformedResponse ProtocolErrorKind = iota + 1
	// NonNumericStatus: the status slot is not a guest number.
	NonNumericStatus
	// UnstringifiableHeader: a header key or value has no string
	// conversion.
	UnstringifiableHeader
)

func (k ProtocolErrorKind) String() string {
	switch k {
	case MalformedResponse:
		return "malformed_response"
	case NonNumericStatus:
		return "non_numeric_status"
	case UnstringifiableHeader:
		return "unstringifiable_header"
	default:
		return "unknown"
	}
}

// ProtocolError is a calling-convention violation in a guest response.
// It is request scoped: the VM stays healthy and serves the next call.
type ProtocolError struct {
	Kind   ProtocolErrorKind
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return "rack protocol: " + e.Kind.String()
	}
	return "rack protocol: " + e.Kind.String() + ": " + e.Detail
}

// CallErrorKind classifies guest call failures.
type CallErrorKind int

const (
	// AppNotFound: the application expression evaluated to nil or
	// raised.
	AppNotFound CallErrorKind = iota + 1
	// AppRaised: the application itself raised.
	AppRaised
	// Protocol: the application returned, but its response violates
	// the calling convention.
	Protocol
)

func (k CallErrorKind) String() string {
	switch k {
	case AppNotFound:
		return "app_not_found"
	case AppRaised:
		return "app_raised"
	case Protocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// CallError reports a failed guest call. Guest carries the rendered
// exception for AppNotFound and AppRaised; Protocol carries the
// convention violation for Protocol.
type CallError struct {
	Kind     CallErrorKind
	App      string
	Guest    *RenderedError
	Protocol *ProtocolError
}

func (e *CallError) Error() string {
	switch {
	case e.Protocol != nil:
		return fmt.Sprintf("calling %s: %s", e.App, e.Protocol.Error())
	case e.Guest != nil:
		return fmt.Sprintf("calling %s: %s: %s", e.App, e.Kind, e.Guest.Message)
	default:
		return fmt.Sprintf("calling %s: %s", e.App, e.Kind)
	}
}

func (e *CallError) Unwrap() error {
	switch {
	case e.Protocol != nil:
		return e.Protocol
	case e.Guest != nil:
		return e.Guest
	default:
		return nil
	}
}
