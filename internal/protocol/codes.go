package protocol

// ResponseCode is the result carried by every *-Response message
// (spec.md §6 Response codes).
type ResponseCode int

const (
	Success ResponseCode = iota
	UnknownAuthID
	InvalidCredentials
	UnsupportedAuthType
	UnsupportedClientVersion
	UnsupportedServerVersion
	ClientRejected
	NoSuchJob
	UnsupportedControlType
	LocalError
	UnsupportedJobClass
	InvalidParameters
	ClientBusy
)

func (c ResponseCode) String() string {
	switch c {
	case Success:
		return "SUCCESS"
	case UnknownAuthID:
		return "UNKNOWN_AUTH_ID"
	case InvalidCredentials:
		return "INVALID_CREDENTIALS"
	case UnsupportedAuthType:
		return "UNSUPPORTED_AUTH_TYPE"
	case UnsupportedClientVersion:
		return "UNSUPPORTED_CLIENT_VERSION"
	case UnsupportedServerVersion:
		return "UNSUPPORTED_SERVER_VERSION"
	case ClientRejected:
		return "CLIENT_REJECTED"
	case NoSuchJob:
		return "NO_SUCH_JOB"
	case UnsupportedControlType:
		return "UNSUPPORTED_CONTROL_TYPE"
	case LocalError:
		return "LOCAL_ERROR"
	case UnsupportedJobClass:
		return "UNSUPPORTED_JOB_CLASS"
	case InvalidParameters:
		return "INVALID_PARAMETERS"
	case ClientBusy:
		return "CLIENT_BUSY"
	default:
		return "UNKNOWN_RESPONSE_CODE"
	}
}

// TerminatesSession reports whether this response code, received in a
// Hello-Response, ends the session without retry (spec.md §4.4 step 2).
func (c ResponseCode) TerminatesSession() bool {
	switch c {
	case UnknownAuthID, InvalidCredentials, UnsupportedAuthType,
		UnsupportedClientVersion, UnsupportedServerVersion, ClientRejected:
		return true
	default:
		return false
	}
}

// JobState is the lifecycle state carried by Job-Completed and
// Status-Response (spec.md §6 Job states).
type JobState int

const (
	Uninitialized JobState = iota
	NotYetStarted
	Running
	Stopping
	CompletedSuccessfully
	CompletedWithErrors
	StoppedByUser
	StoppedDueToError
	StoppedDueToShutdown
)

func (s JobState) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case NotYetStarted:
		return "NOT_YET_STARTED"
	case Running:
		return "RUNNING"
	case Stopping:
		return "STOPPING"
	case CompletedSuccessfully:
		return "COMPLETED_SUCCESSFULLY"
	case CompletedWithErrors:
		return "COMPLETED_WITH_ERRORS"
	case StoppedByUser:
		return "STOPPED_BY_USER"
	case StoppedDueToError:
		return "STOPPED_DUE_TO_ERROR"
	case StoppedDueToShutdown:
		return "STOPPED_DUE_TO_SHUTDOWN"
	default:
		return "UNKNOWN_JOB_STATE"
	}
}

// ControlOp is the operation carried by Job-Control-Request
// (spec.md §3 Job-Control-Request).
type ControlOp int

const (
	OpStart ControlOp = iota
	OpStop
	OpStopAndWait
	OpStopDueToShutdown
)

func (o ControlOp) String() string {
	switch o {
	case OpStart:
		return "START"
	case OpStop:
		return "STOP"
	case OpStopAndWait:
		return "STOP_AND_WAIT"
	case OpStopDueToShutdown:
		return "STOP_DUE_TO_SHUTDOWN"
	default:
		return "UNKNOWN_CONTROL_OP"
	}
}

// AuthType selects the credential verification scheme presented in
// Client-Hello (spec.md §6 Configuration surface auth_type).
type AuthType int

const (
	AuthNone AuthType = iota
	AuthSimple
	AuthToken
	AuthOAuth
)

func (a AuthType) String() string {
	switch a {
	case AuthNone:
		return "none"
	case AuthSimple:
		return "simple"
	case AuthToken:
		return "token"
	case AuthOAuth:
		return "oauth"
	default:
		return "unknown"
	}
}
