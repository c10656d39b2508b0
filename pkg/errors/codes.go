package errors

// Harness error codes, grouped by the phase that raises them
const (
	// Setup (1000-1099)
	CodeBindFailed      int = 1000 // Listener creation failed for a reason other than a name collision
	CodeNameInUse       int = 1001 // Candidate name already in use; retried by the binder
	CodeNamesExhausted  int = 1002 // Name sequence ended before a bind succeeded
	CodeConnectFailed   int = 1003 // Client could not connect to the handed-off name
	CodeHandoffAborted  int = 1004 // Client gave up waiting for the endpoint name
	CodeInvalidConfig   int = 1005 // Run configuration rejected
	CodeListenerTimeout int = 1006 // Run timeout closed the listener

	// Connection (1100-1199)
	CodeAcceptFailed int = 1100 // One accept attempt failed; the slot is forfeited

	// Protocol (1200-1299)
	CodeSendFailed      int = 1200 // Payload write failed
	CodeFlushFailed     int = 1201 // Payload flush failed
	CodeReceiveFailed   int = 1202 // Payload read failed
	CodePayloadMismatch int = 1203 // Received payload differs from the expected constant

	// Task (1300-1399)
	CodeTaskPanicked int = 1300 // A spawned task terminated abnormally
	CodeTaskFailed   int = 1301 // A spawned task completed but reported a failure
)

// CodeInfo describes a registered code
type CodeInfo struct {
	Code     int
	Name     string
	Category Category
	Severity Severity
}

var codeRegistry = map[int]CodeInfo{
	CodeBindFailed:      {CodeBindFailed, "BindFailed", CategorySetup, SeverityCritical},
	CodeNameInUse:       {CodeNameInUse, "NameInUse", CategoryTransient, SeverityInfo},
	CodeNamesExhausted:  {CodeNamesExhausted, "NamesExhausted", CategorySetup, SeverityCritical},
	CodeConnectFailed:   {CodeConnectFailed, "ConnectFailed", CategorySetup, SeverityCritical},
	CodeHandoffAborted:  {CodeHandoffAborted, "HandoffAborted", CategorySetup, SeverityError},
	CodeInvalidConfig:   {CodeInvalidConfig, "InvalidConfig", CategoryConfig, SeverityError},
	CodeListenerTimeout: {CodeListenerTimeout, "ListenerTimeout", CategorySetup, SeverityError},

	CodeAcceptFailed: {CodeAcceptFailed, "AcceptFailed", CategoryConnection, SeverityWarning},

	CodeSendFailed:      {CodeSendFailed, "SendFailed", CategoryProtocol, SeverityError},
	CodeFlushFailed:     {CodeFlushFailed, "FlushFailed", CategoryProtocol, SeverityError},
	CodeReceiveFailed:   {CodeReceiveFailed, "ReceiveFailed", CategoryProtocol, SeverityError},
	CodePayloadMismatch: {CodePayloadMismatch, "PayloadMismatch", CategoryProtocol, SeverityCritical},

	CodeTaskPanicked: {CodeTaskPanicked, "TaskPanicked", CategoryTask, SeverityCritical},
	CodeTaskFailed:   {CodeTaskFailed, "TaskFailed", CategoryTask, SeverityError},
}

func lookup(code int) CodeInfo {
	if info, ok := codeRegistry[code]; ok {
		return info
	}
	return CodeInfo{Code: code, Name: "UnknownError", Category: CategorySetup, Severity: SeverityError}
}

// CodeName returns the symbolic name of a code
func CodeName(code int) string {
	return lookup(code).Name
}

// GetCodeInfo returns registry information about a code
func GetCodeInfo(code int) (CodeInfo, bool) {
	info, ok := codeRegistry[code]
	return info, ok
}
