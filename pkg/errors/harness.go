package errors

import "fmt"

// BindFailed reports a listener creation failure that must not be retried
func BindFailed(name string, cause error) HarnessError {
	return Wrap(cause, CodeBindFailed, "Listener bind failed").WithContext(&Context{
		Phase:    "bind",
		Endpoint: name,
	})
}

// NameInUse reports a candidate name collision
func NameInUse(name string, cause error) HarnessError {
	return Wrapf(cause, CodeNameInUse, "Endpoint name %s already in use", name).WithContext(&Context{
		Phase:    "bind",
		Endpoint: name,
	})
}

// NamesExhausted reports that the name sequence ended without a successful bind
func NamesExhausted(attempts int) HarnessError {
	return New(CodeNamesExhausted, fmt.Sprintf("Listener bind failed: name sequence exhausted after %d attempts", attempts)).
		WithContext(&Context{Phase: "bind"})
}

// ConnectFailed reports a client connect failure
func ConnectFailed(name string, cause error) HarnessError {
	return Wrap(cause, CodeConnectFailed, "Connect failed").WithContext(&Context{
		Phase:    "connect",
		Endpoint: name,
	})
}

// HandoffAborted reports that a client stopped waiting for the endpoint name
func HandoffAborted(cause error) HarnessError {
	return Wrap(cause, CodeHandoffAborted, "Endpoint name was never handed off").WithContext(&Context{
		Phase: "handoff",
	})
}

// AcceptFailed reports a failed accept; the slot is forfeited
func AcceptFailed(slot int, cause error) HarnessError {
	return Wrap(cause, CodeAcceptFailed, "Incoming connection failed").WithContext(&Context{
		Phase:     "accept",
		TaskIndex: slot,
	})
}

// SendFailed reports a payload write failure
func SendFailed(cause error) HarnessError {
	return Wrap(cause, CodeSendFailed, "Pipe send failed").WithContext(&Context{Phase: "exchange"})
}

// FlushFailed reports a payload flush failure
func FlushFailed(cause error) HarnessError {
	return Wrap(cause, CodeFlushFailed, "Pipe flush failed").WithContext(&Context{Phase: "exchange"})
}

// ReceiveFailed reports a payload read failure
func ReceiveFailed(cause error) HarnessError {
	return Wrap(cause, CodeReceiveFailed, "Pipe receive failed").WithContext(&Context{Phase: "exchange"})
}

// PayloadMismatch reports that the received bytes differ from the expected payload
func PayloadMismatch(got, want string) HarnessError {
	return New(CodePayloadMismatch, fmt.Sprintf("payload mismatch: got %q, want %q", got, want)).
		WithContext(&Context{Phase: "exchange"})
}

// TaskPanicked reports a task that terminated abnormally
func TaskPanicked(index int, value interface{}) HarnessError {
	return Wrap(fmt.Errorf("panic: %v", value), CodeTaskPanicked, "Server task panicked").
		WithContext(&Context{Phase: "join", TaskIndex: index})
}

// ClientPanicked reports a client task that terminated abnormally
func ClientPanicked(index int, value interface{}) HarnessError {
	return Wrap(fmt.Errorf("panic: %v", value), CodeTaskPanicked, "Client task panicked").
		WithContext(&Context{Phase: "client", TaskIndex: index})
}

// TaskFailed reports a task that completed with an error
func TaskFailed(index int, cause error) HarnessError {
	return Wrap(cause, CodeTaskFailed, "Server task returned early with error").
		WithContext(&Context{Phase: "join", TaskIndex: index})
}

// InvalidConfig reports a rejected configuration field
func InvalidConfig(field, reason string) HarnessError {
	return New(CodeInvalidConfig, fmt.Sprintf("invalid config %s: %s", field, reason)).
		WithContext(&Context{Phase: "config"})
}

// ListenerTimeout reports that the run timeout closed the listener
func ListenerTimeout(name string, cause error) HarnessError {
	return Wrap(cause, CodeListenerTimeout, "Run timed out waiting for clients").WithContext(&Context{
		Phase:    "serve",
		Endpoint: name,
	})
}
