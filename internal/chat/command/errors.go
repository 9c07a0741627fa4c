package command

import "fmt"

// CommandError - command is recognized but its arguments are malformed.
// The session survives, the author receives an error reply.
type CommandError struct {
	Command string
	Payload string
	Reason  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command %s: %s: %v", e.Command, e.Reason, e.Err)
	}
	return fmt.Sprintf("command %s: %s", e.Command, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// reply - payload sent back to the author of malformed command.
func (e *CommandError) reply() string {
	return fmt.Sprintf("Command Error '%s': %s", e.Payload, e.Reason)
}
