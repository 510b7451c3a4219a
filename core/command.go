package core

import (
	"sort"
	"sync"

	"burstlink/protocol"
)

// CommandHandler handles one host command line. The handler decodes its
// own fields from the line; a returned *CommandError selects the NACK
// reason and code.
type CommandHandler func(line []byte) error

// Command is a registered host command
type Command struct {
	Name    string
	Format  string // Field list for the dictionary (e.g. "window=%u,lines=%u")
	Handler CommandHandler
}

// CommandError is a host command failure reported as
// NACK,SUBJECT=<command>,reason=<Reason>,code=<Code>
type CommandError struct {
	Reason string
	Code   uint32
}

func (e *CommandError) Error() string {
	return e.Reason
}

var (
	ErrUnknownCommand = &CommandError{Reason: "unknown_command", Code: protocol.CodeUnknownCommand}
	ErrBadArg         = &CommandError{Reason: "bad_arg", Code: protocol.CodeBadArg}
	ErrParamRange     = &CommandError{Reason: "param_range", Code: protocol.CodeParamRange}
	ErrBadState       = &CommandError{Reason: "bad_state", Code: protocol.CodeBadState}
)

// CommandRegistry dispatches host command lines by message name
type CommandRegistry struct {
	mu         sync.RWMutex
	commands   map[string]*Command
	dictionary string

	out     LineSender
	scratch protocol.Scratch
}

// NewCommandRegistry creates a registry sending ACK/NACK lines through out
func NewCommandRegistry(out LineSender) *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[string]*Command),
		out:      out,
	}
}

// Register adds a command. Registering a name twice keeps the first.
func (r *CommandRegistry) Register(name string, format string, handler CommandHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands[name]; exists {
		return
	}
	r.commands[name] = &Command{
		Name:    name,
		Format:  format,
		Handler: handler,
	}

	// Rebuild dictionary
	r.rebuildDictionary()
}

// GetCommand retrieves a command by name
func (r *CommandRegistry) GetCommand(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Count returns the number of registered commands
func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch runs the handler registered for the line's message name
func (r *CommandRegistry) Dispatch(line []byte) error {
	cmd, ok := r.GetCommand(string(protocol.MessageName(line)))
	if !ok || cmd.Handler == nil {
		return ErrUnknownCommand
	}
	return cmd.Handler(line)
}

// HandleHostLine dispatches registered commands and answers failures with
// a NACK. Lines with an unregistered name are left to other handlers.
func (r *CommandRegistry) HandleHostLine(line []byte) bool {
	name := protocol.MessageName(line)
	cmd, ok := r.GetCommand(string(name))
	if !ok || cmd.Handler == nil {
		return false
	}
	if err := cmd.Handler(line); err != nil {
		r.Nack(cmd.Name, err)
	}
	return true
}

// NackUnknown answers a line nobody handled
func (r *CommandRegistry) NackUnknown(line []byte) {
	r.Nack("UNKNOWN", ErrUnknownCommand)
}

// Ack sends ACK,SUBJECT=<subject>
func (r *CommandRegistry) Ack(subject string) {
	s := &r.scratch
	s.Begin(protocol.MsgAck)
	s.Str("SUBJECT", subject)
	r.out.NonBlockingSend(s.End())
}

// Nack sends NACK,SUBJECT=<subject>,reason=..,code=.. for err
func (r *CommandRegistry) Nack(subject string, err error) {
	reason, code := "error", uint32(protocol.CodeBadState)
	if ce, ok := err.(*CommandError); ok {
		reason, code = ce.Reason, ce.Code
	}
	s := &r.scratch
	s.Begin(protocol.MsgNack)
	s.Str("SUBJECT", subject)
	s.Str("reason", reason)
	s.Uint("code", uint64(code))
	r.out.NonBlockingSend(s.End())
}

// Scratch returns the registry's line builder for handler replies. Only
// valid inside a handler.
func (r *CommandRegistry) Scratch() *protocol.Scratch {
	return &r.scratch
}

// Send queues a reply line built by the caller
func (r *CommandRegistry) Send(line []byte) int {
	return r.out.NonBlockingSend(line)
}

// GetDictionary returns one "NAME fields" entry per line, sorted by name
func (r *CommandRegistry) GetDictionary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dictionary
}

// rebuildDictionary rebuilds the dictionary string
// Must be called with lock held
func (r *CommandRegistry) rebuildDictionary() {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	dict := ""
	for _, name := range names {
		cmd := r.commands[name]
		if cmd.Format != "" {
			dict += cmd.Name + " " + cmd.Format + "\n"
		} else {
			dict += cmd.Name + "\n"
		}
	}
	r.dictionary = dict
}
