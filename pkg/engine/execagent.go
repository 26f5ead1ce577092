package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// CommandAgent bridges phases to an external builder process. Each invocation
// runs the configured command, writes the PhaseContext as JSON on stdin, and
// reads newline-delimited JSON messages on stdout:
//
//	{"type":"tool_call","name":"...","input":{...},"output":{...},"duration_ms":12}
//	{"type":"result","output":{...},"tokens_input":100,"tokens_output":50}
//
// The process must emit exactly one result message and exit 0. Cancellation
// kills the process.
type CommandAgent struct {
	Command string
	Args    []string
	Logger  Logger
}

func NewCommandAgent(command string, args []string, logger Logger) *CommandAgent {
	return &CommandAgent{Command: command, Args: args, Logger: logger}
}

type agentMessage struct {
	Type         string          `json:"type"`
	Name         string          `json:"name,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	DurationMS   int64           `json:"duration_ms,omitempty"`
	TokensInput  int64           `json:"tokens_input,omitempty"`
	TokensOutput int64           `json:"tokens_output,omitempty"`
}

func (a *CommandAgent) Execute(ctx context.Context, pc PhaseContext) (AgentSession, error) {
	cmdCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cmdCtx, a.Command, a.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "agent stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "agent stdout")
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, errors.Wrapf(err, "start agent command %s", a.Command)
	}

	s := &commandSession{
		events: make(chan ToolCallEvent, 16),
		result: make(chan AgentResult, 1),
		cancel: cancel,
	}
	go func() {
		defer stdin.Close()
		payload, err := json.Marshal(pc)
		if err != nil {
			a.Logger.Errorf("Failed to encode phase context for %s: %v", pc.PhaseID, err)
			return
		}
		if _, err := stdin.Write(payload); err != nil {
			a.Logger.Errorf("Failed to write phase context for %s: %v", pc.PhaseID, err)
		}
	}()
	go s.read(cmdCtx, cmd, bufio.NewScanner(stdout), a.Logger, pc.PhaseID)
	return s, nil
}

type commandSession struct {
	events     chan ToolCallEvent
	result     chan AgentResult
	cancel     context.CancelFunc
	cancelOnce sync.Once
}

func (s *commandSession) Events() <-chan ToolCallEvent { return s.events }
func (s *commandSession) Result() <-chan AgentResult   { return s.result }

func (s *commandSession) Cancel() {
	s.cancelOnce.Do(s.cancel)
}

func (s *commandSession) read(ctx context.Context, cmd *exec.Cmd, scanner *bufio.Scanner, logger Logger, phaseID string) {
	defer close(s.result)
	// Builder output can carry large artifacts on a single line.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var final *AgentResult
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg agentMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			logger.Errorf("Agent for phase %s emitted malformed line: %v", phaseID, err)
			continue
		}
		switch msg.Type {
		case "tool_call":
			ev := ToolCallEvent{
				Name:     msg.Name,
				Input:    msg.Input,
				Output:   msg.Output,
				Duration: time.Duration(msg.DurationMS) * time.Millisecond,
				At:       time.Now(),
			}
			// Lines the scanner buffered before the kill still arrive here;
			// none may be delivered once the session is cancelled.
			select {
			case <-ctx.Done():
			case s.events <- ev:
			}
		case "result":
			final = &AgentResult{
				Output:       msg.Output,
				TokensInput:  msg.TokensInput,
				TokensOutput: msg.TokensOutput,
			}
		default:
			logger.Errorf("Agent for phase %s emitted unknown message type %q", phaseID, msg.Type)
		}
	}
	close(s.events)

	waitErr := cmd.Wait()
	switch {
	case final != nil && waitErr == nil:
		s.result <- *final
	case waitErr != nil:
		s.result <- AgentResult{Err: errors.Wrapf(waitErr, "agent command for phase %s", phaseID)}
	default:
		s.result <- AgentResult{Err: errors.Errorf("agent command for phase %s exited without a result", phaseID)}
	}
}
