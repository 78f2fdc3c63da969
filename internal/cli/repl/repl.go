package repl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"docpipe/internal/cli/command"
	httpclient "docpipe/internal/cli/http"
	"docpipe/internal/cli/state"
	pkgerrors "docpipe/pkg/errors"

	"github.com/google/shlex"
)

// Session holds REPL state.
type Session struct {
	client       *httpclient.Client
	commands     map[string]command.Command
	sessionState *state.SessionState
	statePath    string
	prettyJSON   bool
	outputWriter *bufio.Writer
}

func New(client *httpclient.Client, commands map[string]command.Command, sessionState *state.SessionState, statePath string, prettyJSON bool) *Session {
	return &Session{
		client:       client,
		commands:     commands,
		sessionState: sessionState,
		statePath:    statePath,
		prettyJSON:   prettyJSON,
		outputWriter: bufio.NewWriter(os.Stdout),
	}
}

func (s *Session) Run(ctx context.Context) {
	reader := bufio.NewReader(os.Stdin)
	for {
		_, _ = s.outputWriter.WriteString("docpipe> ")
		_ = s.outputWriter.Flush()
		line, err := reader.ReadString('\n')
		if err != nil {
			s.printLine("read input failed: %v", err)
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if s.handleSystemCommand(line) {
			continue
		}

		if err := s.handleCommand(ctx, reader, line); err != nil {
			s.printLine("error: %v", err)
		}
	}
}

func (s *Session) handleSystemCommand(line string) bool {
	switch line {
	case "exit", "quit":
		s.printLine("bye")
		os.Exit(0)
	case "help":
		s.printHelp()
		return true
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return true
	}
	return false
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|timeout")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			s.printLine("usage: set base http://127.0.0.1:8085")
			return
		}
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 10s")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "last":
		if s.sessionState.LastCorrelationID == "" {
			s.printLine("last cleanup: <none>")
			return
		}
		s.printLine("last cleanup: source=%s correlation_id=%s", s.sessionState.LastSourceName, s.sessionState.LastCorrelationID)
	case "config":
		s.printLine("sessionStatePath: %s", s.statePath)
	default:
		s.printLine("usage: show last|config")
	}
}

func (s *Session) handleCommand(ctx context.Context, reader *bufio.Reader, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	service := tokens[0]
	action := tokens[1]
	key := fmt.Sprintf("%s %s", service, action)
	cmd, ok := s.commands[key]
	if !ok {
		return fmt.Errorf("unknown command: %s %s", service, action)
	}
	params := command.Params{}
	for _, token := range tokens[2:] {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid param: %s", token)
		}
		params.Set(parts[0], parts[1])
	}

	s.applyParamShortcuts(&cmd, params)
	if err := s.promptMissing(reader, &cmd, params); err != nil {
		return err
	}

	if cmd.Service == "dlq" && cmd.Action == "export" {
		return s.runExport(ctx, params)
	}

	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	s.updateStateFromResponse(cmd, resp.Body)
	return nil
}

func (s *Session) applyParamShortcuts(cmd *command.Command, params command.Params) {
	// "cleanup status" with no id falls back to the last initiated run.
	if cmd.Service == "cleanup" && cmd.Action == "status" {
		if params.Get("correlation_id") == "" && params.Get("id") == "" && s.sessionState.LastCorrelationID != "" {
			params.Set("correlation_id", s.sessionState.LastCorrelationID)
		}
	}
}

func (s *Session) promptMissing(reader *bufio.Reader, cmd *command.Command, params command.Params) error {
	params.Canonicalize(cmd.Fields)
	for _, field := range cmd.Fields {
		if !field.Required {
			continue
		}
		if params.Has(field.Name) && params.Get(field.Name) != "" {
			continue
		}
		value, err := s.promptValue(reader, field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) promptValue(reader *bufio.Reader, prompt string) (string, error) {
	s.printLine("%s:", prompt)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read input failed: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	if len(resp.Body) == 0 {
		return
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) updateStateFromResponse(cmd command.Command, body []byte) {
	if cmd.Service != "cleanup" || cmd.Action != "initiate" {
		return
	}
	type initiateData struct {
		SourceName    string `json:"source_name"`
		CorrelationID string `json:"correlation_id"`
	}
	type respEnvelope struct {
		Code int          `json:"code"`
		Data initiateData `json:"data"`
	}
	var resp respEnvelope
	if err := json.Unmarshal(body, &resp); err != nil {
		return
	}
	if resp.Code != int(pkgerrors.Success) || resp.Data.CorrelationID == "" {
		return
	}
	s.sessionState.LastCorrelationID = resp.Data.CorrelationID
	s.sessionState.LastSourceName = resp.Data.SourceName
	s.sessionState.UpdatedAt = time.Now().UTC()
	_ = state.Save(s.statePath, *s.sessionState)
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | set base|timeout | show last|config")
	s.printLine("examples:")
	s.printLine("  dlq list service=parsing limit=20")
	s.printLine("  dlq replay id=42")
	s.printLine("  dlq export service=parsing file=./parsing_dlq.jsonl.zst")
	s.printLine("  cleanup initiate name=docs-a requested_by=ops@example.com")
	s.printLine("  cleanup status")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.outputWriter, format+"\n", args...)
	_ = s.outputWriter.Flush()
}
