// Package main provides the envelope CLI for inspecting persisted request
// state.
//
// This CLI reads JSON envelope snapshots from stdin, performs operations,
// and writes the result to stdout. Designed for operational debugging of
// session_state rows and for replaying terminated requests.
//
// Usage:
//
//	# Create new envelope
//	echo '{"query": "where is login defined?", "session_id": "s1"}' | go-envelope create
//
//	# Validate a snapshot
//	cat snapshot.json | go-envelope validate
//
//	# List accumulated citations
//	cat snapshot.json | go-envelope citations
//
//	# Summarize a snapshot (stage, cycles, usage, termination)
//	cat snapshot.json | go-envelope summary
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/envelope"
)

const (
	cmdCreate    = "create"
	cmdValidate  = "validate"
	cmdCitations = "citations"
	cmdSummary   = "summary"
	cmdVersion   = "version"
)

// Version information
const (
	Version = "1.0.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]

	switch cmd {
	case cmdVersion:
		handleVersion()
	case cmdCreate:
		handleCreate()
	case cmdValidate:
		handleValidate()
	case cmdCitations:
		handleCitations()
	case cmdSummary:
		handleSummary()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: go-envelope <command>

Commands:
  create      Create a new envelope from input JSON
  validate    Validate an envelope snapshot
  citations   List a snapshot's accumulated citations
  summary     Summarize a snapshot (stage, cycles, usage, termination)
  version     Print version information

Input/Output:
  All commands read JSON from stdin and write JSON to stdout.
  Errors are written to stderr.

Examples:
  echo '{"query":"where is login defined?"}' | go-envelope create
  cat snapshot.json | go-envelope citations`)
}

// handleVersion prints version information.
func handleVersion() {
	output := map[string]string{
		"version": Version,
	}
	writeJSON(output)
}

// handleCreate creates a new envelope from input.
func handleCreate() {
	input, err := readInput()
	if err != nil {
		writeError("read_error", err.Error())
		os.Exit(1)
	}

	var createInput struct {
		Query     string  `json:"query"`
		SessionID string  `json:"session_id"`
		RequestID *string `json:"request_id,omitempty"`
	}
	if err := json.Unmarshal(input, &createInput); err != nil {
		writeError("parse_error", fmt.Sprintf("Invalid JSON: %s", err.Error()))
		os.Exit(1)
	}

	requestID := uuid.NewString()
	if createInput.RequestID != nil && *createInput.RequestID != "" {
		requestID = *createInput.RequestID
	}

	env := envelope.New(requestID, createInput.SessionID, createInput.Query)
	snapshot, err := env.MarshalJSON()
	if err != nil {
		writeError("encode_error", err.Error())
		os.Exit(1)
	}
	writeRaw(snapshot)
}

// handleValidate validates an envelope snapshot.
func handleValidate() {
	env, parseErr := readEnvelope()
	if parseErr != "" {
		writeJSON(map[string]any{
			"valid":  false,
			"errors": []string{parseErr},
		})
		return
	}

	var errors []string
	if env.RequestID == "" {
		errors = append(errors, "request_id is empty")
	}
	if env.ReintentCycles > envelope.MaxReintentCycles {
		errors = append(errors, fmt.Sprintf("reintent_cycles %d exceeds the limit %d", env.ReintentCycles, envelope.MaxReintentCycles))
	}
	if env.Terminated && env.TerminationReason == envelope.TerminationNone {
		errors = append(errors, "terminated without a termination_reason")
	}

	writeJSON(map[string]any{
		"valid":      len(errors) == 0,
		"errors":     errors,
		"request_id": env.RequestID,
	})
}

// handleCitations lists the snapshot's accumulated citations.
func handleCitations() {
	env, parseErr := readEnvelope()
	if parseErr != "" {
		writeError("parse_error", parseErr)
		os.Exit(1)
	}

	writeJSON(map[string]any{
		"request_id": env.RequestID,
		"citations":  env.Citations(),
		"count":      len(env.Citations()),
	})
}

// handleSummary summarizes the snapshot.
func handleSummary() {
	env, parseErr := readEnvelope()
	if parseErr != "" {
		writeError("parse_error", parseErr)
		os.Exit(1)
	}

	writeJSON(map[string]any{
		"request_id":         env.RequestID,
		"session_id":         env.SessionID,
		"query":              env.Query,
		"current_stage":      env.CurrentStage,
		"reintent_cycles":    env.ReintentCycles,
		"terminated":         env.Terminated,
		"termination_reason": string(env.TerminationReason),
		"citations":          len(env.Citations()),
		"attempts":           len(env.AttemptHistory),
		"usage":              env.ResourceUsage,
	})
}

// readEnvelope reads and parses a snapshot from stdin. Returns a non-empty
// error string on failure.
func readEnvelope() (*envelope.Envelope, string) {
	input, err := readInput()
	if err != nil {
		return nil, err.Error()
	}

	var env envelope.Envelope
	if err := env.UnmarshalJSON(input); err != nil {
		return nil, fmt.Sprintf("Invalid snapshot: %s", err.Error())
	}
	return &env, ""
}

// readInput reads all input from stdin.
func readInput() ([]byte, error) {
	reader := bufio.NewReader(os.Stdin)
	return io.ReadAll(reader)
}

// writeJSON writes a JSON object to stdout.
func writeJSON(v any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %s\n", err.Error())
		os.Exit(1)
	}
}

// writeRaw writes pre-encoded JSON to stdout.
func writeRaw(data []byte) {
	os.Stdout.Write(data)
	os.Stdout.Write([]byte("\n"))
}

// writeError writes an error response to stdout.
func writeError(code, message string) {
	result := map[string]any{
		"error":   true,
		"code":    code,
		"message": message,
	}
	writeJSON(result)
}
