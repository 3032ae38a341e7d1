// Package completion defines the contract between the tutoring core and an
// external text-completion provider.
//
// Providers never return bare strings to the domain. Every call yields a
// Result tagged with one of three outcomes so callers can branch on what
// actually happened instead of guessing from the shape of the text.
package completion

import (
	"context"
	"fmt"
	"strings"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST
// ══════════════════════════════════════════════════════════════════════════════

// Purpose labels what a completion is used for. Adapters log it and fakes
// route on it.
type Purpose string

const (
	PurposeClassify   Purpose = "classify"
	PurposeRespond    Purpose = "respond"
	PurposeConfidence Purpose = "confidence"
	PurposeDecompose  Purpose = "decompose"
	PurposeAnalyze    Purpose = "analyze"
	PurposeAnswer     Purpose = "answer"
)

// Default generation parameters.
const (
	DefaultMaxTokens   = 2048
	DefaultTemperature = 0.7
)

// Request is a single text-completion call.
type Request struct {
	Purpose     Purpose
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// WithDefaults fills zero-valued generation parameters.
func (r Request) WithDefaults() Request {
	if r.MaxTokens <= 0 {
		r.MaxTokens = DefaultMaxTokens
	}
	if r.Temperature < 0 {
		r.Temperature = DefaultTemperature
	}
	return r
}

// ══════════════════════════════════════════════════════════════════════════════
// RESULT (tagged union)
// ══════════════════════════════════════════════════════════════════════════════

// Outcome tags a Result.
type Outcome int

const (
	// OutcomeSuccess carries generated text.
	OutcomeSuccess Outcome = iota
	// OutcomeParseFailure means the provider answered but the content was unusable.
	OutcomeParseFailure
	// OutcomeTransportFailure means the provider could not be reached in time.
	OutcomeTransportFailure
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeParseFailure:
		return "parse_failure"
	case OutcomeTransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// Result is the outcome of one gateway call.
type Result struct {
	Outcome Outcome
	Text    string
	Err     error
}

// Success builds a successful result.
func Success(text string) Result {
	return Result{Outcome: OutcomeSuccess, Text: text}
}

// ParseFailure builds a result for content that could not be used.
func ParseFailure(err error) Result {
	if err == nil {
		err = shared.ErrGatewayParse
	}
	return Result{Outcome: OutcomeParseFailure, Err: err}
}

// TransportFailure builds a result for a provider that timed out or errored.
func TransportFailure(err error) Result {
	if err == nil {
		err = shared.ErrGatewayError
	}
	return Result{Outcome: OutcomeTransportFailure, Err: err}
}

// OK reports whether the call produced text.
func (r Result) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// Failed reports whether the call failed for any reason.
func (r Result) Failed() bool {
	return r.Outcome != OutcomeSuccess
}

// Error returns a typed error for failed results and nil otherwise.
func (r Result) Error() error {
	if r.OK() {
		return nil
	}
	if r.Err != nil {
		return r.Err
	}
	return fmt.Errorf("completion %s", r.Outcome)
}

// Then validates successful text with parse. An empty reply or a parse error
// turns the result into a ParseFailure.
func (r Result) Then(parse func(text string) error) Result {
	if !r.OK() {
		return r
	}
	if strings.TrimSpace(r.Text) == "" {
		return ParseFailure(shared.WrapError("completion", "Parse", shared.ErrInvalidFormat, "empty completion", nil))
	}
	if parse == nil {
		return r
	}
	if err := parse(r.Text); err != nil {
		return ParseFailure(shared.WrapError("completion", "Parse", shared.ErrInvalidFormat, "unusable completion", err))
	}
	return r
}

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// ══════════════════════════════════════════════════════════════════════════════

// Gateway is the port the tutoring core calls.
type Gateway interface {
	Complete(ctx context.Context, req Request) Result
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, req Request) Result

// Complete implements Gateway.
func (f GatewayFunc) Complete(ctx context.Context, req Request) Result {
	return f(ctx, req)
}

// Backend is a raw provider client. Adapters in infrastructure implement it;
// a resilient wrapper turns it into a Gateway.
type Backend interface {
	// Name identifies the provider in logs, e.g. "openai:gpt-4o".
	Name() string

	// Generate returns the generated text or an error. Implementations should
	// return errors that wrap shared.ErrGatewayTimeout or shared.ErrGatewayError.
	Generate(ctx context.Context, req Request) (string, error)
}
