package protocol

import "time"

// TemplateType selects which optional envelope fields a Build call
// populates, mirroring the four response_templates.{success,error,
// progress,streaming} keys from spec.md §6.
type TemplateType string

const (
	TemplateSuccess   TemplateType = "success"
	TemplateError     TemplateType = "error"
	TemplateProgress  TemplateType = "progress"
	TemplateStreaming TemplateType = "streaming"
)

// ErrorCodeTable maps an error kind to an HTTP-style status code. It
// is populated from the agent's response_templates configuration;
// Build falls back to defaultErrorCodes when a kind is missing.
type ErrorCodeTable map[string]int

var defaultErrorCodes = ErrorCodeTable{
	"missing_file":         404,
	"matlab_start_failure": 500,
	"timeout":              504,
	"invalid_config":       400,
	"execution_error":      500,
	"validation_error":     400,
	"yaml_parse_error":     400,
}

// BuildConfig carries the config-gated knobs Build consults: the error
// code table and whether stack traces are included in error.details.
type BuildConfig struct {
	ErrorCodes      ErrorCodeTable
	IncludeStackTrace bool
}

// Fields is the set of named, template-specific inputs to Build. Only
// the fields relevant to the chosen TemplateType are read; the rest
// are ignored. Extra carries pass-through fields that are merged into
// the final envelope verbatim regardless of template (spec.md §4.10).
type Fields struct {
	Outputs       map[string]any
	Data          any
	Sequence      *int
	Percentage    int
	ProgressMsg   string
	ErrMessage    string
	ErrType       string
	ErrDetails    map[string]any
	StackTrace    string
	Metadata      *Metadata
	Extra         map[string]any
}

// Build constructs a response envelope for simFile/simType under
// templateType, applying cfg's error-code table and stack-trace gate.
// Apart from reading the clock to set Timestamp to now in UTC, it has
// no side effects.
func Build(templateType TemplateType, requestID, simFile string, simType SimulationType, bridgeMeta map[string]any, cfg BuildConfig, f Fields) *Response {
	resp := &Response{
		Simulation: ResponseSimulation{Name: simFile, Type: simType},
		RequestID:  requestID,
		BridgeMeta: bridgeMeta,
		Timestamp:  time.Now().UTC(),
		Metadata:   f.Metadata,
		Extra:      f.Extra,
	}

	switch templateType {
	case TemplateSuccess:
		resp.Status = StatusCompleted
		if f.Outputs != nil {
			resp.Simulation.Outputs = f.Outputs
		}
		if f.Data != nil {
			resp.Data = f.Data
		}
	case TemplateProgress:
		resp.Status = StatusInProgress
		resp.Progress = &Progress{Percentage: f.Percentage, Message: f.ProgressMsg}
		resp.Sequence = f.Sequence
	case TemplateStreaming:
		resp.Status = StatusStreaming
		resp.Data = f.Data
		resp.Sequence = f.Sequence
	case TemplateError:
		resp.Status = StatusError
		codes := cfg.ErrorCodes
		if codes == nil {
			codes = defaultErrorCodes
		}
		code, ok := codes[f.ErrType]
		if !ok {
			code = defaultErrorCodes[f.ErrType]
		}
		details := f.ErrDetails
		if cfg.IncludeStackTrace && f.StackTrace != "" {
			if details == nil {
				details = make(map[string]any, 1)
			}
			details["stack_trace"] = f.StackTrace
		}
		resp.Error = &ErrorDetail{
			Message: f.ErrMessage,
			Type:    f.ErrType,
			Code:    code,
			Details: details,
		}
	}

	return resp
}
