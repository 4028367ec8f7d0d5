// The Payload type is a discriminated union: the sender names the Kind when creating it and
// the receiver must use the matching Extract method, so a payload of the wrong shape fails
// loudly instead of yielding zero values.

package proto

import (
	"encoding/json"
	"fmt"
)

// PayloadKind identifies the shape of a payload.
type PayloadKind string

const (
	PayloadKindVersionCheck PayloadKind = "version_check"
	PayloadKindLintReport   PayloadKind = "lint_report"
	PayloadKindBuildDeploy  PayloadKind = "build_deploy"

	// PayloadKindGeneric carries free-form key/value data for types the core does not know.
	PayloadKindGeneric PayloadKind = "generic"
)

// PayloadKindFor returns the payload kind required by a recognized message type.
func PayloadKindFor(msgType MsgType) (PayloadKind, bool) {
	switch msgType {
	case MsgTypeVersionCheck:
		return PayloadKindVersionCheck, true
	case MsgTypeLintReport:
		return PayloadKindLintReport, true
	case MsgTypeBuildDeploy:
		return PayloadKindBuildDeploy, true
	default:
		return "", false
	}
}

// Payload is the typed union carried by a Message.
type Payload struct {
	Kind PayloadKind     `json:"kind"` // Discriminator field
	Data json.RawMessage `json:"data"` // Lazily unmarshaled payload data
}

// VersionCheckPayload asks whether an installed version satisfies a constraint.
type VersionCheckPayload struct {
	Package    string `json:"package" validate:"required"`
	Installed  string `json:"installed" validate:"required"`
	Constraint string `json:"constraint" validate:"required"` // ^1.2.0, ~1.2.0, >=1.2.0, 1.2.3 ...
}

// LintFinding is a single lint result.
type LintFinding struct {
	File     string `json:"file" validate:"required"`
	Rule     string `json:"rule"`
	Message  string `json:"message" validate:"required"`
	Severity string `json:"severity" validate:"oneof=error warning info"`
	Line     int    `json:"line" validate:"gte=0"`
	Column   int    `json:"column" validate:"gte=0"`
}

// LintReportPayload is a batch of findings to format.
type LintReportPayload struct {
	Tool     string        `json:"tool"`
	Findings []LintFinding `json:"findings" validate:"dive"`
}

// BuildDeployPayload describes a build-then-deploy run.
type BuildDeployPayload struct {
	Project     string   `json:"project" validate:"required"`
	Environment string   `json:"environment"`
	Steps       []string `json:"steps" validate:"required,min=1,dive,required"`
	FailSteps   []string `json:"fail_steps,omitempty"` // steps that report failure
	StepDelayMs int      `json:"step_delay_ms,omitempty" validate:"gte=0"`
}

func newPayload(kind PayloadKind, data any) *Payload {
	raw, _ := json.Marshal(data) // Struct marshaling should never fail
	return &Payload{Kind: kind, Data: raw}
}

// NewVersionCheckPayload creates a version_check payload.
func NewVersionCheckPayload(data *VersionCheckPayload) *Payload {
	return newPayload(PayloadKindVersionCheck, data)
}

// NewLintReportPayload creates a lint_report payload.
func NewLintReportPayload(data *LintReportPayload) *Payload {
	return newPayload(PayloadKindLintReport, data)
}

// NewBuildDeployPayload creates a build_deploy payload.
func NewBuildDeployPayload(data *BuildDeployPayload) *Payload {
	return newPayload(PayloadKindBuildDeploy, data)
}

// NewGenericPayload creates a generic key/value payload.
func NewGenericPayload(data map[string]any) *Payload {
	return newPayload(PayloadKindGeneric, data)
}

// NewRawPayload wraps already-encoded JSON data under the given kind.
func NewRawPayload(kind PayloadKind, data json.RawMessage) *Payload {
	return &Payload{Kind: kind, Data: data}
}

func extract[T any](p *Payload, kind PayloadKind) (*T, error) {
	if p == nil {
		return nil, fmt.Errorf("expected %s payload, got none", kind)
	}
	if p.Kind != kind {
		return nil, fmt.Errorf("expected %s payload, got %s", kind, p.Kind)
	}
	var result T
	if err := json.Unmarshal(p.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", kind, err)
	}
	return &result, nil
}

// ExtractVersionCheck extracts a version_check payload.
func (p *Payload) ExtractVersionCheck() (*VersionCheckPayload, error) {
	return extract[VersionCheckPayload](p, PayloadKindVersionCheck)
}

// ExtractLintReport extracts a lint_report payload.
func (p *Payload) ExtractLintReport() (*LintReportPayload, error) {
	return extract[LintReportPayload](p, PayloadKindLintReport)
}

// ExtractBuildDeploy extracts a build_deploy payload.
func (p *Payload) ExtractBuildDeploy() (*BuildDeployPayload, error) {
	return extract[BuildDeployPayload](p, PayloadKindBuildDeploy)
}

// ExtractGeneric extracts any payload as a map.
func (p *Payload) ExtractGeneric() (map[string]any, error) {
	var result map[string]any
	if err := json.Unmarshal(p.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal generic payload: %w", err)
	}
	return result, nil
}

// check decodes typed payloads and validates their fields.
func (p *Payload) check() error {
	var (
		decoded any
		err     error
	)
	switch p.Kind {
	case PayloadKindVersionCheck:
		decoded, err = p.ExtractVersionCheck()
	case PayloadKindLintReport:
		decoded, err = p.ExtractLintReport()
	case PayloadKindBuildDeploy:
		decoded, err = p.ExtractBuildDeploy()
	default:
		_, err = p.ExtractGeneric()
		return err
	}
	if err != nil {
		return err
	}
	if err := validate.Struct(decoded); err != nil {
		return fmt.Errorf("%s", describeValidation(err))
	}
	return nil
}
