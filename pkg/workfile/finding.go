package workfile

import (
	"fmt"
	"strings"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding codes group validation failures so callers can react to a class
// of problem instead of parsing messages.
const (
	CodeSchema           = "schema"
	CodeModel            = "model"
	CodeTriggerMissing   = "trigger-missing"
	CodeCronInvalid      = "cron-invalid"
	CodeActionUnresolved = "action-unresolved"
	CodeActionConfig     = "action-config"
	CodeRunnerUnknown    = "runner-unknown"
	CodeMatrixEmpty      = "matrix-empty"
	CodeTargetInvalid    = "target-invalid"
	CodeMatrixUnused     = "matrix-unused"
	CodeNeedsUnknown     = "needs-unknown"
	CodeNeedsCycle       = "needs-cycle"
	CodeStepAmbiguous    = "step-ambiguous"
	CodeExprInvalid      = "expr-invalid"
)

// Finding is one validation result, located as precisely as the check
// allows. Step is 1-based and zero when the finding is not step scoped.
type Finding struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Workflow string   `json:"workflow"`
	Job      string   `json:"job,omitempty"`
	Step     int      `json:"step,omitempty"`
	Message  string   `json:"message"`
}

func (f Finding) String() string {
	var locus strings.Builder

	locus.WriteString(f.Workflow)

	if f.Job != "" {
		locus.WriteString("/" + f.Job)
	}

	if f.Step > 0 {
		fmt.Fprintf(&locus, " step %d", f.Step)
	}

	return fmt.Sprintf("%s[%s] %s: %s", f.Severity, f.Code, locus.String(), f.Message)
}

type Findings []Finding

// HasErrors reports whether any finding is severe enough to reject the
// workflow. Warnings alone leave it valid.
func (fs Findings) HasErrors() bool {
	for _, f := range fs {
		if f.Severity == SeverityError {
			return true
		}
	}

	return false
}

// Errors returns only the error findings, in order.
func (fs Findings) Errors() Findings {
	var out Findings

	for _, f := range fs {
		if f.Severity == SeverityError {
			out = append(out, f)
		}
	}

	return out
}
