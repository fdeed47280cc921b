package workfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/gale/pkg/actions/checkout"
	"github.com/dukex/gale/pkg/actions/toolchain"
	"github.com/dukex/gale/pkg/models"
	"github.com/dukex/gale/pkg/registry"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	reg := registry.NewRegistry(discardLogger())
	reg.RegisterAction(checkout.NewActionFactory())
	reg.RegisterAction(toolchain.NewActionFactory())

	for _, image := range registry.DefaultRunnerImages() {
		reg.RegisterRunnerImage(image)
	}

	return reg
}

func parseWorkflow(t *testing.T, doc string) *models.Workflow {
	t.Helper()

	workflow, err := NewLoader(discardLogger()).Parse([]byte(doc), "inline")
	require.NoError(t, err)

	return workflow
}

func findingCodes(findings Findings) []string {
	codes := make([]string, 0, len(findings))
	for _, finding := range findings {
		codes = append(codes, finding.Code)
	}

	return codes
}

func TestValidateCanonicalWorkflow(t *testing.T) {
	validator := NewValidator(newTestRegistry(t), discardLogger())

	workflow, err := NewLoader(discardLogger()).Load("testdata/ci.yaml")
	require.NoError(t, err)

	findings := validator.Validate(workflow)
	assert.Empty(t, findings, "canonical workflow must validate cleanly: %v", findings)
}

func TestValidateUnknownAction(t *testing.T) {
	validator := NewValidator(newTestRegistry(t), discardLogger())

	workflow := parseWorkflow(t, `
name: ci
on:
  push:
    branches: [main]
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - uses: ghcr/mystery-action@v1
`)

	findings := validator.Validate(workflow)
	require.True(t, findings.HasErrors())
	assert.Contains(t, findingCodes(findings), CodeActionUnresolved)

	finding := findings.Errors()[0]
	assert.Equal(t, "build", finding.Job)
	assert.Equal(t, 1, finding.Step)
}

func TestValidateUnknownRunner(t *testing.T) {
	validator := NewValidator(newTestRegistry(t), discardLogger())

	workflow := parseWorkflow(t, `
name: ci
on:
  push:
    branches: [main]
jobs:
  build:
    runs-on: fedora-40
    steps:
      - run: "true"
`)

	findings := validator.Validate(workflow)
	require.True(t, findings.HasErrors())
	assert.Contains(t, findingCodes(findings), CodeRunnerUnknown)
}

func TestValidateMatrixEntries(t *testing.T) {
	validator := NewValidator(newTestRegistry(t), discardLogger())

	workflow := parseWorkflow(t, `
name: ci
on:
  push:
    branches: [main]
jobs:
  build:
    strategy:
      matrix:
        include:
          - {}
          - target: linux
            os: ubuntu-latest
          - target: x86_64-unknown-linux-gnu
            os: solaris-11
    runs-on: ${{ matrix.os }}
    steps:
      - run: cargo build --target ${{ matrix.target }}
`)

	findings := validator.Validate(workflow)
	codes := findingCodes(findings)

	assert.Contains(t, codes, CodeMatrixEmpty)
	assert.Contains(t, codes, CodeTargetInvalid)
	assert.Contains(t, codes, CodeRunnerUnknown)
}

func TestValidateUnusedMatrixIsWarning(t *testing.T) {
	validator := NewValidator(newTestRegistry(t), discardLogger())

	workflow := parseWorkflow(t, `
name: ci
on:
  push:
    branches: [main]
jobs:
  build:
    strategy:
      matrix:
        include:
          - target: x86_64-unknown-linux-gnu
            os: ubuntu-latest
    runs-on: ubuntu-latest
    steps:
      - run: cargo build
`)

	findings := validator.Validate(workflow)
	require.Len(t, findings, 1)

	assert.Equal(t, SeverityWarning, findings[0].Severity)
	assert.Equal(t, CodeMatrixUnused, findings[0].Code)
	assert.False(t, findings.HasErrors())
}

func TestValidateNeeds(t *testing.T) {
	validator := NewValidator(newTestRegistry(t), discardLogger())

	t.Run("unknown job", func(t *testing.T) {
		workflow := parseWorkflow(t, `
name: ci
on:
  push:
    branches: [main]
jobs:
  release:
    runs-on: ubuntu-latest
    needs: [package]
    steps:
      - run: "true"
`)

		findings := validator.Validate(workflow)
		assert.Contains(t, findingCodes(findings), CodeNeedsUnknown)
	})

	t.Run("cycle", func(t *testing.T) {
		workflow := parseWorkflow(t, `
name: ci
on:
  push:
    branches: [main]
jobs:
  a:
    runs-on: ubuntu-latest
    needs: [b]
    steps:
      - run: "true"
  b:
    runs-on: ubuntu-latest
    needs: [a]
    steps:
      - run: "true"
`)

		findings := validator.Validate(workflow)
		assert.Contains(t, findingCodes(findings), CodeNeedsCycle)
	})

	t.Run("self reference", func(t *testing.T) {
		workflow := parseWorkflow(t, `
name: ci
on:
  push:
    branches: [main]
jobs:
  a:
    runs-on: ubuntu-latest
    needs: [a]
    steps:
      - run: "true"
`)

		findings := validator.Validate(workflow)
		assert.Contains(t, findingCodes(findings), CodeNeedsCycle)
	})
}

func TestValidateCronRules(t *testing.T) {
	validator := NewValidator(newTestRegistry(t), discardLogger())

	workflow := parseWorkflow(t, `
name: nightly
on:
  schedule:
    - cron: "61 * * * *"
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - run: "true"
`)

	findings := validator.Validate(workflow)
	assert.Contains(t, findingCodes(findings), CodeCronInvalid)
}

func TestValidateUnknownExpressionContext(t *testing.T) {
	validator := NewValidator(newTestRegistry(t), discardLogger())

	workflow := parseWorkflow(t, `
name: ci
on:
  push:
    branches: [main]
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - run: echo ${{ secrets.TOKEN }}
`)

	findings := validator.Validate(workflow)
	require.True(t, findings.HasErrors())
	assert.Contains(t, findingCodes(findings), CodeExprInvalid)
}

func TestValidateMatrixReferenceWithoutMatrix(t *testing.T) {
	validator := NewValidator(newTestRegistry(t), discardLogger())

	workflow := parseWorkflow(t, `
name: ci
on:
  push:
    branches: [main]
jobs:
  build:
    runs-on: ${{ matrix.os }}
    steps:
      - run: "true"
`)

	findings := validator.Validate(workflow)
	require.True(t, findings.HasErrors())
	assert.Contains(t, findingCodes(findings), CodeExprInvalid)
}

func TestValidateAllRejectsDuplicateNames(t *testing.T) {
	validator := NewValidator(newTestRegistry(t), discardLogger())

	doc := `
name: ci
on:
  push:
    branches: [main]
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - run: "true"
`

	first := parseWorkflow(t, doc)
	second := parseWorkflow(t, doc)

	findings := validator.ValidateAll([]*models.Workflow{first, second})
	require.True(t, findings.HasErrors())
	assert.Contains(t, findingCodes(findings), CodeModel)
}
