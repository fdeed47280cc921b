package workfile

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema/workflow.json
var workflowSchema []byte

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(workflowSchema))
	})

	return schema, schemaErr
}

// SchemaError carries every violation found in one document.
type SchemaError struct {
	Causes []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("workflow does not match schema: %s", strings.Join(e.Causes, "; "))
}

// ValidateSchema checks a raw workflow document against the embedded JSON
// schema before any model is built from it.
func ValidateSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse workflow document: %w", err)
	}

	compiled, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile workflow schema: %w", err)
	}

	result, err := compiled.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate workflow document: %w", err)
	}

	if result.Valid() {
		return nil
	}

	causes := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		causes = append(causes, desc.String())
	}

	return &SchemaError{Causes: causes}
}
