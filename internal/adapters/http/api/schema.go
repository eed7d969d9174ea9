package api

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/job.schema.json
var jobSchemaJSON []byte

var (
	jobSchemaOnce sync.Once
	jobSchema     *jsonschema.Schema
	jobSchemaErr  error
)

func compiledJobSchema() (*jsonschema.Schema, error) {
	jobSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("job.schema.json", bytes.NewReader(jobSchemaJSON)); err != nil {
			jobSchemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		jobSchema, jobSchemaErr = compiler.Compile("job.schema.json")
	})
	return jobSchema, jobSchemaErr
}

// validateJobSpec checks a raw create-job body against the embedded schema.
func validateJobSpec(data []byte) error {
	schema, err := compiledJobSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}
	return nil
}
