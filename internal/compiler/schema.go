package compiler

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed flow.schema.json
var flowSchema []byte

// FlowSchema returns the JSON Schema of the flow transfer format.
func FlowSchema() []byte {
	return append([]byte(nil), flowSchema...)
}

// ValidateJSON checks a raw flow document against the transfer format schema.
// It runs before decoding so editor mistakes are reported with their JSON path.
func ValidateJSON(raw []byte) error {
	schemaLoader := gojsonschema.NewBytesLoader(flowSchema)
	dataLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("invalid flow document: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("flow document does not match schema: %s", strings.Join(errs, "; "))
	}

	return nil
}
