package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orphanFlow = `
id: orphan
name: Orphan
nodes:
  - {id: t, kind: trigger, data: {phrase: hi}}
  - {id: m, kind: message, data: {text: hello}}
  - {id: lost, kind: message, data: {text: nobody gets here}}
connections:
  - {from: t, from_port: 0, to: m}
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunValidate_ReportsUnreachable(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runValidate(&out, writeFile(t, orphanFlow)))
	assert.Contains(t, out.String(), `node "lost" is unreachable`)
	assert.Contains(t, out.String(), "Flow 'orphan' is valid: 3 nodes, 1 triggers.")
}

func TestRunValidate_Malformed(t *testing.T) {
	err := runValidate(&bytes.Buffer{}, writeFile(t, `
id: loop
name: Loop
nodes:
  - {id: t, kind: trigger, data: {phrase: hi}}
  - {id: m, kind: message, data: {text: again}}
connections:
  - {from: t, from_port: 0, to: m}
  - {from: m, from_port: 0, to: m}
  - {from: m, from_port: 0, to: t}
`))
	assert.ErrorIs(t, err, domain.ErrMalformedFlow)
}

func TestBaseHost(t *testing.T) {
	assert.Equal(t, "localhost:8090", baseHost(":8090"))
	assert.Equal(t, "10.0.0.1:9000", baseHost("10.0.0.1:9000"))
}
