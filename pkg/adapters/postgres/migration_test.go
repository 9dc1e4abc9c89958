package postgres

import (
	"strings"
	"testing"

	"github.com/aretw0/chatflow/internal/logging"
	"github.com/stretchr/testify/assert"
)

func TestMigrationManager_Versions(t *testing.T) {
	m := NewMigrationManager(logging.NewNop(), nil, map[int]string{3: "c", 1: "a", 2: "b"})
	assert.Equal(t, []int{1, 2, 3}, m.Versions())
}

func TestMigrations_SingleActiveIndex(t *testing.T) {
	schema := migrations()[1]
	assert.Contains(t, schema, "CREATE TABLE flows")
	assert.True(t, strings.Contains(schema, "ON flows(active) WHERE active"),
		"the schema must enforce at most one active flow")
}
