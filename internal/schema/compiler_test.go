package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompiler_Prepare(t *testing.T) {
	compiler := NewCompilerWithCache(64)
	ctx := context.Background()

	schema := []byte(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`)

	first, err := compiler.Prepare(ctx, schema)
	require.NoError(t, err)

	second, err := compiler.Prepare(ctx, schema)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestCompiler_Validate(t *testing.T) {
	compiler := NewCompilerWithCache(64)
	ctx := context.Background()

	schema := []byte(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`)

	err := compiler.Validate(ctx, schema, map[string]interface{}{"name": "test"})
	assert.NoError(t, err)

	err = compiler.Validate(ctx, schema, map[string]interface{}{})
	require.Error(t, err)
	var issues *IssuesError
	require.ErrorAs(t, err, &issues)
	assert.NotEmpty(t, issues.Issues)
}

func TestCompiler_ValidateWorkflow(t *testing.T) {
	compiler := NewCompilerWithCache(8)
	ctx := context.Background()

	valid := map[string]interface{}{
		"id": "wf",
		"nodes": []interface{}{
			map[string]interface{}{"id": "start", "messageType": "text", "isStart": true},
		},
		"edges": []interface{}{},
	}
	assert.NoError(t, compiler.ValidateWorkflow(ctx, valid))

	invalid := map[string]interface{}{
		"id": "wf",
		"nodes": []interface{}{
			map[string]interface{}{"messageType": "text"},
		},
		"edges": []interface{}{
			map[string]interface{}{"id": "e1", "source": "a"},
		},
	}
	err := compiler.ValidateWorkflow(ctx, invalid)
	var issues *IssuesError
	require.ErrorAs(t, err, &issues)
	assert.GreaterOrEqual(t, len(issues.Issues), 2)
}
