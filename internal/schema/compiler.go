package schema

import (
	"bytes"
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	js "github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed workflow.schema.json
var workflowSchema []byte

// Issue is one schema violation at a JSON pointer inside the validated value.
type Issue struct {
	Location string
	Message  string
}

// IssuesError lists every leaf schema violation.
type IssuesError struct {
	Issues []Issue
}

func (e *IssuesError) Error() string {
	if len(e.Issues) == 0 {
		return "schema validation failed"
	}
	return fmt.Sprintf("schema validation failed at %s: %s (and %d more)", e.Issues[0].Location, e.Issues[0].Message, len(e.Issues)-1)
}

type Compiler struct {
	mu       sync.Mutex
	compiler *js.Compiler
	cache    *expirable.LRU[string, *js.Schema]
}

// NewCompilerWithCache creates a new compiler with cache
func NewCompilerWithCache(maxSize int) *Compiler {
	c := js.NewCompiler()
	c.Draft = js.Draft2020

	return &Compiler{
		compiler: c,
		cache:    expirable.NewLRU[string, *js.Schema](maxSize, nil, time.Hour),
	}
}

func key(schema []byte) string {
	sum := sha256.Sum256(schema)
	return hex.EncodeToString(sum[:])
}

// Prepare compiles and caches a schema
func (c *Compiler) Prepare(ctx context.Context, schema []byte) (*js.Schema, error) {
	k := key(schema)
	if compiled, ok := c.cache.Get(k); ok {
		return compiled, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have compiled it while we waited.
	if compiled, ok := c.cache.Get(k); ok {
		return compiled, nil
	}

	resourceURL := fmt.Sprintf("mem://schema/%s.json", k[:16])
	if err := c.compiler.AddResource(resourceURL, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("failed to add resource: %w", err)
	}

	compiled, err := c.compiler.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	c.cache.Add(k, compiled)
	return compiled, nil
}

// Validate validates a decoded JSON value against a schema. Schema
// violations are returned as *IssuesError.
func (c *Compiler) Validate(ctx context.Context, schema []byte, value interface{}) error {
	compiled, err := c.Prepare(ctx, schema)
	if err != nil {
		return err
	}

	// Normalize through JSON so typed Go values validate like wire data.
	valueBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	var valueRaw interface{}
	if err := json.Unmarshal(valueBytes, &valueRaw); err != nil {
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}

	if err := compiled.Validate(valueRaw); err != nil {
		var ve *js.ValidationError
		if errors.As(err, &ve) {
			return &IssuesError{Issues: leafIssues(ve, nil)}
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ValidateWorkflow checks the structure of a workflow document.
func (c *Compiler) ValidateWorkflow(ctx context.Context, doc interface{}) error {
	return c.Validate(ctx, workflowSchema, doc)
}

func leafIssues(ve *js.ValidationError, out []Issue) []Issue {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return append(out, Issue{Location: loc, Message: ve.Message})
	}
	for _, cause := range ve.Causes {
		out = leafIssues(cause, out)
	}
	return out
}
