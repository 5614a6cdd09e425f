package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"flowbot/internal/model"
)

// Ref points at one workflow version.
type Ref struct {
	WorkflowID string `json:"workflowId"`
	Version    int    `json:"version"`
}

// Repository is the read side of the workflow authoring service.
type Repository interface {
	// LoadGraph returns a validated graph. Version 0 selects the active version.
	LoadGraph(ctx context.Context, workflowID string, version int) (*model.WorkflowGraph, error)
	// ActiveVersion returns the live version of a workflow.
	ActiveVersion(ctx context.Context, workflowID string) (int, error)
	// ActiveWorkflow returns the workflow serving events that name none.
	ActiveWorkflow(ctx context.Context) (Ref, error)
}

// Reloader is implemented by repositories that cache their source and can
// re-read it when an activation is announced.
type Reloader interface {
	Reload(ctx context.Context) error
}

func notFound(op string, format string, args ...interface{}) error {
	return model.E(op, model.ErrNotFound, fmt.Errorf(format, args...))
}

// MemoryRepository keeps graphs in memory. Graphs are re-validated on load.
type MemoryRepository struct {
	mu       sync.RWMutex
	graphs   map[string]map[int]*model.WorkflowGraph
	active   map[string]int
	fallback string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		graphs: make(map[string]map[int]*model.WorkflowGraph),
		active: make(map[string]int),
	}
}

// Put stores g. When activate is set, g becomes the live version of its
// workflow and the workflow becomes the default one.
func (r *MemoryRepository) Put(g *model.WorkflowGraph, activate bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	versions := r.graphs[g.ID]
	if versions == nil {
		versions = make(map[int]*model.WorkflowGraph)
		r.graphs[g.ID] = versions
	}
	versions[g.Version] = g
	if activate {
		r.active[g.ID] = g.Version
		r.fallback = g.ID
	}
}

func (r *MemoryRepository) LoadGraph(ctx context.Context, workflowID string, version int) (*model.WorkflowGraph, error) {
	if version == 0 {
		v, err := r.ActiveVersion(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		version = v
	}

	r.mu.RLock()
	g, ok := r.graphs[workflowID][version]
	r.mu.RUnlock()
	if !ok {
		return nil, notFound("graph.LoadGraph", "workflow %s v%d", workflowID, version)
	}
	if err := Validate(g).Err(g.ID, g.Version); err != nil {
		return nil, err
	}
	return g, nil
}

func (r *MemoryRepository) ActiveVersion(ctx context.Context, workflowID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.active[workflowID]
	if !ok {
		return 0, notFound("graph.ActiveVersion", "workflow %s has no active version", workflowID)
	}
	return v, nil
}

func (r *MemoryRepository) ActiveWorkflow(ctx context.Context) (Ref, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.fallback == "" {
		return Ref{}, notFound("graph.ActiveWorkflow", "no active workflow")
	}
	return Ref{WorkflowID: r.fallback, Version: r.active[r.fallback]}, nil
}

// FileRepository serves workflow documents from a directory of .json,
// .yaml and .yml files. The highest version of each workflow is active.
type FileRepository struct {
	dir      string
	decoder  *Decoder
	activeID string

	mu    sync.RWMutex
	files map[string]map[int]string
}

// NewFileRepository indexes dir. activeID names the default workflow; it
// may be empty when the directory holds a single workflow.
func NewFileRepository(ctx context.Context, dir string, decoder *Decoder, activeID string) (*FileRepository, error) {
	r := &FileRepository{dir: dir, decoder: decoder, activeID: activeID}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-indexes the directory.
func (r *FileRepository) Reload(ctx context.Context) error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("failed to read graph directory: %w", err)
	}

	files := make(map[string]map[int]string)
	for _, entry := range entries {
		if entry.IsDir() || !isGraphFile(entry.Name()) {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		data, err := readDocument(path)
		if err != nil {
			return err
		}
		var header struct {
			ID      string `json:"id"`
			Version int    `json:"version"`
		}
		if err := json.Unmarshal(data, &header); err != nil {
			return fmt.Errorf("failed to read header of %s: %w", path, err)
		}
		if header.ID == "" {
			return fmt.Errorf("graph file %s has no id", path)
		}
		if files[header.ID] == nil {
			files[header.ID] = make(map[int]string)
		}
		files[header.ID][header.Version] = path
	}

	r.mu.Lock()
	r.files = files
	r.mu.Unlock()
	return nil
}

func (r *FileRepository) LoadGraph(ctx context.Context, workflowID string, version int) (*model.WorkflowGraph, error) {
	if version == 0 {
		v, err := r.ActiveVersion(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		version = v
	}

	r.mu.RLock()
	path, ok := r.files[workflowID][version]
	r.mu.RUnlock()
	if !ok {
		return nil, notFound("graph.LoadGraph", "workflow %s v%d", workflowID, version)
	}

	data, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	return r.decoder.Decode(ctx, data)
}

func (r *FileRepository) ActiveVersion(ctx context.Context, workflowID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.files[workflowID]
	if len(versions) == 0 {
		return 0, notFound("graph.ActiveVersion", "workflow %s has no versions", workflowID)
	}
	latest := 0
	for v := range versions {
		if v > latest {
			latest = v
		}
	}
	return latest, nil
}

func (r *FileRepository) ActiveWorkflow(ctx context.Context) (Ref, error) {
	id := r.activeID
	if id == "" {
		r.mu.RLock()
		ids := make([]string, 0, len(r.files))
		for wf := range r.files {
			ids = append(ids, wf)
		}
		r.mu.RUnlock()
		if len(ids) != 1 {
			sort.Strings(ids)
			return Ref{}, notFound("graph.ActiveWorkflow", "no default workflow among %v", ids)
		}
		id = ids[0]
	}
	v, err := r.ActiveVersion(ctx, id)
	if err != nil {
		return Ref{}, err
	}
	return Ref{WorkflowID: id, Version: v}, nil
}

func isGraphFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// readDocument returns the JSON form of a graph file.
func readDocument(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file %s: %w", path, err)
	}
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		return data, nil
	}
	return YAMLToJSON(data)
}
