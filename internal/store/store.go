// Package store persists extraction runs in SQLite. Every node of a run is
// stored once by key; edges record child order.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/phobologic/pyclosure/internal/graph"
	"github.com/phobologic/pyclosure/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Store is a SQLite database of extraction runs.
type Store struct {
	db   *sql.DB
	path string
}

// Run describes one saved extraction.
type Run struct {
	ID        string
	Repo      string
	Root      string
	CreatedAt time.Time
}

// Node is a stored dependency node.
type Node struct {
	ID        string
	Key       string
	Kind      model.Kind
	Path      string
	Name      string
	StartLine int
	EndLine   int
	Text      string
}

// Edge links a parent node to its child at position.
type Edge struct {
	ParentKey string
	ChildKey  string
	Position  int
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database at %s: %w", path, err)
	}
	// A single connection keeps writes serialized.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database at %s: %w", path, err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema to %s: %w", path, err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes x as a new run and returns its id. Nodes shared between
// parents or reachable through cycles are stored once.
func (s *Store) Save(ctx context.Context, x *model.Extraction) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	runID := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO runs (id, repo, root, created_at) VALUES (?, ?, ?, ?)",
		runID, x.RepoName, x.Root, time.Now().UnixNano(),
	); err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}

	ids := make(map[model.Key]string)
	var nodes []model.Node
	roots := make([]model.Node, 0, len(x.Modules))
	for _, m := range x.Modules {
		roots = append(roots, m)
	}
	model.Visit(roots, func(n model.Node) bool {
		ids[n.Key()] = uuid.NewString()
		nodes = append(nodes, n)
		return true
	})

	insertNode, err := tx.PrepareContext(ctx,
		"INSERT INTO nodes (id, run_id, key, kind, path, name, start_line, end_line, text) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return "", fmt.Errorf("preparing node insert: %w", err)
	}
	defer insertNode.Close()

	insertEdge, err := tx.PrepareContext(ctx,
		"INSERT INTO edges (run_id, parent_id, child_id, position) VALUES (?, ?, ?, ?)")
	if err != nil {
		return "", fmt.Errorf("preparing edge insert: %w", err)
	}
	defer insertEdge.Close()

	for _, n := range nodes {
		c := n.Common()
		if _, err := insertNode.ExecContext(ctx,
			ids[n.Key()], runID, relKey(x, n), string(n.Kind()), graph.Rel(x, c.Path),
			label(x, n), c.Span.Start.Line, c.Span.End.Line, c.Text,
		); err != nil {
			return "", fmt.Errorf("inserting node %s: %w", n.Key(), err)
		}
	}
	for _, n := range nodes {
		for i, child := range model.Children(n) {
			if _, err := insertEdge.ExecContext(ctx, runID, ids[n.Key()], ids[child.Key()], i); err != nil {
				return "", fmt.Errorf("inserting edge %s -> %s: %w", n.Key(), child.Key(), err)
			}
		}
	}

	for _, d := range x.Dependencies {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO dependencies (run_id, source, target, symbols) VALUES (?, ?, ?, ?)",
			runID, d.Source, d.Target, strings.Join(d.Symbols, " "),
		); err != nil {
			return "", fmt.Errorf("inserting dependency %s -> %s: %w", d.Source, d.Target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing run: %w", err)
	}
	return runID, nil
}

func relKey(x *model.Extraction, n model.Node) string {
	k := n.Key()
	k.Path = graph.Rel(x, k.Path)
	return k.String()
}

func label(x *model.Extraction, n model.Node) string {
	if m, ok := n.(*model.Module); ok {
		return graph.Rel(x, m.Path)
	}
	return model.Label(n)
}

// Runs lists saved runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, repo, root, created_at FROM runs ORDER BY created_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var created int64
		if err := rows.Scan(&r.ID, &r.Repo, &r.Root, &created); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.CreatedAt = time.Unix(0, created)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Nodes returns the nodes of run id ordered by key.
func (s *Store) Nodes(ctx context.Context, id string) ([]Node, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, key, kind, path, name, start_line, end_line, text FROM nodes WHERE run_id = ? ORDER BY key", id)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n Node
		var kind string
		if err := rows.Scan(&n.ID, &n.Key, &kind, &n.Path, &n.Name, &n.StartLine, &n.EndLine, &n.Text); err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		n.Kind = model.Kind(kind)
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// Edges returns the parent-child edges of run id, by parent key then position.
func (s *Store) Edges(ctx context.Context, id string) ([]Edge, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.key, c.key, e.position
		FROM edges e
		JOIN nodes p ON p.id = e.parent_id
		JOIN nodes c ON c.id = e.child_id
		WHERE e.run_id = ?
		ORDER BY p.key, e.position`, id)
	if err != nil {
		return nil, fmt.Errorf("querying edges: %w", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.ParentKey, &e.ChildKey, &e.Position); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// Dependencies returns the file-level edges of run id.
func (s *Store) Dependencies(ctx context.Context, id string) ([]model.Dependency, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT source, target, symbols FROM dependencies WHERE run_id = ? ORDER BY source, target", id)
	if err != nil {
		return nil, fmt.Errorf("querying dependencies: %w", err)
	}
	defer rows.Close()

	var deps []model.Dependency
	for rows.Next() {
		var d model.Dependency
		var symbols string
		if err := rows.Scan(&d.Source, &d.Target, &symbols); err != nil {
			return nil, fmt.Errorf("scanning dependency: %w", err)
		}
		d.Symbols = strings.Fields(symbols)
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// Delete removes run id and everything stored with it.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

func (s *Store) exists(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM runs WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("looking up run %s: %w", id, err)
	}
	return nil
}
