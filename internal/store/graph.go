package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/Aman-CERP/amanrecall/internal/induction"
)

// Node is a document in the graph.
type Node struct {
	ID    string
	Label string
}

// GraphStore holds document nodes and the links between them. Links are
// stored directed but walked in both directions.
type GraphStore struct {
	db *sql.DB
}

var _ induction.GraphNeighbor = (*GraphStore)(nil)

// AddNode inserts a node or updates its label.
func (g *GraphStore) AddNode(ctx context.Context, id, label string) error {
	_, err := g.db.ExecContext(ctx,
		`INSERT INTO graph_nodes (node_id, label) VALUES (?, ?)
		 ON CONFLICT(node_id) DO UPDATE SET label = excluded.label`,
		id, label)
	if err != nil {
		return fmt.Errorf("add node %s: %w", id, err)
	}
	return nil
}

// AddEdge links src to dst, keeping the larger weight on conflict.
func (g *GraphStore) AddEdge(ctx context.Context, src, dst string, weight float64) error {
	if src == dst {
		return nil
	}
	_, err := g.db.ExecContext(ctx,
		`INSERT INTO graph_edges (src, dst, weight) VALUES (?, ?, ?)
		 ON CONFLICT(src, dst) DO UPDATE SET weight = MAX(graph_edges.weight, excluded.weight)`,
		src, dst, weight)
	if err != nil {
		return fmt.Errorf("add edge %s -> %s: %w", src, dst, err)
	}
	return nil
}

// adjacent returns the sorted ids one hop from nodeID in either direction.
func (g *GraphStore) adjacent(ctx context.Context, nodeID string) ([]string, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT dst FROM graph_edges WHERE src = ?
		 UNION
		 SELECT src FROM graph_edges WHERE dst = ?
		 ORDER BY 1`,
		nodeID, nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Neighbors walks breadth-first from nodeID and returns every node within
// maxDepth hops with its shortest distance, nearest first.
func (g *GraphStore) Neighbors(ctx context.Context, nodeID string, maxDepth int) ([]induction.Neighbor, error) {
	if maxDepth <= 0 {
		return nil, nil
	}

	visited := map[string]bool{nodeID: true}
	frontier := []string{nodeID}
	var out []induction.Neighbor

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			adj, err := g.adjacent(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("walk neighbors of %s: %w", id, err)
			}
			for _, n := range adj {
				if visited[n] {
					continue
				}
				visited[n] = true
				next = append(next, n)
			}
		}
		sort.Strings(next)
		for _, n := range next {
			out = append(out, induction.Neighbor{NodeID: n, Distance: depth})
		}
		frontier = next
	}
	return out, nil
}

// FindByLabel returns ids of nodes whose label equals label, ignoring case.
func (g *GraphStore) FindByLabel(ctx context.Context, label string) ([]string, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT node_id FROM graph_nodes WHERE label = ? COLLATE NOCASE ORDER BY node_id`, label)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LabeledNodes returns every node with a non-empty label, ordered by id.
func (g *GraphStore) LabeledNodes(ctx context.Context) ([]Node, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT node_id, label FROM graph_nodes WHERE label != '' ORDER BY node_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.Label); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// Counts returns the number of nodes and edges.
func (g *GraphStore) Counts(ctx context.Context) (nodes, edges int, err error) {
	if err = g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM graph_nodes`).Scan(&nodes); err != nil {
		return 0, 0, err
	}
	err = g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM graph_edges`).Scan(&edges)
	return nodes, edges, err
}
