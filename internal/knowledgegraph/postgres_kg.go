package knowledgegraph

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xkilldash9x/reqhijack/api/schemas"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

//go:embed schema.sql
var schemaSQL string

// DBPool abstracts pgxpool.Pool so the backend can be exercised with pgxmock.
type DBPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PostgresKG is a program graph persisted in PostgreSQL. It serves graphs that are too large
// to rebuild per page or that were produced by another tool.
type PostgresKG struct {
	pool    DBPool
	limiter *rate.Limiter
	log     *zap.Logger
	// scope restricts FindNodes to ids under one namespace.
	scope string
}

var (
	_ schemas.ProgramGraph = (*PostgresKG)(nil)
	_ schemas.GraphWriter  = (*PostgresKG)(nil)
)

// PostgresOption configures a PostgresKG.
type PostgresOption func(*PostgresKG)

// WithRateLimit caps the query rate. A non-positive rate leaves queries unthrottled.
func WithRateLimit(perSecond float64, burst int) PostgresOption {
	return func(p *PostgresKG) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// NewPostgresKG wraps a connection pool.
func NewPostgresKG(pool DBPool, logger *zap.Logger, opts ...PostgresOption) *PostgresKG {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &PostgresKG{pool: pool, log: logger.Named("PostgresKG")}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Scoped returns a view whose FindNodes only sees node ids prefixed with namespace + "/",
// the layout graphbuilder.BuildDir produces for one page. Point lookups are unaffected.
func (p *PostgresKG) Scoped(namespace string) *PostgresKG {
	c := *p
	c.scope = namespace
	c.log = p.log.With(zap.String("scope", namespace))
	return &c
}

// likeEscaper escapes LIKE metacharacters with the default backslash escape.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// EnsureSchema creates the graph tables when missing.
func (p *PostgresKG) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create graph schema: %w", err)
	}
	return nil
}

func (p *PostgresKG) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("graph query throttled: %w", err)
	}
	return nil
}

const (
	nodeColumns = "id, type, code, value, raw, kind, operator, computed, start_line, start_column, end_line, end_column"
	edgeColumns = "id, from_node, to_node, relation, arg_index"

	sqlUpsertNode = `
		INSERT INTO pg_nodes (id, type, code, value, raw, kind, operator, computed, start_line, start_column, end_line, end_column)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			code = EXCLUDED.code,
			value = EXCLUDED.value,
			raw = EXCLUDED.raw,
			kind = EXCLUDED.kind,
			operator = EXCLUDED.operator,
			computed = EXCLUDED.computed,
			start_line = EXCLUDED.start_line,
			start_column = EXCLUDED.start_column,
			end_line = EXCLUDED.end_line,
			end_column = EXCLUDED.end_column;
	`
	sqlUpsertEdge = `
		INSERT INTO pg_edges (id, from_node, to_node, relation, arg_index)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			from_node = EXCLUDED.from_node,
			to_node = EXCLUDED.to_node,
			relation = EXCLUDED.relation,
			arg_index = EXCLUDED.arg_index;
	`
)

func nodeArgs(n schemas.Node) []any {
	return []any{
		n.ID, string(n.Type), n.Code, n.Value, n.Raw, n.Kind, n.Operator, n.Computed,
		n.Location.StartLine, n.Location.StartColumn, n.Location.EndLine, n.Location.EndColumn,
	}
}

func edgeArgs(e schemas.Edge) []any {
	return []any{e.ID, e.From, e.To, string(e.Relation), e.ArgIndex}
}

// AddNode inserts or updates a node.
func (p *PostgresKG) AddNode(ctx context.Context, node schemas.Node) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, sqlUpsertNode, nodeArgs(node)...); err != nil {
		return fmt.Errorf("failed to upsert node %s: %w", node.ID, err)
	}
	return nil
}

// AddEdge inserts or updates an edge.
func (p *PostgresKG) AddEdge(ctx context.Context, edge schemas.Edge) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, sqlUpsertEdge, edgeArgs(edge)...); err != nil {
		return fmt.Errorf("failed to upsert edge %s: %w", edge.ID, err)
	}
	return nil
}

// Load bulk-copies a whole subgraph. It is the fast path for freshly parsed scripts.
func (p *PostgresKG) Load(ctx context.Context, sg schemas.Subgraph) error {
	nodeRows := make([][]any, len(sg.Nodes))
	for i, n := range sg.Nodes {
		nodeRows[i] = nodeArgs(n)
	}
	copied, err := p.pool.CopyFrom(ctx, pgx.Identifier{"pg_nodes"}, strings.Split(nodeColumns, ", "), pgx.CopyFromRows(nodeRows))
	if err != nil {
		return fmt.Errorf("failed to copy nodes: %w", err)
	}
	if int(copied) != len(sg.Nodes) {
		return fmt.Errorf("mismatch in copied nodes count: expected %d, got %d", len(sg.Nodes), copied)
	}

	edgeRows := make([][]any, len(sg.Edges))
	for i, e := range sg.Edges {
		edgeRows[i] = edgeArgs(e)
	}
	copied, err = p.pool.CopyFrom(ctx, pgx.Identifier{"pg_edges"}, strings.Split(edgeColumns, ", "), pgx.CopyFromRows(edgeRows))
	if err != nil {
		return fmt.Errorf("failed to copy edges: %w", err)
	}
	if int(copied) != len(sg.Edges) {
		return fmt.Errorf("mismatch in copied edges count: expected %d, got %d", len(sg.Edges), copied)
	}
	p.log.Debug("Loaded subgraph", zap.Int("nodes", len(sg.Nodes)), zap.Int("edges", len(sg.Edges)))
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (schemas.Node, error) {
	var n schemas.Node
	var typ string
	err := row.Scan(&n.ID, &typ, &n.Code, &n.Value, &n.Raw, &n.Kind, &n.Operator, &n.Computed,
		&n.Location.StartLine, &n.Location.StartColumn, &n.Location.EndLine, &n.Location.EndColumn)
	n.Type = schemas.NodeType(typ)
	return n, err
}

func scanEdge(row scanner) (schemas.Edge, error) {
	var e schemas.Edge
	var rel string
	err := row.Scan(&e.ID, &e.From, &e.To, &rel, &e.ArgIndex)
	e.Relation = schemas.RelationType(rel)
	return e, err
}

// GetNode retrieves a single node by its id.
func (p *PostgresKG) GetNode(ctx context.Context, id string) (schemas.Node, error) {
	if err := p.wait(ctx); err != nil {
		return schemas.Node{}, err
	}
	row := p.pool.QueryRow(ctx, "SELECT "+nodeColumns+" FROM pg_nodes WHERE id = $1;", id)
	n, err := scanNode(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schemas.Node{}, fmt.Errorf("node with id '%s': %w", id, schemas.ErrNodeNotFound)
		}
		return schemas.Node{}, fmt.Errorf("failed to query node %s: %w", id, err)
	}
	return n, nil
}

// Children retrieves the outgoing edges of a node in insertion order.
func (p *PostgresKG) Children(ctx context.Context, id string) ([]schemas.Edge, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, "SELECT "+edgeColumns+" FROM pg_edges WHERE from_node = $1 ORDER BY seq;", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query children of %s: %w", id, err)
	}
	defer rows.Close()

	var edges []schemas.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan edge row: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	sortArguments(edges)
	return edges, nil
}

// Parent retrieves the incoming edge of a node.
func (p *PostgresKG) Parent(ctx context.Context, id string) (schemas.Edge, bool, error) {
	if err := p.wait(ctx); err != nil {
		return schemas.Edge{}, false, err
	}
	row := p.pool.QueryRow(ctx, "SELECT "+edgeColumns+" FROM pg_edges WHERE to_node = $1;", id)
	e, err := scanEdge(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schemas.Edge{}, false, nil
		}
		return schemas.Edge{}, false, fmt.Errorf("failed to query parent of %s: %w", id, err)
	}
	return e, true, nil
}

// FindNodes retrieves the nodes matching the filter in insertion order.
func (p *PostgresKG) FindNodes(ctx context.Context, filter schemas.NodeFilter) ([]schemas.Node, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	var where []string
	var args []any
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.Code != "" {
		args = append(args, filter.Code)
		where = append(where, fmt.Sprintf("code = $%d", len(args)))
	}
	if p.scope != "" {
		args = append(args, likeEscaper.Replace(p.scope)+"/%")
		where = append(where, fmt.Sprintf("id LIKE $%d", len(args)))
	}
	query := "SELECT " + nodeColumns + " FROM pg_nodes"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq;"

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []schemas.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node row: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return nodes, nil
}
