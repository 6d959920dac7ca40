package repo

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// queryFunc runs one auto-committed query and returns every record.
type queryFunc func(ctx context.Context, cypher string, params map[string]any, write bool) ([]*neo4j.Record, error)

// identRe restricts interpolated labels and property names to identifiers.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Neo4jRepo keeps entities as nodes with one label. The node is returned
// to the decoder under the key "n".
type Neo4jRepo[T any, ID comparable] struct {
	label   string
	idKey   string
	toProps func(T) map[string]any
	decode  func(*neo4j.Record) (T, error)
	query   queryFunc
}

// Neo4jOption configures a Neo4jRepo.
type Neo4jOption[T any, ID comparable] func(*Neo4jRepo[T, ID])

// WithIDKey sets the property holding the ID (default "id").
func WithIDKey[T any, ID comparable](key string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.idKey = key }
}

// NewNeo4jRepo returns a repository for nodes labelled label. Queries run
// through neo4j.ExecuteQuery, so transient cluster errors are retried by
// the driver and reads are routed to readers.
func NewNeo4jRepo[T any, ID comparable](
	driver neo4j.DriverWithContext,
	label string,
	toProps func(T) map[string]any,
	decode func(*neo4j.Record) (T, error),
	opts ...Neo4jOption[T, ID],
) *Neo4jRepo[T, ID] {
	if !identRe.MatchString(label) {
		panic(fmt.Sprintf("repo: invalid label %q", label))
	}
	r := &Neo4jRepo[T, ID]{
		label:   label,
		idKey:   "id",
		toProps: toProps,
		decode:  decode,
		query: func(ctx context.Context, cypher string, params map[string]any, write bool) ([]*neo4j.Record, error) {
			routing := neo4j.ExecuteQueryWithReadersRouting()
			if write {
				routing = neo4j.ExecuteQueryWithWritersRouting()
			}
			res, err := neo4j.ExecuteQuery(ctx, driver, cypher, params, neo4j.EagerResultTransformer, routing)
			if err != nil {
				return nil, err
			}
			return res.Records, nil
		},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

var _ Repository[any, string] = (*Neo4jRepo[any, string])(nil)

func (r *Neo4jRepo[T, ID]) match() string {
	return fmt.Sprintf("MATCH (n:%s {%s: $id})", r.label, r.idKey)
}

func (r *Neo4jRepo[T, ID]) one(ctx context.Context, cypher string, params map[string]any, write bool, id any) (T, error) {
	var zero T
	recs, err := r.query(ctx, cypher, params, write)
	if err != nil {
		return zero, fmt.Errorf("repo: %s %v: %w", r.label, id, err)
	}
	if len(recs) == 0 {
		return zero, fmt.Errorf("repo: %s %v: %w", r.label, id, ErrNotFound)
	}
	return r.decode(recs[0])
}

func (r *Neo4jRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	return r.one(ctx, r.match()+" RETURN n LIMIT 1", map[string]any{"id": id}, false, id)
}

func (r *Neo4jRepo[T, ID]) List(ctx context.Context, opts ListOpts) ([]T, error) {
	cypher, params, err := r.listQuery(opts)
	if err != nil {
		return nil, err
	}
	recs, err := r.query(ctx, cypher, params, false)
	if err != nil {
		return nil, fmt.Errorf("repo: list %s: %w", r.label, err)
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		v, err := r.decode(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// listQuery renders filters in key order so the query text is stable.
// Filter values are bound as $f0, $f1, ...
func (r *Neo4jRepo[T, ID]) listQuery(opts ListOpts) (string, map[string]any, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	params := map[string]any{"offset": opts.Offset, "limit": limit}

	var b strings.Builder
	fmt.Fprintf(&b, "MATCH (n:%s)", r.label)

	keys := make([]string, 0, len(opts.Filter))
	for k := range opts.Filter {
		if !identRe.MatchString(k) {
			return "", nil, fmt.Errorf("repo: invalid filter property %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		p := fmt.Sprintf("f%d", i)
		fmt.Fprintf(&b, "n.%s = $%s", k, p)
		params[p] = opts.Filter[k]
	}

	b.WriteString(" RETURN n")
	if opts.OrderBy != "" {
		prop, desc := strings.CutPrefix(opts.OrderBy, "-")
		if !identRe.MatchString(prop) {
			return "", nil, fmt.Errorf("repo: invalid order property %q", prop)
		}
		fmt.Fprintf(&b, " ORDER BY n.%s", prop)
		if desc {
			b.WriteString(" DESC")
		}
	}
	b.WriteString(" SKIP $offset LIMIT $limit")
	return b.String(), params, nil
}

func (r *Neo4jRepo[T, ID]) Save(ctx context.Context, entity T) (T, error) {
	props := r.toProps(entity)
	id := props[r.idKey]
	cypher := fmt.Sprintf("MERGE (n:%s {%s: $id}) SET n += $props RETURN n", r.label, r.idKey)
	return r.one(ctx, cypher, map[string]any{"id": id, "props": props}, true, id)
}

// Delete removes the node and its relationships. It returns ErrNotFound
// when no node has the ID.
func (r *Neo4jRepo[T, ID]) Delete(ctx context.Context, id ID) error {
	recs, err := r.query(ctx, r.match()+" DETACH DELETE n RETURN count(*) AS deleted", map[string]any{"id": id}, true)
	if err != nil {
		return fmt.Errorf("repo: delete %s %v: %w", r.label, id, err)
	}
	if len(recs) == 0 {
		return fmt.Errorf("repo: %s %v: %w", r.label, id, ErrNotFound)
	}
	n, _, err := neo4j.GetRecordValue[int64](recs[0], "deleted")
	if err != nil {
		return fmt.Errorf("repo: delete %s %v: %w", r.label, id, err)
	}
	if n == 0 {
		return fmt.Errorf("repo: %s %v: %w", r.label, id, ErrNotFound)
	}
	return nil
}
