package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/ignite/recruit-cdp/internal/docstore"
)

// Schema creates the document table. The same DDL ships in
// migrations/001_cdp_documents.sql for cmd/migrate.
const Schema = `
CREATE TABLE IF NOT EXISTS cdp_documents (
    id          TEXT PRIMARY KEY,
    doc_type    TEXT NOT NULL,
    body        JSONB NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_cdp_documents_type ON cdp_documents (doc_type);
CREATE INDEX IF NOT EXISTS idx_cdp_documents_email ON cdp_documents (lower(body->>'email'));
`

// DocumentRepo implements docstore.Store on a single JSONB table.
type DocumentRepo struct{ db *sql.DB }

// NewDocumentRepo creates a Postgres-backed document store.
func NewDocumentRepo(db *sql.DB) *DocumentRepo { return &DocumentRepo{db: db} }

var _ docstore.Store = (*DocumentRepo)(nil)

// Migrate creates the document table if needed.
func (r *DocumentRepo) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate cdp_documents: %w", err)
	}
	return nil
}

func (r *DocumentRepo) Create(ctx context.Context, doc any) error {
	m, err := docstore.ToMap(doc)
	if err != nil {
		return err
	}
	id, docType, err := docstore.Identity(m)
	if err != nil {
		return err
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", id, err)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO cdp_documents (id, doc_type, body, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
	`, id, docType, string(body))
	if err != nil {
		return fmt.Errorf("create %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("create %s: %w", id, docstore.ErrConflict)
	}
	return nil
}

func (r *DocumentRepo) Get(ctx context.Context, id string, dst any) error {
	var body []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT body FROM cdp_documents WHERE id = $1`, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", id, err)
	}
	return json.Unmarshal(body, dst)
}

func (r *DocumentRepo) Fetch(ctx context.Context, q docstore.Query, dst any) error {
	query, args, err := buildSelect(q)
	if err != nil {
		return err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("fetch %v: %w", q.Types, err)
	}
	defer rows.Close()

	var bodies []string
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return fmt.Errorf("scan document: %w", err)
		}
		bodies = append(bodies, body)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return json.Unmarshal([]byte("["+strings.Join(bodies, ",")+"]"), dst)
}

// Apply commits a patch as one UPDATE statement. Increments are computed
// server-side, so concurrent patches never lose counts.
func (r *DocumentRepo) Apply(ctx context.Context, p *docstore.Patch) error {
	query, args, err := buildUpdate(p)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", p.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

// =============================================================================
// SQL BUILDERS
// =============================================================================

type argList []any

func (a *argList) add(v any) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}

func pathArg(path string) any {
	return pq.Array(strings.Split(path, "."))
}

func buildSelect(q docstore.Query) (string, []any, error) {
	var args argList
	var where []string

	if len(q.Types) > 0 {
		where = append(where, "doc_type = ANY("+args.add(pq.Array(q.Types))+")")
	}
	for _, f := range q.Filters {
		switch f.Op {
		case docstore.OpEq:
			if f.Value == nil {
				where = append(where, "body #> "+args.add(pathArg(f.Path))+" IS NULL")
				continue
			}
			where = append(where, fmt.Sprintf("body #>> %s = %s", args.add(pathArg(f.Path)), args.add(textValue(f.Value))))
		case docstore.OpEqFold:
			where = append(where, fmt.Sprintf("lower(body #>> %s) = lower(%s)", args.add(pathArg(f.Path)), args.add(textValue(f.Value))))
		case docstore.OpReferences:
			where = append(where, fmt.Sprintf(
				"jsonb_path_exists(body, '$.** ? (@._ref == $id)', jsonb_build_object('id', %s::text))",
				args.add(textValue(f.Value))))
		case docstore.OpDefined:
			where = append(where, fmt.Sprintf("COALESCE(jsonb_typeof(body #> %s), 'null') <> 'null'", args.add(pathArg(f.Path))))
		default:
			return "", nil, fmt.Errorf("unsupported filter %q", f.Op)
		}
	}

	var sb strings.Builder
	sb.WriteString("SELECT body FROM cdp_documents")
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	if q.OrderBy != "" {
		dir := "ASC"
		if q.Descending {
			dir = "DESC"
		}
		sb.WriteString(fmt.Sprintf(" ORDER BY body #> %s %s NULLS FIRST, id", args.add(pathArg(q.OrderBy)), dir))
	} else {
		sb.WriteString(" ORDER BY created_at, id")
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + args.add(q.Limit))
	}
	return sb.String(), args, nil
}

func buildUpdate(p *docstore.Patch) (string, []any, error) {
	var args argList
	expr := "body"
	ensured := map[string]bool{}

	for _, op := range mergeIncrements(p.Ops) {
		parts := strings.Split(op.Path, ".")
		// jsonb_set only creates the leaf key, so make sure parents exist.
		for i := 1; i < len(parts); i++ {
			prefix := strings.Join(parts[:i], ".")
			if ensured[prefix] || op.Kind == docstore.PatchUnset {
				continue
			}
			ensured[prefix] = true
			pa := args.add(pathArg(prefix))
			expr = fmt.Sprintf("jsonb_set(%s, %s, COALESCE(body #> %s, '{}'::jsonb), true)", expr, pa, pa)
		}

		switch op.Kind {
		case docstore.PatchSet:
			val, err := json.Marshal(op.Value)
			if err != nil {
				return "", nil, fmt.Errorf("marshal %s: %w", op.Path, err)
			}
			expr = fmt.Sprintf("jsonb_set(%s, %s, %s::jsonb, true)", expr, args.add(pathArg(op.Path)), args.add(string(val)))
		case docstore.PatchInc:
			pa := args.add(pathArg(op.Path))
			expr = fmt.Sprintf("jsonb_set(%s, %s, to_jsonb(COALESCE((body #>> %s)::numeric, 0) + %s), true)",
				expr, pa, pa, args.add(op.Delta))
		case docstore.PatchUnset:
			expr = fmt.Sprintf("(%s #- %s)", expr, args.add(pathArg(op.Path)))
		default:
			return "", nil, fmt.Errorf("unknown patch op %q", op.Kind)
		}
	}

	query := fmt.Sprintf("UPDATE cdp_documents SET body = %s, updated_at = NOW() WHERE id = %s", expr, args.add(p.ID))
	return query, args, nil
}

// mergeIncrements folds repeated increments of one path into a single op,
// since every increment reads the pre-update body.
func mergeIncrements(ops []docstore.PatchOp) []docstore.PatchOp {
	out := make([]docstore.PatchOp, 0, len(ops))
	seen := map[string]int{}
	for _, op := range ops {
		if op.Kind == docstore.PatchInc {
			if i, ok := seen[op.Path]; ok {
				out[i].Delta += op.Delta
				continue
			}
			seen[op.Path] = len(out)
		}
		out = append(out, op)
	}
	return out
}

func textValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
