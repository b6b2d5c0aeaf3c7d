// Package sqlitep implements a feature provider on a SQLite database.
// Geometry is stored as GeoJSON text in a configurable column; the rest of
// the row becomes feature properties. For point tables with dedicated x/y
// columns, bbox filtering is pushed down to SQL.
package sqlitep

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cascadegeo/featureserv/internal/config"
	"github.com/cascadegeo/featureserv/internal/provider"
)

type Provider struct {
	db        *sql.DB
	table     string
	idField   string
	geomField string
	xField    string
	yField    string
	timeField string
	fields    map[string]string
	columns   []string
}

func New(def config.ProviderDef) (provider.Provider, error) {
	table := optString(def.Options, "table")
	if table == "" {
		return nil, fmt.Errorf("%w: sqlite provider requires a table option", provider.ErrConnection)
	}
	if !validIdent(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", provider.ErrConnection, table)
	}

	db, err := sql.Open("sqlite3", def.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", provider.ErrConnection, def.Data, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", provider.ErrConnection, def.Data, err)
	}

	p := &Provider{
		db:        db,
		table:     table,
		idField:   def.IDField,
		geomField: optString(def.Options, "geom_field"),
		xField:    optString(def.Options, "x_field"),
		yField:    optString(def.Options, "y_field"),
		timeField: optString(def.Options, "time_field"),
	}
	if p.idField == "" {
		p.idField = "id"
	}
	if p.geomField == "" {
		p.geomField = "geometry"
	}
	if err := p.loadSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Provider) loadSchema() error {
	rows, err := p.db.Query(fmt.Sprintf("PRAGMA table_info(%q)", p.table))
	if err != nil {
		return fmt.Errorf("%w: table_info %s: %v", provider.ErrConnection, p.table, err)
	}
	defer rows.Close()

	p.fields = make(map[string]string)
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notnull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return fmt.Errorf("%w: scan table_info: %v", provider.ErrConnection, err)
		}
		p.columns = append(p.columns, name)
		if name == p.geomField {
			continue
		}
		p.fields[name] = typeTag(typ)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: table_info: %v", provider.ErrConnection, err)
	}
	if len(p.columns) == 0 {
		return fmt.Errorf("%w: table %q not found", provider.ErrConnection, p.table)
	}
	return nil
}

func (p *Provider) Fields() map[string]string { return p.fields }

func (p *Provider) Query(ctx context.Context, q provider.Query) (*provider.ResultPage, error) {
	where, args := p.whereClause(q)

	var total int
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %q%s", p.table, where)
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("%w: count: %v", provider.ErrQuery, err)
	}

	page := &provider.ResultPage{NumberMatched: &total, Features: []map[string]any{}}
	if q.ResultType == provider.ResultTypeHits {
		return page, nil
	}

	sel := fmt.Sprintf("SELECT * FROM %q%s%s LIMIT ? OFFSET ?",
		p.table, where, p.orderClause(q.SortBy))
	rows, err := p.db.QueryContext(ctx, sel, append(args, q.Limit, q.StartIndex)...)
	if err != nil {
		return nil, fmt.Errorf("%w: select: %v", provider.ErrQuery, err)
	}
	defer rows.Close()

	for rows.Next() {
		f, err := p.scanFeature(rows)
		if err != nil {
			return nil, err
		}
		page.Features = append(page.Features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", provider.ErrQuery, err)
	}
	page.NumberReturned = len(page.Features)
	return page, nil
}

func (p *Provider) Get(ctx context.Context, identifier string) (map[string]any, error) {
	sel := fmt.Sprintf("SELECT * FROM %q WHERE %q = ? LIMIT 1", p.table, p.idField)
	rows, err := p.db.QueryContext(ctx, sel, identifier)
	if err != nil {
		return nil, fmt.Errorf("%w: select by id: %v", provider.ErrQuery, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: rows: %v", provider.ErrQuery, err)
		}
		return nil, provider.ErrNotFound
	}
	return p.scanFeature(rows)
}

// Close releases the database handle.
func (p *Provider) Close() error { return p.db.Close() }

func (p *Provider) whereClause(q provider.Query) (string, []any) {
	var conds []string
	var args []any

	for _, pf := range q.Properties {
		if !validIdent(pf.Name) {
			continue
		}
		conds = append(conds, fmt.Sprintf("%q = ?", pf.Name))
		args = append(args, pf.Value)
	}

	if len(q.BBox) == 4 && p.xField != "" && p.yField != "" {
		conds = append(conds,
			fmt.Sprintf("%q BETWEEN ? AND ?", p.xField),
			fmt.Sprintf("%q BETWEEN ? AND ?", p.yField))
		args = append(args, q.BBox[0], q.BBox[2], q.BBox[1], q.BBox[3])
	}

	// both sides go through datetime() so stored values with fractional
	// seconds, offsets or date-only text compare on the normalized instant
	if !q.Datetime.IsZero() && p.timeField != "" {
		tf := q.Datetime
		if tf.Instant != nil {
			conds = append(conds, fmt.Sprintf("datetime(%q) = datetime(?)", p.timeField))
			args = append(args, tf.Instant.UTC().Format(time.RFC3339))
		} else {
			if tf.Begin != nil {
				conds = append(conds, fmt.Sprintf("datetime(%q) >= datetime(?)", p.timeField))
				args = append(args, tf.Begin.UTC().Format(time.RFC3339))
			}
			if tf.End != nil {
				conds = append(conds, fmt.Sprintf("datetime(%q) <= datetime(?)", p.timeField))
				args = append(args, tf.End.UTC().Format(time.RFC3339))
			}
		}
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (p *Provider) orderClause(sortBy []provider.SortCriterion) string {
	var parts []string
	for _, s := range sortBy {
		if !validIdent(s.Property) {
			continue
		}
		dir := "ASC"
		if s.Order == provider.SortDescending {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf("%q %s", s.Property, dir))
	}
	if len(parts) == 0 {
		return ""
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func (p *Provider) scanFeature(rows *sql.Rows) (map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: columns: %v", provider.ErrQuery, err)
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("%w: scan: %v", provider.ErrQuery, err)
	}

	props := make(map[string]any, len(cols))
	feature := map[string]any{"type": "Feature", "properties": props}
	for i, col := range cols {
		v := normalizeValue(vals[i])
		switch col {
		case p.geomField:
			var geom map[string]any
			if s, ok := v.(string); ok && s != "" {
				if err := json.Unmarshal([]byte(s), &geom); err == nil {
					feature["geometry"] = geom
				}
			}
		case p.idField:
			feature["id"] = fmt.Sprint(v)
			props[col] = v
		default:
			props[col] = v
		}
	}
	return feature, nil
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}

func typeTag(sqlType string) string {
	switch strings.ToUpper(sqlType) {
	case "INTEGER", "REAL", "NUMERIC", "FLOAT", "DOUBLE":
		return "number"
	case "BOOLEAN":
		return "boolean"
	default:
		return "string"
	}
}

// validIdent restricts identifiers interpolated into SQL. Values always go
// through placeholders; this only guards column/table names.
func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		ok := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return false
		}
	}
	return true
}

func optString(opts map[string]any, key string) string {
	if v, ok := opts[key].(string); ok {
		return v
	}
	return ""
}
