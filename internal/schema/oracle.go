// internal/schema/oracle.go

package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/godror/godror"
	"github.com/sirupsen/logrus"

	"tablegraph/internal/model"
)

// Introspector reads table metadata straight from a live Oracle instance's
// data dictionary, as an alternative to the JSON exports.
type Introspector struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewIntrospector connects to Oracle with the given credentials.
func NewIntrospector(user, password, dsn string, log *logrus.Logger) (*Introspector, error) {
	if user == "" || password == "" || dsn == "" {
		return nil, fmt.Errorf("%w: oracle user, password, and dsn must be set", model.ErrInvalidArgument)
	}

	connStr := fmt.Sprintf(`user="%s" password="%s" connectString="%s"`, user, password, dsn)
	db, err := sql.Open("godror", connStr)
	if err != nil {
		return nil, fmt.Errorf("open oracle connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping oracle: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	return &Introspector{db: db, log: log}, nil
}

// Close terminates the Oracle connection.
func (in *Introspector) Close() error {
	return in.db.Close()
}

// Introspect reads every table owned by owner and assembles schema records
// with columns, primary keys, and foreign keys. The owner name doubles as the
// module; the data-dictionary source has no submodule notion.
func (in *Introspector) Introspect(ctx context.Context, owner string) ([]model.SchemaRecord, error) {
	owner = strings.ToUpper(strings.TrimSpace(owner))
	if owner == "" {
		return nil, fmt.Errorf("%w: owner must be set", model.ErrInvalidArgument)
	}

	tables, err := in.tables(ctx, owner)
	if err != nil {
		return nil, err
	}

	records := make([]model.SchemaRecord, 0, len(tables))
	for _, table := range tables {
		rec := model.SchemaRecord{
			Name:        table.name,
			Module:      owner,
			Submodule:   owner,
			Description: table.comments,
			Details: model.TableDetails{
				Schema:      owner,
				ObjectOwner: owner,
				ObjectType:  "TABLE",
				Tablespace:  table.tablespace,
			},
		}

		if rec.Columns, err = in.columns(ctx, owner, table.name); err != nil {
			return nil, err
		}
		if rec.PrimaryKey, err = in.primaryKey(ctx, owner, table.name); err != nil {
			return nil, err
		}
		if rec.ForeignKeys, err = in.foreignKeys(ctx, owner, table.name); err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	in.log.Infof("introspected %d tables from schema %s", len(records), owner)
	return records, nil
}

type dictTable struct {
	name       string
	tablespace string
	comments   string
}

func (in *Introspector) tables(ctx context.Context, owner string) ([]dictTable, error) {
	rows, err := in.db.QueryContext(ctx, `
		SELECT t.table_name, t.tablespace_name, c.comments
		FROM all_tables t
		LEFT JOIN all_tab_comments c
		  ON c.owner = t.owner AND c.table_name = t.table_name
		WHERE t.owner = :1
		ORDER BY t.table_name`, owner)
	if err != nil {
		return nil, fmt.Errorf("query tables for %s: %w", owner, err)
	}
	defer rows.Close()

	var tables []dictTable
	for rows.Next() {
		var t dictTable
		var tablespace, comments sql.NullString
		if err := rows.Scan(&t.name, &tablespace, &comments); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		t.tablespace = tablespace.String
		t.comments = comments.String
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (in *Introspector) columns(ctx context.Context, owner, table string) ([]model.Column, error) {
	rows, err := in.db.QueryContext(ctx, `
		SELECT tc.column_name, tc.data_type, tc.data_length, tc.data_precision,
		       tc.nullable, cc.comments
		FROM all_tab_columns tc
		LEFT JOIN all_col_comments cc
		  ON cc.owner = tc.owner AND cc.table_name = tc.table_name
		 AND cc.column_name = tc.column_name
		WHERE tc.owner = :1 AND tc.table_name = :2
		ORDER BY tc.column_id`, owner, table)
	if err != nil {
		return nil, fmt.Errorf("query columns for %s: %w", table, err)
	}
	defer rows.Close()

	var cols []model.Column
	for rows.Next() {
		var (
			col                model.Column
			length             sql.NullInt64
			precision          sql.NullInt64
			nullable, comments sql.NullString
		)
		if err := rows.Scan(&col.Name, &col.Datatype, &length, &precision, &nullable, &comments); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		if length.Valid {
			col.Length = fmt.Sprintf("%d", length.Int64)
		}
		if precision.Valid {
			col.Precision = fmt.Sprintf("%d", precision.Int64)
		}
		col.NotNull = nullable.String == "N"
		col.Comments = comments.String
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (in *Introspector) primaryKey(ctx context.Context, owner, table string) (*model.PrimaryKey, error) {
	rows, err := in.db.QueryContext(ctx, `
		SELECT c.constraint_name, cc.column_name
		FROM all_constraints c
		JOIN all_cons_columns cc
		  ON cc.owner = c.owner AND cc.constraint_name = c.constraint_name
		WHERE c.owner = :1 AND c.table_name = :2 AND c.constraint_type = 'P'
		ORDER BY cc.position`, owner, table)
	if err != nil {
		return nil, fmt.Errorf("query primary key for %s: %w", table, err)
	}
	defer rows.Close()

	var pk *model.PrimaryKey
	for rows.Next() {
		var name, column string
		if err := rows.Scan(&name, &column); err != nil {
			return nil, fmt.Errorf("scan primary key row: %w", err)
		}
		if pk == nil {
			pk = &model.PrimaryKey{Name: name}
		}
		pk.Columns = append(pk.Columns, column)
	}
	return pk, rows.Err()
}

func (in *Introspector) foreignKeys(ctx context.Context, owner, table string) ([]model.ForeignKey, error) {
	rows, err := in.db.QueryContext(ctx, `
		SELECT cc.column_name, rc.table_name
		FROM all_constraints c
		JOIN all_cons_columns cc
		  ON cc.owner = c.owner AND cc.constraint_name = c.constraint_name
		JOIN all_constraints rc
		  ON rc.owner = c.r_owner AND rc.constraint_name = c.r_constraint_name
		WHERE c.owner = :1 AND c.table_name = :2 AND c.constraint_type = 'R'
		ORDER BY cc.position`, owner, table)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys for %s: %w", table, err)
	}
	defer rows.Close()

	var fks []model.ForeignKey
	for rows.Next() {
		var column, refTable string
		if err := rows.Scan(&column, &refTable); err != nil {
			return nil, fmt.Errorf("scan foreign key row: %w", err)
		}
		fks = append(fks, model.ForeignKey{
			Table:        strings.ToLower(table),
			ForeignTable: strings.ToLower(refTable),
			Column:       column,
		})
	}
	return fks, rows.Err()
}
