// internal/schema/parser.go

package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"tablegraph/internal/model"
)

// Parser reads Oracle table metadata exports (JSON) and produces normalized
// schema records. Malformed entries are skipped with a warning; the engines
// downstream never see them.
type Parser struct {
	dataDir string
	log     *logrus.Logger
}

// NewParser creates a parser rooted at dataDir.
func NewParser(dataDir string, log *logrus.Logger) *Parser {
	return &Parser{dataDir: dataDir, log: log}
}

var (
	submodulePrefix  = regexp.MustCompile(`^\d+\s+`)
	excessWhitespace = regexp.MustCompile(`\s+`)
	trailingComma    = regexp.MustCompile(`,\s*([}\]])`)
)

// ParseFiles parses every named file under the data directory. Missing files
// are logged and skipped. The module name is derived from the file name.
func (p *Parser) ParseFiles(files []string) ([]model.SchemaRecord, error) {
	var records []model.SchemaRecord
	seen := make(map[string]bool)

	for _, name := range files {
		path := filepath.Join(p.dataDir, name)
		if _, err := os.Stat(path); err != nil {
			p.log.Warnf("file not found, skipping: %s", path)
			continue
		}

		module := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
		parsed, err := p.parseFile(path, module)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}

		for _, rec := range parsed {
			id := rec.TableID()
			if seen[id] {
				continue
			}
			seen[id] = true
			records = append(records, rec)
		}
	}

	return records, nil
}

// ParseViews reads a JSON file holding an array of view definitions.
func (p *Parser) ParseViews(path string) ([]model.ViewNode, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read views file: %w", err)
	}

	var raw []rawView
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("decode views file %s: %w", path, err)
	}

	var views []model.ViewNode
	for _, v := range raw {
		if v.ID == "" || v.Name == "" || v.SQLQuery == "" || len(v.TablesUsed) == 0 {
			p.log.Warnf("view %q missing required fields, skipping", v.Name)
			continue
		}
		tables := make([]string, len(v.TablesUsed))
		for i, t := range v.TablesUsed {
			tables[i] = strings.ToLower(t)
		}
		views = append(views, model.ViewNode{
			ID:          strings.ToLower(v.ID),
			Name:        v.Name,
			Module:      v.Module,
			Submodule:   v.Submodule,
			Description: v.Description,
			SQLQuery:    v.SQLQuery,
			TablesUsed:  tables,
		})
	}
	return views, nil
}

func (p *Parser) parseFile(path, module string) ([]model.SchemaRecord, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var sections []rawSection
	if err := json.Unmarshal(fixJSON(content), &sections); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	var records []model.SchemaRecord
	for _, section := range sections {
		if section.TableviewTitle == "" {
			continue
		}
		submodule := submodulePrefix.ReplaceAllString(section.TableviewTitle, "")
		for _, raw := range section.TableData {
			rec, ok := p.extractTable(raw, module, submodule)
			if !ok {
				continue
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

func (p *Parser) extractTable(raw rawTable, module, submodule string) (model.SchemaRecord, bool) {
	if raw.TableTitle == "" || raw.Data == nil {
		return model.SchemaRecord{}, false
	}
	data := raw.Data

	description := excessWhitespace.ReplaceAllString(strings.TrimSpace(data.ShortDescription), " ")

	rec := model.SchemaRecord{
		Name:        raw.TableTitle,
		Module:      module,
		Submodule:   submodule,
		Description: description,
		Details: model.TableDetails{
			Schema:      defaulted(data.Details.Schema, "FUSION"),
			ObjectOwner: data.Details.ObjectOwner,
			ObjectType:  defaulted(data.Details.ObjectType, "TABLE"),
			Tablespace:  data.Details.Tablespace,
		},
	}

	if data.PrimaryKey != nil && data.PrimaryKey.Name != "" {
		rec.PrimaryKey = &model.PrimaryKey{
			Name:    data.PrimaryKey.Name,
			Columns: data.PrimaryKey.Columns,
		}
	}

	for _, col := range data.Columns {
		if col.Name == "" {
			p.log.Warnf("table %s: column without a name, skipping", raw.TableTitle)
			continue
		}
		rec.Columns = append(rec.Columns, model.Column{
			Name:             col.Name,
			Datatype:         col.Datatype,
			Length:           string(col.Length),
			Precision:        string(col.Precision),
			NotNull:          bool(col.NotNull),
			Comments:         col.Comments,
			FlexfieldMapping: col.FlexfieldMapping,
		})
	}

	for _, idx := range data.Indexes {
		if idx.Index == "" {
			continue
		}
		rec.Indexes = append(rec.Indexes, model.Index{
			Name:       idx.Index,
			Columns:    idx.Columns,
			Tablespace: idx.Tablespace,
			Uniqueness: defaulted(idx.Uniqueness, "Non Unique"),
		})
	}

	for _, fk := range data.ForeignKeys {
		if fk.ForeignTable == "" || fk.ForeignKeyColumn == "" {
			p.log.Warnf("table %s: incomplete foreign key, skipping", raw.TableTitle)
			continue
		}
		rec.ForeignKeys = append(rec.ForeignKeys, model.ForeignKey{
			Table:        strings.ToLower(defaulted(fk.Table, raw.TableTitle)),
			ForeignTable: strings.ToLower(fk.ForeignTable),
			Column:       fk.ForeignKeyColumn,
		})
	}

	return rec, true
}

// fixJSON repairs the issues the source exports commonly carry: truncated
// top-level arrays and trailing commas.
func fixJSON(content []byte) []byte {
	trimmed := strings.TrimSpace(string(content))
	if strings.HasPrefix(trimmed, "[") && !strings.HasSuffix(trimmed, "]") {
		trimmed += "]"
	}
	return trailingComma.ReplaceAll([]byte(trimmed), []byte("$1"))
}

func defaulted(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// Raw JSON shapes. The exports are loosely typed: numbers appear where
// strings are expected, booleans as "Yes"/"No", column lists as either a
// comma-separated string or an array.

type rawSection struct {
	TableviewTitle string     `json:"tableview_title"`
	TableData      []rawTable `json:"table_data"`
}

type rawTable struct {
	TableTitle string        `json:"table_title"`
	Data       *rawTableData `json:"data"`
}

type rawTableData struct {
	ShortDescription string          `json:"short_description"`
	Details          rawDetails      `json:"details"`
	PrimaryKey       *rawPrimaryKey  `json:"primary_key"`
	Columns          []rawColumn     `json:"columns"`
	Indexes          []rawIndex      `json:"indexes"`
	ForeignKeys      []rawForeignKey `json:"foreign_keys"`
}

type rawDetails struct {
	Schema      string `json:"schema"`
	ObjectOwner string `json:"object_owner"`
	ObjectType  string `json:"object_type"`
	Tablespace  string `json:"tablespace"`
}

type rawPrimaryKey struct {
	Name    string     `json:"name"`
	Columns columnList `json:"columns"`
}

type rawColumn struct {
	Name             string     `json:"name"`
	Datatype         string     `json:"datatype"`
	Length           flexString `json:"length"`
	Precision        flexString `json:"precision"`
	NotNull          flexBool   `json:"not_null"`
	Comments         string     `json:"comments"`
	FlexfieldMapping string     `json:"flexfield_mapping"`
}

type rawIndex struct {
	Index      string     `json:"index"`
	Columns    columnList `json:"columns"`
	Tablespace string     `json:"tablespace"`
	Uniqueness string     `json:"uniqueness"`
}

type rawForeignKey struct {
	Table            string `json:"table"`
	ForeignTable     string `json:"foreign_table"`
	ForeignKeyColumn string `json:"foreign_key_column"`
}

type rawView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Module      string   `json:"module"`
	Submodule   string   `json:"submodule"`
	Description string   `json:"description"`
	SQLQuery    string   `json:"sql_query"`
	TablesUsed  []string `json:"tables_used"`
}

// columnList accepts either "A, B, C" or ["A", "B", "C"].
type columnList []string

func (c *columnList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*c = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid column list: %s", string(data))
	}
	if s == "" {
		*c = nil
		return nil
	}
	parts := strings.Split(s, ",")
	list = make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			list = append(list, trimmed)
		}
	}
	*c = list
	return nil
}

// flexString accepts a JSON string, number, or null.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid string value: %s", string(data))
	}
	*f = flexString(n.String())
	return nil
}

// flexBool accepts true/false, "Yes"/"No", "Y"/"N", or null.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = false
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid boolean value: %s", string(data))
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}
