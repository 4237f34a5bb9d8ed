// Package safety validates synthesized SQL before execution. The check is
// an allow-list: a statement passes only when every part of it is known to
// be harmless, never because no forbidden pattern was spotted.
package safety

import "strings"

// Column is one allow-listed column with its type and a short description
// used when rendering the schema for prompts and the schema endpoint.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Doc  string `json:"doc,omitempty"`
}

// Table is one allow-listed table.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Policy is the full allow-list a statement is checked against: readable
// tables and columns, callable functions, and the row bound.
type Policy struct {
	Tables    []Table  `json:"tables"`
	Functions []string `json:"functions"`
	MaxRows   int      `json:"max_rows"`

	tableIdx map[string]map[string]bool
	funcIdx  map[string]bool
}

// DefaultPolicy returns the allow-list for the float measurement schema.
func DefaultPolicy(maxRows int) *Policy {
	p := &Policy{
		Tables: []Table{
			{Name: "floats", Columns: []Column{
				{Name: "float_id", Type: "TEXT", Doc: "unique identifier for the float"},
				{Name: "wmo_id", Type: "TEXT", Doc: "World Meteorological Organization id"},
				{Name: "project_name", Type: "TEXT", Doc: "deploying project, e.g. ARGO"},
				{Name: "pi_name", Type: "TEXT", Doc: "principal investigator"},
				{Name: "platform_type", Type: "TEXT", Doc: "float platform type"},
				{Name: "deployment_date", Type: "DATETIME", Doc: "deployment timestamp"},
				{Name: "last_update", Type: "DATETIME", Doc: "last data update"},
			}},
			{Name: "cycles", Columns: []Column{
				{Name: "cycle_id", Type: "TEXT", Doc: "unique identifier for the cycle"},
				{Name: "float_id", Type: "TEXT", Doc: "references floats.float_id"},
				{Name: "cycle_number", Type: "INTEGER", Doc: "cycle number for this float"},
				{Name: "profile_date", Type: "DATETIME", Doc: "profile measurement date"},
				{Name: "latitude", Type: "REAL", Doc: "measurement latitude"},
				{Name: "longitude", Type: "REAL", Doc: "measurement longitude"},
				{Name: "profile_type", Type: "TEXT", Doc: "A ascending, D descending"},
			}},
			{Name: "profiles", Columns: []Column{
				{Name: "profile_id", Type: "TEXT", Doc: "unique identifier for the profile point"},
				{Name: "cycle_id", Type: "TEXT", Doc: "references cycles.cycle_id"},
				{Name: "pressure", Type: "REAL", Doc: "pressure in dbar"},
				{Name: "temperature", Type: "REAL", Doc: "temperature in Celsius"},
				{Name: "salinity", Type: "REAL", Doc: "salinity in PSU"},
				{Name: "depth", Type: "REAL", Doc: "depth in meters"},
				{Name: "quality_flag", Type: "INTEGER", Doc: "1 good, 2 probably good"},
			}},
		},
		Functions: []string{
			"avg", "count", "sum", "min", "max", "round", "abs",
			"acos", "cos", "sin", "radians",
			"upper", "lower", "length", "coalesce",
			"date", "datetime", "strftime", "julianday",
		},
		MaxRows: maxRows,
	}
	p.buildIndex()
	return p
}

func (p *Policy) buildIndex() {
	p.tableIdx = make(map[string]map[string]bool, len(p.Tables))
	for _, t := range p.Tables {
		cols := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			cols[strings.ToLower(c.Name)] = true
		}
		p.tableIdx[strings.ToLower(t.Name)] = cols
	}
	p.funcIdx = make(map[string]bool, len(p.Functions))
	for _, f := range p.Functions {
		p.funcIdx[strings.ToLower(f)] = true
	}
}

// HasTable reports whether name is an allow-listed table.
func (p *Policy) HasTable(name string) bool {
	_, ok := p.tableIdx[strings.ToLower(name)]
	return ok
}

// HasColumn reports whether table.column is allow-listed.
func (p *Policy) HasColumn(table, column string) bool {
	cols, ok := p.tableIdx[strings.ToLower(table)]
	return ok && cols[strings.ToLower(column)]
}

// hasAnyColumn reports whether any allow-listed table has the column.
func (p *Policy) hasAnyColumn(column string) bool {
	c := strings.ToLower(column)
	for _, cols := range p.tableIdx {
		if cols[c] {
			return true
		}
	}
	return false
}

// HasFunction reports whether name is a callable function.
func (p *Policy) HasFunction(name string) bool {
	return p.funcIdx[strings.ToLower(name)]
}
