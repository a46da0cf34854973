package types

import (
	"fmt"
	"strings"
)

// DataSetDefinition describes one ingestible dataset: how its files are
// named, which columns identify a record, and which columns are copied
// into the stored document on upsert.
type DataSetDefinition struct {
	// Name is the unique dataset name and the target collection name.
	Name string `yaml:"name"`
	// FilePrefixFormat is the plain prefix matched against file basenames.
	FilePrefixFormat string `yaml:"file_prefix_format"`
	// DatePattern documents the expected date token layout ("2006-01-02"
	// or "20060102"); informational, both layouts are always accepted.
	DatePattern string `yaml:"date_pattern"`
	// PrimaryKeyColumns identify a record. Order matters: the record id
	// is the joined tuple of these column values.
	PrimaryKeyColumns []string `yaml:"primary_key_columns"`
	// ChangeTypeColumn carries the per-row change letter (I/U/D/R).
	ChangeTypeColumn string `yaml:"change_type_column"`
	// AccumulatorColumns are copied into the stored record on upsert.
	AccumulatorColumns []string `yaml:"accumulator_columns"`
}

// Validate checks structural requirements at construction time.
// Failures here are configuration errors: fatal, never steady-state.
func (d *DataSetDefinition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return &ConfigError{Detail: "dataset name must be non-empty"}
	}
	if strings.TrimSpace(d.FilePrefixFormat) == "" {
		return &ConfigError{Detail: fmt.Sprintf("dataset %s: file prefix format must be non-empty", d.Name)}
	}
	if len(d.PrimaryKeyColumns) == 0 {
		return &ConfigError{Detail: fmt.Sprintf("dataset %s: at least one primary key column required", d.Name)}
	}
	if strings.TrimSpace(d.ChangeTypeColumn) == "" {
		return &ConfigError{Detail: fmt.Sprintf("dataset %s: change type column must be non-empty", d.Name)}
	}
	return nil
}

// RecordID builds the stable document id for a row from its primary key
// values, in PrimaryKeyColumns order. Values cannot contain the pipe
// delimiter, so the join is unambiguous.
func (d *DataSetDefinition) RecordID(row map[string]string) (string, error) {
	parts := make([]string, 0, len(d.PrimaryKeyColumns))
	for _, col := range d.PrimaryKeyColumns {
		v, ok := row[col]
		if !ok || strings.TrimSpace(v) == "" {
			return "", fmt.Errorf("missing primary key column %q", col)
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, "|"), nil
}
