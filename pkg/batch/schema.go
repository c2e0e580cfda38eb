package batch

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Schema describes the expected shape of a batch file and the thresholds
// applied during validation.
type Schema struct {
	RequiredColumns   []string `yaml:"required_columns" json:"required_columns"`
	OptionalColumns   []string `yaml:"optional_columns" json:"optional_columns"`
	MaxRows           int      `yaml:"max_rows" json:"max_rows"`
	QuantityWarnLimit int      `yaml:"quantity_warn_limit" json:"quantity_warn_limit"`
	MaxFieldLength    int      `yaml:"max_field_length" json:"max_field_length"`
	DateFormat        string   `yaml:"date_format" json:"date_format"`
	IdentifierPattern string   `yaml:"identifier_pattern" json:"identifier_pattern"`
}

// LoadSchema reads a schema override from disk, falling back to the built-in
// defaults when no path is configured.
func LoadSchema(path string) (Schema, error) {
	if path == "" {
		return DefaultSchema(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultSchema(), err
	}

	var schema Schema
	if err := yaml.Unmarshal(content, &schema); err != nil {
		return Schema{}, err
	}

	if len(schema.RequiredColumns) == 0 {
		return Schema{}, errors.New("schema has no required columns")
	}

	defaults := DefaultSchema()
	if schema.MaxRows == 0 {
		schema.MaxRows = defaults.MaxRows
	}
	if schema.QuantityWarnLimit == 0 {
		schema.QuantityWarnLimit = defaults.QuantityWarnLimit
	}
	if schema.MaxFieldLength == 0 {
		schema.MaxFieldLength = defaults.MaxFieldLength
	}
	if schema.DateFormat == "" {
		schema.DateFormat = defaults.DateFormat
	}
	if schema.IdentifierPattern == "" {
		schema.IdentifierPattern = defaults.IdentifierPattern
	}

	return schema, nil
}

func DefaultSchema() Schema {
	return Schema{
		RequiredColumns: []string{
			"drug_name",
			"batch_id",
			"quantity",
			"manufacturer",
			"location",
			"expiry_date",
			"nafdac_number",
			"manufacturing_date",
			"active_ingredient",
			"dosage_form",
			"strength",
			"package_size",
			"storage_conditions",
		},
		OptionalColumns:   []string{"description"},
		MaxRows:           10000,
		QuantityWarnLimit: 1000000,
		MaxFieldLength:    200,
		DateFormat:        "2006-01-02",
		IdentifierPattern: `^[A-Za-z0-9_-]+$`,
	}
}
