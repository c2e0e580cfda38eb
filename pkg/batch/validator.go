package batch

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	errEmptyFile      = errors.New("empty batch file")
	errMissingColumns = errors.New("missing required columns")
	errRowShape       = errors.New("malformed row")
)

// StructuralError marks malformed input that aborts before any side effects,
// as opposed to row-level business-rule findings which are accumulated.
type StructuralError struct {
	reason error
}

func (e StructuralError) Error() string {
	return e.reason.Error()
}

func (e StructuralError) Unwrap() error {
	return e.reason
}

func IsStructuralError(err error) bool {
	var se StructuralError
	return errors.As(err, &se)
}

type Validator struct {
	schema    Schema
	idPattern *regexp.Regexp
	now       func() time.Time
}

func NewValidator(schema Schema) (*Validator, error) {
	idPattern, err := regexp.Compile(schema.IdentifierPattern)
	if err != nil {
		return nil, fmt.Errorf("compiling identifier pattern: %w", err)
	}
	return &Validator{schema: schema, idPattern: idPattern, now: time.Now}, nil
}

// Validate parses the raw batch file and applies every row-level check. It
// never stops at the first invalid row: the returned result references every
// finding so the submitter gets one complete report. The only error return is
// a StructuralError for input whose shape cannot be interpreted at all.
func (v *Validator) Validate(data []byte) (*ValidationResult, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, StructuralError{reason: errEmptyFile}
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, StructuralError{reason: fmt.Errorf("reading header: %w", err)}
	}

	columns := make(map[string]int, len(header))
	for idx, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = idx
	}

	var missing []string
	for _, required := range v.schema.RequiredColumns {
		if _, ok := columns[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return nil, StructuralError{reason: fmt.Errorf("%w: %s", errMissingColumns, strings.Join(missing, ", "))}
	}

	result := &ValidationResult{IsValid: true}

	rowNum := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A field-count mismatch against the header is a shape
			// problem, not a business-rule finding.
			return nil, StructuralError{reason: fmt.Errorf("%w: %v", errRowShape, err)}
		}

		rowNum++
		if rowNum > v.schema.MaxRows {
			result.Errors = append(result.Errors, Issue{
				Row:     0,
				Field:   "file",
				Message: fmt.Sprintf("batch exceeds the maximum of %d rows", v.schema.MaxRows),
			})
			result.IsValid = false
			break
		}

		row, issues, warnings := v.checkRow(rowNum, record, columns)
		result.TotalRows++
		result.Rows = append(result.Rows, row)
		result.Warnings = append(result.Warnings, warnings...)
		if len(issues) > 0 {
			result.Errors = append(result.Errors, issues...)
			result.InvalidRows++
			result.IsValid = false
		} else {
			result.ValidRows++
		}
	}

	if result.TotalRows == 0 {
		return nil, StructuralError{reason: errors.New("batch file has no data rows")}
	}

	return result, nil
}

func (v *Validator) checkRow(rowNum int, record []string, columns map[string]int) (BatchRow, []Issue, []Issue) {
	var issues, warnings []Issue

	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	for _, required := range v.schema.RequiredColumns {
		if field(required) == "" {
			issues = append(issues, Issue{Row: rowNum, Field: required, Message: "required field is empty"})
		}
	}

	for name := range columns {
		if value := field(name); len(value) > v.schema.MaxFieldLength {
			warnings = append(warnings, Issue{
				Row:     rowNum,
				Field:   name,
				Message: fmt.Sprintf("value exceeds %d characters", v.schema.MaxFieldLength),
			})
		}
	}

	row := BatchRow{
		DrugName:          field("drug_name"),
		BatchID:           field("batch_id"),
		Manufacturer:      field("manufacturer"),
		Location:          field("location"),
		NAFDACNumber:      field("nafdac_number"),
		ActiveIngredient:  field("active_ingredient"),
		DosageForm:        field("dosage_form"),
		Strength:          field("strength"),
		PackageSize:       field("package_size"),
		StorageConditions: field("storage_conditions"),
		Description:       field("description"),
	}

	if raw := field("quantity"); raw != "" {
		quantity, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			issues = append(issues, Issue{Row: rowNum, Field: "quantity", Message: fmt.Sprintf("not a whole number: %q", raw)})
		case quantity <= 0:
			issues = append(issues, Issue{Row: rowNum, Field: "quantity", Message: "must be a positive integer"})
		default:
			row.Quantity = quantity
			if quantity > v.schema.QuantityWarnLimit {
				warnings = append(warnings, Issue{
					Row:     rowNum,
					Field:   "quantity",
					Message: fmt.Sprintf("%d units is implausibly large", quantity),
				})
			}
		}
	}

	for _, name := range []string{"batch_id", "nafdac_number"} {
		if value := field(name); value != "" && !v.idPattern.MatchString(value) {
			warnings = append(warnings, Issue{
				Row:     rowNum,
				Field:   name,
				Message: "identifier contains unexpected characters",
			})
		}
	}

	now := v.now()

	if raw := field("expiry_date"); raw != "" {
		expiry, err := time.Parse(v.schema.DateFormat, raw)
		switch {
		case err != nil:
			issues = append(issues, Issue{Row: rowNum, Field: "expiry_date", Message: fmt.Sprintf("not a valid %s date: %q", "YYYY-MM-DD", raw)})
		case !expiry.After(now):
			issues = append(issues, Issue{Row: rowNum, Field: "expiry_date", Message: "expiry date must be in the future"})
		default:
			row.ExpiryDate = expiry
		}
	}

	if raw := field("manufacturing_date"); raw != "" {
		mfg, err := time.Parse(v.schema.DateFormat, raw)
		switch {
		case err != nil:
			issues = append(issues, Issue{Row: rowNum, Field: "manufacturing_date", Message: fmt.Sprintf("not a valid %s date: %q", "YYYY-MM-DD", raw)})
		default:
			row.ManufacturingDate = mfg
			if mfg.After(now) {
				warnings = append(warnings, Issue{Row: rowNum, Field: "manufacturing_date", Message: "manufacturing date is in the future"})
			}
		}
	}

	return row, issues, warnings
}
