package doctype

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"

	enginerr "github.com/compoundkb/compoundmcp/internal/errors"
)

// Schema is the compiled frontmatter contract for one doc type: the fields
// that must be present plus per-field enum constraints.
type Schema struct {
	Required []string
	Enums    map[string][]string
}

// baseRequired applies to every typed document regardless of doc type.
var baseRequired = []string{"type", "title", "date", "summary", "significance", "tags", "status"}

// typeRequired adds the type-specific required fields for built-ins.
var typeRequired = map[string][]string{
	"problem": {"symptoms", "root_cause", "solution"},
	"insight": {"insight_type", "observation", "implication"},
	"tool":    {"tool_name", "version", "knowledge_type"},
}

// SignificanceValues is the accepted significance enum.
var SignificanceValues = []string{"critical", "architectural", "behavioral", "performance", "security", "minor"}

// PromotionValues is the accepted promotion_level enum.
var PromotionValues = []string{"standard", "important", "critical"}

var dateFormat = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

func baseEnums() map[string][]string {
	return map[string][]string{
		"significance":    SignificanceValues,
		"promotion_level": PromotionValues,
	}
}

func builtinSchema(name string) *Schema {
	s := &Schema{
		Required: append([]string{}, baseRequired...),
		Enums:    baseEnums(),
	}
	s.Required = append(s.Required, typeRequired[name]...)
	return s
}

// customSchemaFile is the on-disk shape of a custom type's schema file,
// JSON or YAML by extension. Its fields extend the base schema.
type customSchemaFile struct {
	RequiredFields []string            `yaml:"required_fields" json:"required_fields"`
	Enums          map[string][]string `yaml:"enums" json:"enums"`
}

type schemaEntry struct {
	schema  *Schema
	modTime time.Time
	size    int64
}

// schemaCache memoizes compiled custom schemas across activations of the
// same project, invalidated by mtime/size. Flushed on project switch.
var schemaCache, _ = lru.New[string, schemaEntry](64)

// FlushSchemaCache drops all compiled custom schemas. Called when the
// active project changes.
func FlushSchemaCache() {
	schemaCache.Purge()
}

// loadCustomSchema reads and compiles a custom type's schema file. The path
// is resolved relative to the directory holding the project config.
func loadCustomSchema(configDir, schemaFile string) (*Schema, error) {
	path := schemaFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(configDir, schemaFile)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if entry, ok := schemaCache.Get(path); ok {
		if entry.modTime.Equal(info.ModTime()) && entry.size == info.Size() {
			return entry.schema, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var parsed customSchemaFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &parsed)
	default:
		err = json.Unmarshal(data, &parsed)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema file: %w", err)
	}

	schema := &Schema{
		Required: append([]string{}, baseRequired...),
		Enums:    baseEnums(),
	}
	for _, f := range parsed.RequiredFields {
		if !contains(schema.Required, f) {
			schema.Required = append(schema.Required, f)
		}
	}
	for field, values := range parsed.Enums {
		schema.Enums[field] = values
	}

	schemaCache.Add(path, schemaEntry{schema: schema, modTime: info.ModTime(), size: info.Size()})
	return schema, nil
}

// ValidateFrontmatter checks a parsed frontmatter map against the schema for
// its declared type. Failures return SCHEMA_VALIDATION_FAILED carrying the
// failed field names; content errors are never retried.
func (r *Registry) ValidateFrontmatter(docType string, fm map[string]any) error {
	if _, ok := r.types[docType]; !ok {
		return enginerr.Newf(enginerr.CodeSchemaValidationFailed, "unknown doc type %q", docType).
			WithDetail("doc_type", docType).
			WithSuggestion("register the type under custom_doc_types or use a built-in type")
	}
	schema, ok := r.schemas[docType]
	if !ok {
		// Registered custom type whose schema file was missing at
		// activation: captures stay blocked until the file appears.
		return enginerr.Newf(enginerr.CodeSchemaValidationFailed,
			"doc type %q has no schema loaded", docType).
			WithDetail("doc_type", docType).
			WithSuggestion("create the schema file referenced by custom_doc_types and re-activate")
	}

	var failed []string
	for _, field := range schema.Required {
		value, present := fm[field]
		if !present || isEmptyValue(value) {
			failed = append(failed, field+": required")
		}
	}
	if raw, present := fm["date"]; present {
		if reason := checkDate(raw); reason != "" {
			failed = append(failed, "date: "+reason)
		}
	}
	for field, allowed := range schema.Enums {
		raw, present := fm[field]
		if !present {
			continue
		}
		s, isString := raw.(string)
		if !isString || !contains(allowed, s) {
			failed = append(failed, fmt.Sprintf("%s: must be one of %s", field, strings.Join(allowed, ", ")))
		}
	}
	if len(failed) == 0 {
		return nil
	}

	sort.Strings(failed)
	return enginerr.Newf(enginerr.CodeSchemaValidationFailed,
		"frontmatter failed validation for doc type %q", docType).
		WithDetail("doc_type", docType).
		WithDetail("fields", failed)
}

// checkDate accepts YYYY-MM-DD strings and the time.Time values the YAML
// decoder produces for unquoted dates.
func checkDate(raw any) string {
	switch v := raw.(type) {
	case time.Time:
		return ""
	case string:
		if !dateFormat.MatchString(v) {
			return "must be YYYY-MM-DD"
		}
		if _, err := time.Parse("2006-01-02", v); err != nil {
			return "not a calendar date"
		}
		return ""
	default:
		return "must be YYYY-MM-DD"
	}
}

// isEmptyValue treats nil, empty strings, and empty lists as absent.
func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	default:
		return false
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
