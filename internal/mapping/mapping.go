// Package mapping loads declarative legacy-to-target model definitions and
// registers them as importable classes.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/johnswift/legacyimport/internal/importable"
	"github.com/johnswift/legacyimport/internal/model"
	"gopkg.in/yaml.v3"
)

// ErrUnresolvedReference is returned when a referenced legacy row has not
// been imported yet.
var ErrUnresolvedReference = errors.New("unresolved reference")

// File is a mapping document.
type File struct {
	Models []Model `yaml:"models"`
}

// Model describes one legacy class.
type Model struct {
	// Class is the legacy class name, e.g. "Legacy::User".
	Class string `yaml:"class"`
	// Table holds the legacy rows.
	Table string `yaml:"table"`
	// To is the target class; inherited from Parent when empty.
	To string `yaml:"to,omitempty"`
	// TargetTable holds the target rows.
	TargetTable string `yaml:"target_table,omitempty"`
	Parent      string `yaml:"parent,omitempty"`

	// Fields maps target columns to legacy columns.
	Fields map[string]string `yaml:"fields,omitempty"`
	// Defaults are constant target column values.
	Defaults map[string]any `yaml:"defaults,omitempty"`
	// References translate legacy foreign keys into target ids.
	References map[string]Reference `yaml:"references,omitempty"`
	// SkipWhen skips legacy rows whose columns equal every given value.
	SkipWhen map[string]any `yaml:"skip_when,omitempty"`
}

// Reference points a target column at another importable class.
type Reference struct {
	Class string `yaml:"class"`
	Field string `yaml:"field"`
}

// Binder maps classes to tables.
type Binder interface {
	Bind(class, table string)
}

// Load reads and validates a mapping file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates a mapping document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks that every model is complete and that parents and
// references name declared classes.
func (f *File) Validate() error {
	if len(f.Models) == 0 {
		return fmt.Errorf("mapping declares no models")
	}

	declared := make(map[string]bool, len(f.Models))
	for i, m := range f.Models {
		if m.Class == "" {
			return fmt.Errorf("model %d: class is required", i)
		}
		if m.Table == "" {
			return fmt.Errorf("model %s: table is required", m.Class)
		}
		if declared[m.Class] {
			return fmt.Errorf("model %s: declared twice", m.Class)
		}
		declared[m.Class] = true
	}

	for _, m := range f.Models {
		if m.Parent != "" && !declared[m.Parent] {
			return fmt.Errorf("model %s: parent %s is not declared", m.Class, m.Parent)
		}
		for col, ref := range m.References {
			if ref.Field == "" {
				return fmt.Errorf("model %s: reference %s: field is required", m.Class, col)
			}
			if !declared[ref.Class] {
				return fmt.Errorf("model %s: reference %s: class %s is not declared", m.Class, col, ref.Class)
			}
		}
	}
	return nil
}

// Apply binds every table and registers every model. It returns the
// registered models in declaration order.
func (f *File) Apply(reg *importable.Registry, binder Binder) ([]*importable.Model, error) {
	models := make([]*importable.Model, 0, len(f.Models))
	for _, decl := range f.Models {
		binder.Bind(decl.Class, decl.Table)

		opts := importable.Options{
			To:     decl.To,
			Parent: decl.Parent,
		}
		if decl.hasMapping() {
			opts.Map = decl.mapper(reg)
		}
		m, err := reg.ActsAsImportable(decl.Class, opts)
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", decl.Class, err)
		}
		models = append(models, m)
	}

	// Target classes can only be resolved once every parent is registered.
	for i, decl := range f.Models {
		if decl.TargetTable != "" {
			binder.Bind(models[i].TargetClass(), decl.TargetTable)
		}
	}
	return models, nil
}

// TargetClasses returns the distinct target classes of the given models.
func TargetClasses(models []*importable.Model) []string {
	seen := map[string]bool{}
	var classes []string
	for _, m := range models {
		c := m.TargetClass()
		if !seen[c] {
			seen[c] = true
			classes = append(classes, c)
		}
	}
	sort.Strings(classes)
	return classes
}

func (m Model) hasMapping() bool {
	return len(m.Fields) > 0 || len(m.Defaults) > 0 || len(m.References) > 0 || len(m.SkipWhen) > 0
}

func (m Model) mapper(reg *importable.Registry) importable.Mapper {
	return func(ctx context.Context, legacy, target *model.Record) error {
		if len(m.SkipWhen) > 0 && m.skip(legacy) {
			return importable.ErrSkip
		}

		for col, v := range m.Defaults {
			target.Set(col, v)
		}
		for targetCol, legacyCol := range m.Fields {
			target.Set(targetCol, legacyValue(legacy, legacyCol))
		}
		for targetCol, ref := range m.References {
			id, err := resolve(ctx, reg, legacy, ref)
			if err != nil {
				return fmt.Errorf("%s: %w", targetCol, err)
			}
			target.Set(targetCol, id)
		}
		return nil
	}
}

func (m Model) skip(legacy *model.Record) bool {
	for col, want := range m.SkipWhen {
		if !sameValue(legacyValue(legacy, col), want) {
			return false
		}
	}
	return true
}

func legacyValue(legacy *model.Record, col string) any {
	if col == model.PrimaryKey {
		return legacy.ID
	}
	return legacy.Get(col)
}

// resolve returns the target id for a legacy foreign key, or nil when the
// foreign key is null.
func resolve(ctx context.Context, reg *importable.Registry, legacy *model.Record, ref Reference) (any, error) {
	raw := legacyValue(legacy, ref.Field)
	if raw == nil {
		return nil, nil
	}
	legacyID, err := model.ToInt64(raw)
	if err != nil {
		return nil, fmt.Errorf("reference %s: %w", ref.Field, err)
	}

	refModel, ok := reg.Model(ref.Class)
	if !ok {
		return nil, fmt.Errorf("reference class %s is not registered", ref.Class)
	}
	id, found, err := refModel.Lookup(ctx, legacyID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%s#%d: %w", ref.Class, legacyID, ErrUnresolvedReference)
	}
	return id, nil
}

// sameValue compares a database value with a YAML scalar, treating booleans
// and integers interchangeably.
func sameValue(got, want any) bool {
	if got == nil || want == nil {
		return got == nil && want == nil
	}
	gi, gerr := toComparableInt(got)
	wi, werr := toComparableInt(want)
	if gerr == nil && werr == nil {
		return gi == wi
	}
	return fmt.Sprint(got) == fmt.Sprint(want)
}

func toComparableInt(v any) (int64, error) {
	if b, ok := v.(bool); ok {
		if b {
			return 1, nil
		}
		return 0, nil
	}
	if _, ok := v.(string); ok {
		return 0, fmt.Errorf("string")
	}
	return model.ToInt64(v)
}
