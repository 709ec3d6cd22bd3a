package crisis

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed keywords.yaml
var defaultRegistryYAML []byte

// DefaultRegistrySource names the registry compiled into the binary.
const DefaultRegistrySource = "embedded:keywords.yaml"

// registryDocument is the on-disk shape of a keyword registry. Numeric
// fields are pointers so that a missing value can be told apart from 0.
type registryDocument struct {
	Version  string        `yaml:"version" validate:"required"`
	Reviewed string        `yaml:"reviewed"`
	Entries  []keywordSpec `yaml:"entries" validate:"required,min=1,unique=ID,dive"`
}

type keywordSpec struct {
	ID                        string   `yaml:"id" validate:"required"`
	Term                      string   `yaml:"term" validate:"required,matchable"`
	Category                  string   `yaml:"category" validate:"required,crisis_category"`
	Severity                  string   `yaml:"severity" validate:"required,crisis_severity"`
	Context                   string   `yaml:"context" validate:"required,crisis_context"`
	ClinicalEvidence          string   `yaml:"clinical_evidence" validate:"required"`
	FalsePositiveRate         *float64 `yaml:"false_positive_rate" validate:"required,gte=0,lte=1"`
	Variations                []string `yaml:"variations" validate:"dive,required,matchable"`
	RequiresImmediateResponse bool     `yaml:"requires_immediate_response"`
	BaselineConfidence        *float64 `yaml:"baseline_confidence" validate:"required,gte=0,lte=1"`
}

var registryValidate *validator.Validate

func init() {
	registryValidate = validator.New()
	_ = registryValidate.RegisterValidation("crisis_category", func(fl validator.FieldLevel) bool {
		var c Category
		return c.UnmarshalText([]byte(fl.Field().String())) == nil
	})
	_ = registryValidate.RegisterValidation("crisis_severity", func(fl validator.FieldLevel) bool {
		_, err := ParseSeverity(fl.Field().String())
		return err == nil
	})
	_ = registryValidate.RegisterValidation("crisis_context", func(fl validator.FieldLevel) bool {
		var c ContextType
		return c.UnmarshalText([]byte(fl.Field().String())) == nil
	})
	// A term made only of punctuation normalizes to nothing and could never match.
	_ = registryValidate.RegisterValidation("matchable", func(fl validator.FieldLevel) bool {
		return Normalize(fl.Field().String()) != ""
	})
}

// Registry is the immutable, versioned table of keyword entries. It is safe
// for concurrent use because nothing mutates it after LoadRegistry returns.
type Registry struct {
	version  string
	reviewed string
	source   string
	entries  []KeywordEntry
	byID     map[string]int
}

// LoadRegistry parses and validates a YAML registry document. Every problem
// is reported in a single *ConfigurationError.
func LoadRegistry(data []byte, source string) (*Registry, error) {
	var doc registryDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, &ConfigurationError{Source: source, Problems: []string{fmt.Sprintf("parse: %v", err)}}
	}

	if err := registryValidate.Struct(doc); err != nil {
		return nil, &ConfigurationError{Source: source, Problems: describeValidation(err)}
	}

	reg := &Registry{
		version:  doc.Version,
		reviewed: doc.Reviewed,
		source:   source,
		entries:  make([]KeywordEntry, 0, len(doc.Entries)),
		byID:     make(map[string]int, len(doc.Entries)),
	}
	for _, def := range doc.Entries {
		entry, err := def.toEntry()
		if err != nil {
			return nil, &ConfigurationError{Source: source, Problems: []string{fmt.Sprintf("entry %s: %v", def.ID, err)}}
		}
		reg.byID[entry.ID] = len(reg.entries)
		reg.entries = append(reg.entries, entry)
	}
	return reg, nil
}

// LoadRegistryFile reads a registry from disk.
func LoadRegistryFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Source: path, Problems: []string{fmt.Sprintf("read: %v", err)}}
	}
	return LoadRegistry(data, path)
}

// DefaultRegistry loads the registry compiled into the binary.
func DefaultRegistry() (*Registry, error) {
	return LoadRegistry(defaultRegistryYAML, DefaultRegistrySource)
}

func (s keywordSpec) toEntry() (KeywordEntry, error) {
	var category Category
	if err := category.UnmarshalText([]byte(s.Category)); err != nil {
		return KeywordEntry{}, err
	}
	severity, err := ParseSeverity(s.Severity)
	if err != nil {
		return KeywordEntry{}, err
	}
	var ctxType ContextType
	if err := ctxType.UnmarshalText([]byte(s.Context)); err != nil {
		return KeywordEntry{}, err
	}
	return KeywordEntry{
		ID:                        s.ID,
		Term:                      s.Term,
		Category:                  category,
		Severity:                  severity,
		Context:                   ctxType,
		ClinicalEvidence:          s.ClinicalEvidence,
		FalsePositiveRate:         *s.FalsePositiveRate,
		Variations:                append([]string(nil), s.Variations...),
		RequiresImmediateResponse: s.RequiresImmediateResponse,
		BaselineConfidence:        *s.BaselineConfidence,
	}, nil
}

func describeValidation(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			problems = append(problems, fmt.Sprintf("%s is required", fe.Namespace()))
		case "gte", "lte":
			problems = append(problems, fmt.Sprintf("%s must be within [0,1], got %v", fe.Namespace(), fe.Value()))
		case "unique":
			problems = append(problems, fmt.Sprintf("%s contains duplicate ids", fe.Namespace()))
		case "matchable":
			problems = append(problems, fmt.Sprintf("%s %q has no letters or digits", fe.Namespace(), fe.Value()))
		default:
			problems = append(problems, fmt.Sprintf("%s has unrecognized value %v (%s)", fe.Namespace(), fe.Value(), fe.Tag()))
		}
	}
	return problems
}

func (r *Registry) Version() string  { return r.version }
func (r *Registry) Reviewed() string { return r.reviewed }
func (r *Registry) Source() string   { return r.source }
func (r *Registry) Len() int         { return len(r.entries) }

// Entries returns a copy of every entry in registry order.
func (r *Registry) Entries() []KeywordEntry {
	out := make([]KeywordEntry, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.clone()
	}
	return out
}

// Entry looks an entry up by id.
func (r *Registry) Entry(id string) (KeywordEntry, bool) {
	i, ok := r.byID[id]
	if !ok {
		return KeywordEntry{}, false
	}
	return r.entries[i].clone(), true
}

// CountByCategory returns the number of entries per category.
func (r *Registry) CountByCategory() map[Category]int {
	counts := make(map[Category]int, len(Categories))
	for _, e := range r.entries {
		counts[e.Category]++
	}
	return counts
}
