// Package tagconfig holds the typed model of a tag-management configuration:
// the events (tags), the triggers that fire them and the declaration scope
// of the variables those triggers reference.
package tagconfig

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/jakopako/tagprobe/internal/types"
	"gopkg.in/yaml.v3"
)

// Operator is the comparison a filter condition applies.
type Operator string

const (
	OpEquals           Operator = "EQUALS"
	OpNotEquals        Operator = "NOT_EQUALS"
	OpContains         Operator = "CONTAINS"
	OpStartsWith       Operator = "STARTS_WITH"
	OpEndsWith         Operator = "ENDS_WITH"
	OpRegex            Operator = "REGEX"
	OpRegexAlternation Operator = "REGEX_ALTERNATION"
	OpCSSSelector      Operator = "CSS_SELECTOR"
	OpNegatedExistence Operator = "NEGATED_EXISTENCE"
)

var knownOperators = []Operator{
	OpEquals, OpNotEquals, OpContains, OpStartsWith, OpEndsWith,
	OpRegex, OpRegexAlternation, OpCSSSelector, OpNegatedExistence,
}

// TriggerKind is the kind of browser activity a trigger listens to.
type TriggerKind string

const (
	KindClick         TriggerKind = "click"
	KindLinkClick     TriggerKind = "link-click"
	KindView          TriggerKind = "view"
	KindCustomEvent   TriggerKind = "custom-event"
	KindPageLoad      TriggerKind = "page-load"
	KindDOMReady      TriggerKind = "dom-ready"
	KindWindowLoaded  TriggerKind = "window-loaded"
	KindHistoryChange TriggerKind = "history-change"
	KindScrollDepth   TriggerKind = "scroll-depth"
	KindFormSubmit    TriggerKind = "form-submit"
	KindTimer         TriggerKind = "timer"
)

var knownKinds = []TriggerKind{
	KindClick, KindLinkClick, KindView, KindCustomEvent, KindPageLoad, KindDOMReady,
	KindWindowLoaded, KindHistoryChange, KindScrollDepth, KindFormSubmit, KindTimer,
}

// Automatic reports whether triggers of this kind fire without any user
// interaction.
func (k TriggerKind) Automatic() bool {
	switch k {
	case KindPageLoad, KindDOMReady, KindWindowLoaded, KindHistoryChange:
		return true
	}
	return false
}

// FilterCondition is a single condition of a trigger.
type FilterCondition struct {
	Operator    Operator `yaml:"operator" json:"operator"`
	VariableRef string   `yaml:"variable" json:"variable"`
	Value       string   `yaml:"value" json:"value"`
}

func (f FilterCondition) String() string {
	return fmt.Sprintf("{{%s}} %s %q", f.VariableRef, f.Operator, f.Value)
}

// TriggerDefinition fires when all of its filters are satisfied.
type TriggerDefinition struct {
	ID        string            `yaml:"id" json:"id"`
	Kind      TriggerKind       `yaml:"kind" json:"kind"`
	EventName string            `yaml:"event_name,omitempty" json:"eventName,omitempty"`
	Filters   []FilterCondition `yaml:"filters" json:"filters"`
}

// EventDefinition is an analytics event (tag). It fires if any of its
// triggers fires.
type EventDefinition struct {
	Name       string              `yaml:"name" json:"name"`
	RequiredUI string              `yaml:"required_ui" json:"requiredUI"`
	AutoFire   *bool               `yaml:"auto_fire,omitempty" json:"autoFire,omitempty"`
	Triggers   []TriggerDefinition `yaml:"triggers" json:"triggers"`
}

// FiresAutomatically reports whether the event is sent without user
// interaction. An explicit auto_fire setting wins, otherwise the event is
// automatic when all of its triggers are of an automatic kind.
func (e EventDefinition) FiresAutomatically() bool {
	if e.AutoFire != nil {
		return *e.AutoFire
	}
	if len(e.Triggers) == 0 {
		return false
	}
	for _, t := range e.Triggers {
		if !t.Kind.Automatic() {
			return false
		}
	}
	return true
}

// VariableDeclaration lists the page types on which a variable is
// guaranteed to be populated.
type VariableDeclaration struct {
	Name      string           `yaml:"name"`
	PageTypes []types.PageType `yaml:"page_types"`
}

// VariableScope maps a variable to the page types it is declared on.
// Variables without an entry have an unknown scope.
type VariableScope map[string]types.PageTypeSet

// Lookup returns the declared page types of the variable.
func (s VariableScope) Lookup(variableRef string) (types.PageTypeSet, bool) {
	pts, ok := s[NormalizeVariableRef(variableRef)]
	return pts, ok
}

// NormalizeVariableRef strips template braces and surrounding blanks, so
// that "{{Page Type}}" and "Page Type" refer to the same variable.
func NormalizeVariableRef(ref string) string {
	ref = strings.TrimSpace(ref)
	ref = strings.TrimPrefix(ref, "{{")
	ref = strings.TrimSuffix(ref, "}}")
	return strings.TrimSpace(ref)
}

// A Provider exposes a parsed configuration. Implementations must return
// the same immutable snapshot for the lifetime of a run.
type Provider interface {
	Events() []EventDefinition
	Scope() VariableScope
}

// Document is the on-disk yaml form of a configuration.
type Document struct {
	Variables []VariableDeclaration `yaml:"variables"`
	Events    []EventDefinition     `yaml:"events"`
}

// StaticProvider serves a configuration that was loaded once.
type StaticProvider struct {
	events []EventDefinition
	scope  VariableScope
}

// NewStaticProvider validates the document and builds the provider.
func NewStaticProvider(doc Document) (*StaticProvider, error) {
	scope := VariableScope{}
	for _, v := range doc.Variables {
		name := NormalizeVariableRef(v.Name)
		if name == "" {
			return nil, errors.New("variable declaration without name")
		}
		scope[name] = types.NewPageTypeSet(v.PageTypes...)
	}

	events := make([]EventDefinition, 0, len(doc.Events))
	seen := map[string]bool{}
	for i, e := range doc.Events {
		if e.Name == "" {
			return nil, fmt.Errorf("event %d has no name", i)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("event %s is defined more than once", e.Name)
		}
		seen[e.Name] = true
		e.Triggers = slices.Clone(e.Triggers)
		for j := range e.Triggers {
			t := &e.Triggers[j]
			if t.ID == "" {
				t.ID = fmt.Sprintf("%s#%d", e.Name, j)
			}
			if !slices.Contains(knownKinds, t.Kind) {
				return nil, fmt.Errorf("trigger %s of event %s has unknown kind '%s'", t.ID, e.Name, t.Kind)
			}
			t.Filters = slices.Clone(t.Filters)
			for k := range t.Filters {
				f := &t.Filters[k]
				f.Operator = Operator(strings.ToUpper(string(f.Operator)))
				if !slices.Contains(knownOperators, f.Operator) {
					return nil, fmt.Errorf("trigger %s of event %s: unknown operator '%s'", t.ID, e.Name, f.Operator)
				}
				f.VariableRef = NormalizeVariableRef(f.VariableRef)
			}
		}
		events = append(events, e)
	}
	return &StaticProvider{events: events, scope: scope}, nil
}

// LoadFile reads a yaml configuration document.
func LoadFile(path string) (*StaticProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var doc Document
	d := yaml.NewDecoder(f)
	d.KnownFields(true)
	if err := d.Decode(&doc); err != nil {
		return nil, fmt.Errorf("error while reading tag configuration %s: %w", path, err)
	}
	return NewStaticProvider(doc)
}

func (p *StaticProvider) Events() []EventDefinition {
	return slices.Clone(p.events)
}

func (p *StaticProvider) Scope() VariableScope {
	return p.scope
}

// Event returns the event with the given name.
func (p *StaticProvider) Event(name string) (EventDefinition, bool) {
	for _, e := range p.events {
		if e.Name == name {
			return e, true
		}
	}
	return EventDefinition{}, false
}
