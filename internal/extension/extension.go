// Package extension indexes the UI extensions a collection declares, so a
// shell can place toolbar buttons and slot content without knowing the
// collection.
package extension

import (
	"encoding/json"
	"sort"
)

// DefaultInstance keys descriptors that name no instance.
const DefaultInstance = "default"

// Descriptor is one declared extension.
type Descriptor struct {
	Class      string         `json:"class"`
	InstanceID string         `json:"instance_id,omitempty"`
	Action     string         `json:"action,omitempty"`
	Slot       string         `json:"slot,omitempty"`
	Label      string         `json:"label,omitempty"`
	Icon       string         `json:"icon,omitempty"`
	Options    map[string]any `json:"options,omitempty"`
}

func (d Descriptor) instance() string {
	if d.InstanceID == "" {
		return DefaultInstance
	}
	return d.InstanceID
}

// Registry indexes descriptors by class and instance, by action name and by
// slot target. It is immutable once built.
type Registry struct {
	all      []Descriptor
	byClass  map[string]map[string][]Descriptor
	byAction map[string][]Descriptor
	bySlot   map[string][]Descriptor
	actions  []string
}

// NewRegistry indexes ds in declaration order.
func NewRegistry(ds []Descriptor) *Registry {
	r := &Registry{
		all:      append([]Descriptor(nil), ds...),
		byClass:  make(map[string]map[string][]Descriptor),
		byAction: make(map[string][]Descriptor),
		bySlot:   make(map[string][]Descriptor),
	}
	for _, d := range ds {
		instances, ok := r.byClass[d.Class]
		if !ok {
			instances = make(map[string][]Descriptor)
			r.byClass[d.Class] = instances
		}
		instances[d.instance()] = append(instances[d.instance()], d)

		if d.Action != "" {
			if _, seen := r.byAction[d.Action]; !seen {
				r.actions = append(r.actions, d.Action)
			}
			r.byAction[d.Action] = append(r.byAction[d.Action], d)
		}
		if d.Slot != "" {
			r.bySlot[d.Slot] = append(r.bySlot[d.Slot], d)
		}
	}
	return r
}

// Len returns the number of descriptors.
func (r *Registry) Len() int { return len(r.all) }

// ByClass returns the descriptors of a class keyed by instance id.
func (r *Registry) ByClass(class string) map[string][]Descriptor {
	return r.byClass[class]
}

// ByInstance returns the descriptors of one class instance.
func (r *Registry) ByInstance(class, instanceID string) []Descriptor {
	if instanceID == "" {
		instanceID = DefaultInstance
	}
	return r.byClass[class][instanceID]
}

// ByAction returns the descriptors bound to an action name.
func (r *Registry) ByAction(action string) []Descriptor {
	return r.byAction[action]
}

// BySlot returns the descriptors targeting a slot.
func (r *Registry) BySlot(slot string) []Descriptor {
	return r.bySlot[slot]
}

// Actions returns the action names in first-declared order.
func (r *Registry) Actions() []string {
	return append([]string(nil), r.actions...)
}

// Classes returns the declared classes, sorted.
func (r *Registry) Classes() []string {
	out := make([]string, 0, len(r.byClass))
	for c := range r.byClass {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Filter returns a registry without the descriptors whose action keep
// rejects. Descriptors without an action are kept.
func (r *Registry) Filter(keep func(action string) bool) *Registry {
	var out []Descriptor
	for _, d := range r.all {
		if d.Action == "" || keep(d.Action) {
			out = append(out, d)
		}
	}
	return NewRegistry(out)
}

// MarshalJSON writes the three indices.
func (r *Registry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Classes map[string]map[string][]Descriptor `json:"classes"`
		Actions map[string][]Descriptor            `json:"actions"`
		Slots   map[string][]Descriptor            `json:"slots"`
	}{r.byClass, r.byAction, r.bySlot})
}
