package resolve

import (
	"fmt"
	"reflect"

	"github.com/Ramsey-B/aster/pkg/models"
)

// Resolution labels used on FieldConflict.DefaultResolution
const (
	ResolutionKeepPrimary = "keep_primary"
	ResolutionUnion       = "union"
)

// Resolver computes field-level diffs between a primary account and its
// cluster-mates and produces merge projections. All methods are pure: inputs
// are never mutated and identical inputs yield identical outputs.
type Resolver struct{}

// NewResolver creates a new Resolver
func NewResolver() *Resolver {
	return &Resolver{}
}

// Diff emits a FieldConflict for every catalog field where at least one
// secondary's value differs from the primary's non-empty value. Set-valued
// fields default to union; scalar fields default to the primary's value.
func (r *Resolver) Diff(primary models.Account, secondaries []models.Account) []models.FieldConflict {
	var conflicts []models.FieldConflict

	for _, field := range Catalog {
		primaryValue := field.Get(&primary)
		if isEmptyValue(field.Kind, primaryValue) {
			continue
		}

		values := make(map[string]any)
		for i := range secondaries {
			secondaryValue := field.Get(&secondaries[i])
			if isEmptyValue(field.Kind, secondaryValue) {
				continue
			}
			if !reflect.DeepEqual(secondaryValue, primaryValue) {
				values[secondaries[i].ID] = secondaryValue
			}
		}

		if len(values) == 0 {
			continue
		}

		resolution := ResolutionKeepPrimary
		if field.Kind == FieldKindSet {
			resolution = ResolutionUnion
		}

		conflicts = append(conflicts, models.FieldConflict{
			Field:             field.Name,
			PrimaryValue:      primaryValue,
			Values:            values,
			DefaultResolution: resolution,
		})
	}

	return conflicts
}

// Preview returns the would-be merged account without touching storage.
// Scalar fields keep the primary's value, falling back to the first
// non-empty secondary when the primary's is empty; set-valued fields take
// the union of all members, primary first; decisions override either rule.
func (r *Resolver) Preview(primary models.Account, secondaries []models.Account, decisions []models.MergeDecision) (models.Account, error) {
	merged := primary
	merged.Tags = append([]string(nil), primary.Tags...)

	decided := make(map[string]models.MergeDecision, len(decisions))
	for _, d := range decisions {
		if _, ok := FieldByName(d.Field); !ok {
			return models.Account{}, fmt.Errorf("unknown merge field %q", d.Field)
		}
		decided[d.Field] = d
	}

	for _, field := range Catalog {
		if d, ok := decided[field.Name]; ok {
			value, err := decisionValue(field, d, primary, secondaries)
			if err != nil {
				return models.Account{}, err
			}
			if !field.Set(&merged, value) {
				return models.Account{}, fmt.Errorf("decision for field %q has incompatible value type", field.Name)
			}
			continue
		}

		switch field.Kind {
		case FieldKindSet:
			field.Set(&merged, unionValues(field, primary, secondaries))
		default:
			if !isEmptyValue(field.Kind, field.Get(&primary)) {
				continue // keep primary
			}
			for i := range secondaries {
				v := field.Get(&secondaries[i])
				if !isEmptyValue(field.Kind, v) {
					field.Set(&merged, v)
					break
				}
			}
		}
	}

	return merged, nil
}

// decisionValue resolves a decision to a concrete value: an explicit value
// wins, otherwise the value is read from the named source account.
func decisionValue(field FieldSpec, d models.MergeDecision, primary models.Account, secondaries []models.Account) (any, error) {
	if d.Value != nil {
		return d.Value, nil
	}

	if d.SourceAccountID == primary.ID {
		return field.Get(&primary), nil
	}
	for i := range secondaries {
		if secondaries[i].ID == d.SourceAccountID {
			return field.Get(&secondaries[i]), nil
		}
	}
	return nil, fmt.Errorf("decision for field %q references account %s outside the merge set", field.Name, d.SourceAccountID)
}

// unionValues merges a set field across all members, primary first,
// preserving first-seen order and dropping duplicates
func unionValues(field FieldSpec, primary models.Account, secondaries []models.Account) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)

	appendAll := func(a *models.Account) {
		values, _ := field.Get(a).([]string)
		for _, v := range values {
			if seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}

	appendAll(&primary)
	for i := range secondaries {
		appendAll(&secondaries[i])
	}

	return out
}
