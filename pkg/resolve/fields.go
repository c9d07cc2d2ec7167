// Package resolve computes field-level diffs and merge previews for accounts
package resolve

import "github.com/Ramsey-B/aster/pkg/models"

// FieldKind declares how a field's values are compared and merged
type FieldKind string

const (
	// FieldKindScalar is winner-take-all; the primary's non-empty value wins
	// by default.
	FieldKindScalar FieldKind = "scalar"
	// FieldKindNumeric is scalar with zero treated as empty.
	FieldKindNumeric FieldKind = "numeric"
	// FieldKindSet merges by union with dedup; members never conflict.
	FieldKindSet FieldKind = "set"
)

// FieldSpec describes one mergeable account field. The catalog replaces
// dynamic key iteration with an explicit, auditable field list.
type FieldSpec struct {
	Name string
	Kind FieldKind
	Get  func(a *models.Account) any
	Set  func(a *models.Account, v any) bool
}

// Catalog enumerates every mergeable account field. Identifier and
// timestamps are deliberately absent: the ID is immutable and timestamps are
// maintained by storage.
var Catalog = []FieldSpec{
	{
		Name: "name",
		Kind: FieldKindScalar,
		Get:  func(a *models.Account) any { return a.Name },
		Set:  func(a *models.Account, v any) bool { return setString(&a.Name, v) },
	},
	{
		Name: "domain",
		Kind: FieldKindScalar,
		Get:  func(a *models.Account) any { return a.Domain },
		Set:  func(a *models.Account, v any) bool { return setString(&a.Domain, v) },
	},
	{
		Name: "industry",
		Kind: FieldKindScalar,
		Get:  func(a *models.Account) any { return a.Industry },
		Set:  func(a *models.Account, v any) bool { return setString(&a.Industry, v) },
	},
	{
		Name: "company_size",
		Kind: FieldKindScalar,
		Get:  func(a *models.Account) any { return a.CompanySize },
		Set:  func(a *models.Account, v any) bool { return setString(&a.CompanySize, v) },
	},
	{
		Name: "annual_revenue",
		Kind: FieldKindNumeric,
		Get:  func(a *models.Account) any { return a.AnnualRevenue },
		Set:  func(a *models.Account, v any) bool { return setFloat(&a.AnnualRevenue, v) },
	},
	{
		Name: "website",
		Kind: FieldKindScalar,
		Get:  func(a *models.Account) any { return a.Website },
		Set:  func(a *models.Account, v any) bool { return setString(&a.Website, v) },
	},
	{
		Name: "phone",
		Kind: FieldKindScalar,
		Get:  func(a *models.Account) any { return a.Phone },
		Set:  func(a *models.Account, v any) bool { return setString(&a.Phone, v) },
	},
	{
		Name: "description",
		Kind: FieldKindScalar,
		Get:  func(a *models.Account) any { return a.Description },
		Set:  func(a *models.Account, v any) bool { return setString(&a.Description, v) },
	},
	{
		Name: "address",
		Kind: FieldKindScalar,
		Get:  func(a *models.Account) any { return a.Address },
		Set:  func(a *models.Account, v any) bool { return setString(&a.Address, v) },
	},
	{
		Name: "tags",
		Kind: FieldKindSet,
		Get:  func(a *models.Account) any { return []string(a.Tags) },
		Set:  func(a *models.Account, v any) bool { return setStringSlice((*[]string)(&a.Tags), v) },
	},
	{
		Name: "owner_id",
		Kind: FieldKindScalar,
		Get: func(a *models.Account) any {
			if a.OwnerID == nil {
				return ""
			}
			return *a.OwnerID
		},
		Set: func(a *models.Account, v any) bool {
			var s string
			if !setString(&s, v) {
				return false
			}
			if s == "" {
				a.OwnerID = nil
			} else {
				a.OwnerID = &s
			}
			return true
		},
	},
	{
		Name: "health_score",
		Kind: FieldKindNumeric,
		Get:  func(a *models.Account) any { return float64(a.HealthScore) },
		Set: func(a *models.Account, v any) bool {
			var f float64
			if !setFloat(&f, v) {
				return false
			}
			a.HealthScore = int(f)
			return true
		},
	},
}

// FieldByName looks up a catalog entry
func FieldByName(name string) (FieldSpec, bool) {
	for _, f := range Catalog {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

func setString(dst *string, v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	*dst = s
	return true
}

func setFloat(dst *float64, v any) bool {
	switch n := v.(type) {
	case float64:
		*dst = n
	case float32:
		*dst = float64(n)
	case int:
		*dst = float64(n)
	case int64:
		*dst = float64(n)
	default:
		return false
	}
	return true
}

func setStringSlice(dst *[]string, v any) bool {
	switch vals := v.(type) {
	case []string:
		out := make([]string, len(vals))
		copy(out, vals)
		*dst = out
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			s, ok := item.(string)
			if !ok {
				return false
			}
			out = append(out, s)
		}
		*dst = out
	default:
		return false
	}
	return true
}

func isEmptyValue(kind FieldKind, v any) bool {
	switch kind {
	case FieldKindNumeric:
		f, ok := v.(float64)
		return !ok || f == 0
	case FieldKindSet:
		s, ok := v.([]string)
		return !ok || len(s) == 0
	default:
		s, ok := v.(string)
		return !ok || s == ""
	}
}
