package models

import (
	"time"

	"github.com/lib/pq"
)

// Account represents a canonical organization record.
// Field order matches schema: id, name, domain, industry, company_size, ...
type Account struct {
	ID            string         `json:"id" db:"id"`
	Name          string         `json:"name" db:"name"`
	Domain        string         `json:"domain" db:"domain"`
	Industry      string         `json:"industry" db:"industry"`
	CompanySize   string         `json:"company_size" db:"company_size"`
	AnnualRevenue float64        `json:"annual_revenue" db:"annual_revenue"`
	Website       string         `json:"website" db:"website"`
	Phone         string         `json:"phone" db:"phone"`
	Description   string         `json:"description" db:"description"`
	Address       string         `json:"address" db:"address"`
	Tags          pq.StringArray `json:"tags" db:"tags"`
	OwnerID       *string        `json:"owner_id,omitempty" db:"owner_id"`
	HealthScore   int            `json:"health_score" db:"health_score"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}

// PopulatedFieldCount returns how many comparable fields carry a value.
// Used as a tiebreak when selecting a merge primary.
func (a *Account) PopulatedFieldCount() int {
	count := 0
	for _, s := range []string{a.Name, a.Domain, a.Industry, a.CompanySize, a.Website, a.Phone, a.Description, a.Address} {
		if s != "" {
			count++
		}
	}
	if a.AnnualRevenue > 0 {
		count++
	}
	if len(a.Tags) > 0 {
		count++
	}
	return count
}

// CreateAccountRequest is the request for creating an account
type CreateAccountRequest struct {
	Name          string   `json:"name" validate:"required"`
	Domain        string   `json:"domain"`
	Industry      string   `json:"industry"`
	CompanySize   string   `json:"company_size"`
	AnnualRevenue float64  `json:"annual_revenue"`
	Website       string   `json:"website"`
	Phone         string   `json:"phone"`
	Description   string   `json:"description"`
	Address       string   `json:"address"`
	Tags          []string `json:"tags"`
	OwnerID       *string  `json:"owner_id,omitempty"`
}

// AccountListResponse is the response for listing accounts
type AccountListResponse struct {
	Items      []Account `json:"items"`
	TotalCount int       `json:"total_count"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
}
