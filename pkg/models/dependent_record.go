package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DependentRecordKind identifies the type of a dependent record
type DependentRecordKind string

const (
	DependentKindContact  DependentRecordKind = "contact"
	DependentKindDeal     DependentRecordKind = "deal"
	DependentKindActivity DependentRecordKind = "activity"
)

// DependentRecord is a Contact, Deal, or Activity owned by exactly one Account.
// NaturalKey is the business key used to detect duplicates after a merge
// reassigns ownership (contact email, deal name+amount+stage, activity
// kind+subject+timestamp).
type DependentRecord struct {
	ID             string              `json:"id" db:"id"`
	AccountID      string              `json:"account_id" db:"account_id"`
	Kind           DependentRecordKind `json:"kind" db:"kind"`
	NaturalKey     string              `json:"natural_key" db:"natural_key"`
	Data           json.RawMessage     `json:"data" db:"data"`
	LastActivityAt time.Time           `json:"last_activity_at" db:"last_activity_at"`
	CreatedAt      time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at" db:"updated_at"`
}

// ContactNaturalKey builds the natural key for a contact record
func ContactNaturalKey(email string) string {
	return "contact:" + strings.ToLower(strings.TrimSpace(email))
}

// DealNaturalKey builds the natural key for a deal record
func DealNaturalKey(name string, amount float64, stage string) string {
	return fmt.Sprintf("deal:%s:%.2f:%s", strings.ToLower(strings.TrimSpace(name)), amount, strings.ToLower(stage))
}

// ActivityNaturalKey builds the natural key for an activity record
func ActivityNaturalKey(activityType, subject string, occurredAt time.Time) string {
	return fmt.Sprintf("activity:%s:%s:%d", strings.ToLower(activityType), strings.ToLower(strings.TrimSpace(subject)), occurredAt.Unix())
}
