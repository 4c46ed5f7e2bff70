// Package irsxml parses IRS e-file returns (Forms 990, 990-PF and
// 990-EZ) into structured filing records. Parsing is namespace-aware
// and keyed by local element names so any XSD minor revision decodes.
package irsxml

import (
	"time"

	"github.com/grantscope/grantscope/internal/normalize"
)

// FormKind identifies the return variant a document declares.
type FormKind string

const (
	Form990   FormKind = "990"
	Form990PF FormKind = "990-PF"
	Form990EZ FormKind = "990-EZ"
)

// Filing is one parsed return. Immutable once produced.
type Filing struct {
	EIN        string               `json:"ein"`
	OrgName    string               `json:"org_name"`
	TaxYear    int                  `json:"tax_year"`
	Kind       FormKind             `json:"form_kind"`
	ParsedAt   time.Time            `json:"parsed_at"`
	Officers   []Officer            `json:"officers"`
	Grants     []Grant              `json:"grants"`
	Holdings   []Investment         `json:"holdings,omitempty"`
	Financial  FinancialSummary     `json:"financial"`
	Governance GovernanceIndicators `json:"governance"`
	Quality    Quality              `json:"quality"`
}

// Officer is a person listed in the compensation section of a return.
type Officer struct {
	RawName       string                 `json:"raw_name"`
	CanonicalName string                 `json:"canonical_name"`
	Title         string                 `json:"title"`
	Role          normalize.RoleCategory `json:"role"`
	Compensation  float64                `json:"compensation"`
	WeeklyHours   float64                `json:"weekly_hours"`
	Influence     float64                `json:"influence"`
	IsOfficer     bool                   `json:"is_officer"`
	IsDirector    bool                   `json:"is_director"`
}

// Grant is one recipient row from 990-PF Part XV or 990 Schedule I.
type Grant struct {
	RecipientRawName       string  `json:"recipient_raw_name"`
	RecipientCanonicalName string  `json:"recipient_canonical_name"`
	RecipientEIN           string  `json:"recipient_ein,omitempty"`
	RecipientState         string  `json:"recipient_state,omitempty"`
	Amount                 float64 `json:"amount"`
	Purpose                string  `json:"purpose"`
	TaxYear                int     `json:"tax_year"`
}

// Investment is one holding from 990-PF Part II.
type Investment struct {
	Description string  `json:"description"`
	BookValue   float64 `json:"book_value"`
	MarketValue float64 `json:"market_value"`
}

// FinancialSummary captures the headline financial lines of a return.
// Absent lines stay zero and are reflected in Quality completeness.
type FinancialSummary struct {
	TotalRevenue       float64 `json:"total_revenue"`
	TotalExpenses      float64 `json:"total_expenses"`
	TotalAssets        float64 `json:"total_assets"`
	NetAssets          float64 `json:"net_assets"`
	Contributions      float64 `json:"contributions"`
	ProgramExpenses    float64 `json:"program_expenses,omitempty"`
	AdminExpenses      float64 `json:"admin_expenses,omitempty"`
	FundraisingExpense float64 `json:"fundraising_expenses,omitempty"`
}

// GovernanceIndicators carries the policy checkboxes from Part VI.
type GovernanceIndicators struct {
	ConflictOfInterestPolicy bool `json:"conflict_of_interest_policy"`
	WhistleblowerPolicy      bool `json:"whistleblower_policy"`
	DocumentRetentionPolicy  bool `json:"document_retention_policy"`
	MinutesDocumented        bool `json:"minutes_documented"`
}

// Quality grades how much of a filing decoded cleanly.
type Quality struct {
	Overall        float64            `json:"overall"`
	ValidationRate float64            `json:"validation_rate"`
	Completeness   map[string]float64 `json:"completeness"`
	Freshness      string             `json:"freshness"`
	ParseErrors    []string           `json:"parse_errors,omitempty"`
}
