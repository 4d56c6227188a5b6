package storage

import (
	"golang.org/x/text/cases"

	"github.com/agentworkforce/relaycrm/internal/crm"
)

var leadColumns = []string{
	"dynamics_id",
	"full_name",
	"first_name",
	"last_name",
	"email",
	"mobile_phone",
	"city",
	"postal_code",
	"country",
	"language",
	"lead_type",
	"quote_type",
	"quote_group",
	"lead_source",
	"rating",
	"status",
	"status_reason",
	"owner",
	"utm_campaign",
	"utm_source",
	"utm_medium",
	"utm_content",
	"gh_code",
	"campaign_type",
	"est_value",
	"existing_contact",
	"created_on",
	"modified_on",
}

// leadWriteColumns adds the derived full_name_key, which is written on every
// upsert but never scanned back.
var leadWriteColumns = append(append([]string(nil), leadColumns...), "full_name_key")

var opportunityColumns = []string{
	"dynamics_id",
	"contact_name",
	"account_name",
	"originating_lead_name",
	"type",
	"quote_type",
	"quote_group",
	"pipeline_phase",
	"status_reason",
	"rating",
	"owner",
	"branch",
	"city",
	"postal_code",
	"country",
	"language",
	"est_revenue",
	"actual_revenue",
	"probability",
	"created_on",
	"actual_close_date",
	"est_close_date",
	"last_activity_date",
	"visit_date",
	"utm_campaign",
	"gh_code",
	"campaign_type",
	"lead_id",
	"originating_lead_dynamics_id",
}

// Dates stay TEXT: unparseable upstream dates are stored as received.
func leadColumnType(d dialect, col string) string {
	switch col {
	case "dynamics_id":
		return "TEXT NOT NULL UNIQUE"
	case "est_value":
		return d.floatType
	case "existing_contact":
		return d.boolType + " NOT NULL DEFAULT " + d.boolDefault
	default:
		return "TEXT"
	}
}

func opportunityColumnType(d dialect, col string) string {
	switch col {
	case "dynamics_id":
		return "TEXT NOT NULL UNIQUE"
	case "est_revenue", "actual_revenue":
		return d.floatType
	case "lead_id":
		return d.idType
	default:
		return "TEXT"
	}
}

func leadArgs(l *crm.Lead) []any {
	return []any{
		l.DynamicsID,
		nullString(l.FullName),
		nullString(l.FirstName),
		nullString(l.LastName),
		nullString(l.Email),
		nullString(l.MobilePhone),
		nullString(l.City),
		nullString(l.PostalCode),
		nullString(l.Country),
		nullString(l.Language),
		nullString(l.LeadType),
		nullString(l.QuoteType),
		nullString(l.QuoteGroup),
		nullString(l.LeadSource),
		nullString(l.Rating),
		nullString(l.Status),
		nullString(l.StatusReason),
		nullString(l.Owner),
		nullString(l.UTMCampaign),
		nullString(l.UTMSource),
		nullString(l.UTMMedium),
		nullString(l.UTMContent),
		nullString(l.GHCode),
		nullString(l.CampaignType),
		nullFloat(l.EstValue),
		l.ExistingContact,
		nullString(l.CreatedOn),
		nullString(l.ModifiedOn),
		nameKey(l.FullName),
	}
}

// leadScanDest lists scan targets for `id` followed by leadColumns.
func leadScanDest(l *crm.Lead) []any {
	return []any{
		&l.ID,
		&l.DynamicsID,
		&l.FullName,
		&l.FirstName,
		&l.LastName,
		&l.Email,
		&l.MobilePhone,
		&l.City,
		&l.PostalCode,
		&l.Country,
		&l.Language,
		&l.LeadType,
		&l.QuoteType,
		&l.QuoteGroup,
		&l.LeadSource,
		&l.Rating,
		&l.Status,
		&l.StatusReason,
		&l.Owner,
		&l.UTMCampaign,
		&l.UTMSource,
		&l.UTMMedium,
		&l.UTMContent,
		&l.GHCode,
		&l.CampaignType,
		&l.EstValue,
		&l.ExistingContact,
		&l.CreatedOn,
		&l.ModifiedOn,
	}
}

func opportunityArgs(o *crm.Opportunity) []any {
	return []any{
		o.DynamicsID,
		nullString(o.ContactName),
		nullString(o.AccountName),
		nullString(o.OriginatingLeadName),
		nullString(o.Type),
		nullString(o.QuoteType),
		nullString(o.QuoteGroup),
		nullString(o.PipelinePhase),
		nullString(o.StatusReason),
		nullString(o.Rating),
		nullString(o.Owner),
		nullString(o.Branch),
		nullString(o.City),
		nullString(o.PostalCode),
		nullString(o.Country),
		nullString(o.Language),
		nullFloat(o.EstRevenue),
		nullFloat(o.ActualRevenue),
		nullString(o.Probability),
		nullString(o.CreatedOn),
		nullString(o.ActualCloseDate),
		nullString(o.EstCloseDate),
		nullString(o.LastActivityDate),
		nullString(o.VisitDate),
		nullString(o.UTMCampaign),
		nullString(o.GHCode),
		nullString(o.CampaignType),
		nullString(o.LeadID),
		nullString(o.OriginatingLeadDynamicsID),
	}
}

// foldName is the comparison key for name lookups. It is computed in Go so
// every backend folds non-ASCII names the same way.
func foldName(name string) string {
	return cases.Fold().String(name)
}

func nameKey(fullName *string) any {
	if fullName == nil {
		return nil
	}
	return foldName(*fullName)
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
