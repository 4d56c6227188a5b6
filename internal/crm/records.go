package crm

import "time"

type EntityKind string

const (
	EntityLead        EntityKind = "lead"
	EntityOpportunity EntityKind = "opportunity"
)

func ParseEntityKind(raw string) (EntityKind, bool) {
	switch EntityKind(raw) {
	case EntityLead:
		return EntityLead, true
	case EntityOpportunity:
		return EntityOpportunity, true
	default:
		return "", false
	}
}

// Lead is the canonical form of a CRM lead. Every ingestion replaces the
// whole row for its DynamicsID.
type Lead struct {
	ID              string   `json:"id,omitempty"`
	DynamicsID      string   `json:"dynamics_id"`
	FullName        *string  `json:"full_name"`
	FirstName       *string  `json:"first_name"`
	LastName        *string  `json:"last_name"`
	Email           *string  `json:"email"`
	MobilePhone     *string  `json:"mobile_phone"`
	City            *string  `json:"city"`
	PostalCode      *string  `json:"postal_code"`
	Country         *string  `json:"country"`
	Language        *string  `json:"language"`
	LeadType        *string  `json:"lead_type"`
	QuoteType       *string  `json:"quote_type"`
	QuoteGroup      *string  `json:"quote_group"`
	LeadSource      *string  `json:"lead_source"`
	Rating          *string  `json:"rating"`
	Status          *string  `json:"status"`
	StatusReason    *string  `json:"status_reason"`
	Owner           *string  `json:"owner"`
	UTMCampaign     *string  `json:"utm_campaign"`
	UTMSource       *string  `json:"utm_source"`
	UTMMedium       *string  `json:"utm_medium"`
	UTMContent      *string  `json:"utm_content"`
	GHCode          *string  `json:"gh_code"`
	CampaignType    *string  `json:"campaign_type"`
	EstValue        *float64 `json:"est_value"`
	ExistingContact bool     `json:"existing_contact"`
	CreatedOn       *string  `json:"created_on"`
	ModifiedOn      *string  `json:"modified_on"`
}

// Opportunity is the canonical form of a CRM opportunity. LeadID points at
// Lead.ID when reconciliation found the originating lead.
type Opportunity struct {
	ID                  string   `json:"id,omitempty"`
	DynamicsID          string   `json:"dynamics_id"`
	ContactName         *string  `json:"contact_name"`
	AccountName         *string  `json:"account_name"`
	OriginatingLeadName *string  `json:"originating_lead_name"`
	Type                *string  `json:"type"`
	QuoteType           *string  `json:"quote_type"`
	QuoteGroup          *string  `json:"quote_group"`
	PipelinePhase       *string  `json:"pipeline_phase"`
	StatusReason        *string  `json:"status_reason"`
	Rating              *string  `json:"rating"`
	Owner               *string  `json:"owner"`
	Branch              *string  `json:"branch"`
	City                *string  `json:"city"`
	PostalCode          *string  `json:"postal_code"`
	Country             *string  `json:"country"`
	Language            *string  `json:"language"`
	EstRevenue          *float64 `json:"est_revenue"`
	ActualRevenue       *float64 `json:"actual_revenue"`
	Probability         *string  `json:"probability"`
	CreatedOn           *string  `json:"created_on"`
	ActualCloseDate     *string  `json:"actual_close_date"`
	EstCloseDate        *string  `json:"est_close_date"`
	LastActivityDate    *string  `json:"last_activity_date"`
	VisitDate           *string  `json:"visit_date"`
	UTMCampaign         *string  `json:"utm_campaign"`
	GHCode              *string  `json:"gh_code"`
	CampaignType        *string  `json:"campaign_type"`
	LeadID              *string  `json:"lead_id"`
	// OriginatingLeadDynamicsID is the lead reference exactly as the CRM sent
	// it, kept even when no stored lead matched.
	OriginatingLeadDynamicsID *string `json:"originating_lead_dynamics_id"`
}

type SyncStatus string

const (
	SyncSuccess SyncStatus = "success"
	SyncError   SyncStatus = "error"
)

// SyncLogEntry is one append-only audit row written per platform per
// orchestrator run.
type SyncLogEntry struct {
	ID             string     `json:"id"`
	Platform       string     `json:"platform"`
	Status         SyncStatus `json:"status"`
	RowsSynced     int        `json:"rows_synced"`
	DateRangeStart *string    `json:"date_range_start,omitempty"`
	DateRangeEnd   *string    `json:"date_range_end,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func stringPtr(s string) *string {
	return &s
}
