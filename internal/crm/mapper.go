package crm

var (
	utmCampaignLookups = []Lookup{Field("gd_utmcampaign", "msdynmkt_utmcampaign", "utmcampaign", "utm_campaign")}
	utmSourceLookups   = []Lookup{Field("gd_utmsource", "msdynmkt_utmsource", "utmsource", "utm_source")}
	utmMediumLookups   = []Lookup{Field("gd_utmmedium", "msdynmkt_utmmedium", "utmmedium", "utm_medium")}
	utmContentLookups  = []Lookup{Field("gd_utmcontent", "msdynmkt_utmcontent", "utmcontent", "utm_content")}
)

// formatted is Display(base) followed by the three-pass resolver on the
// formatted lookup key, which also catches prefixed or decorated variants.
func formatted(base string) []Lookup {
	return []Lookup{Display(base), Field("_" + base + "_value" + DisplaySuffix)}
}

// LeadMapper turns a raw lead payload into a Lead. It performs no I/O and
// does not reject records; a missing DynamicsID is left for the caller.
type LeadMapper struct {
	campaigns CampaignSource
}

func NewLeadMapper(campaigns CampaignSource) LeadMapper {
	if campaigns == nil {
		campaigns = DefaultCampaignTables()
	}
	return LeadMapper{campaigns: campaigns}
}

func (m LeadMapper) Map(src FieldSource) Lead {
	lead := Lead{
		FullName:     Text(src, Field("fullname")),
		FirstName:    Text(src, Field("firstname")),
		LastName:     Text(src, Field("lastname")),
		Email:        Text(src, Field("emailaddress1")),
		MobilePhone:  Text(src, Field("mobilephone", "telephone1")),
		City:         Text(src, Field("address1_city")),
		PostalCode:   Text(src, Field("address1_postalcode")),
		Country:      Text(src, Display("gmi_country"), Field("address1_country")),
		Language:     Text(src, Display("gd_language"), Field("language")),
		LeadType:     Text(src, Display("gd_type"), DisplayField("leadqualitycode")),
		QuoteType:    Text(src, formatted("gd_quotetype")...),
		QuoteGroup:   Text(src, formatted("gd_quotegroup")...),
		LeadSource:   Text(src, DisplayField("leadsourcecode")),
		Rating:       Text(src, DisplayField("leadqualitycode")),
		Status:       Text(src, DisplayField("statecode")),
		StatusReason: Text(src, DisplayField("statuscode")),
		Owner:        Text(src, DisplayField("ownerid")),
		UTMCampaign:  Text(src, utmCampaignLookups...),
		UTMSource:    Text(src, utmSourceLookups...),
		UTMMedium:    Text(src, utmMediumLookups...),
		UTMContent:   Text(src, utmContentLookups...),
		EstValue:     Number(src, Field("estimatedvalue")),
		CreatedOn:    Text(src, Date(Field("createdon"))),
		ModifiedOn:   Text(src, Date(Field("modifiedon"))),
	}
	if id, ok := src.Field("leadid"); ok {
		lead.DynamicsID = id
	}
	lead.ExistingContact = existingContact(src)
	lead.GHCode, lead.CampaignType = m.campaigns.Current().Attribute(lead.UTMCampaign)
	return lead
}

func existingContact(src FieldSource) bool {
	if raw, ok := src.Field("gd_existingcontact"); ok && raw == "true" {
		return true
	}
	display, _, ok := Resolve(src, Display("gd_existingcontact"))
	return ok && display == "Yes"
}

// OpportunityMapper turns a raw opportunity payload into an Opportunity.
// LeadID and the inherited campaign attribution are filled in later by the
// Reconciler.
type OpportunityMapper struct {
	campaigns CampaignSource
}

func NewOpportunityMapper(campaigns CampaignSource) OpportunityMapper {
	if campaigns == nil {
		campaigns = DefaultCampaignTables()
	}
	return OpportunityMapper{campaigns: campaigns}
}

func (m OpportunityMapper) Map(src FieldSource) Opportunity {
	opp := Opportunity{
		ContactName:         Text(src, formatted("parentcontactid")...),
		AccountName:         Text(src, formatted("customerid")...),
		OriginatingLeadName: Text(src, append(formatted("originatingleadid"), Display("parentcontactid"))...),
		Type:                customerType(src),
		QuoteType:           Text(src, formatted("gd_quotetype")...),
		QuoteGroup:          Text(src, formatted("gd_quotegroup")...),
		PipelinePhase:       Text(src, Display("salesstagecode"), Field("stepname")),
		StatusReason:        Text(src, Display("statuscode")),
		Rating:              Text(src, Display("opportunityratingcode")),
		Owner:               Text(src, formatted("ownerid")...),
		Branch:              Text(src, formatted("owningbusinessunit")...),
		City:                Text(src, Field("gd_city")),
		PostalCode:          Text(src, Field("gd_zippostalcode")),
		Country:             Text(src, formatted("gmi_country")...),
		EstRevenue:          Number(src, Field("estimatedvalue")),
		ActualRevenue:       Number(src, Field("actualvalue")),
		Probability:         Text(src, Display("gmi_probabilityoption"), Field("closeprobability")),
		CreatedOn:           Text(src, Date(Field("createdon"))),
		ActualCloseDate:     Text(src, Date(Field("actualclosedate"))),
		EstCloseDate:        Text(src, Date(Field("gmi_closedate")), Date(Field("estimatedclosedate"))),
		LastActivityDate:    Text(src, Date(Field("gmi_lastactivitydate_date"))),
		VisitDate:           Text(src, Date(Field("visitdate", "mscrm_visitdate"))),
		UTMCampaign:         Text(src, utmCampaignLookups...),
	}
	if id, ok := src.Field("opportunityid"); ok {
		opp.DynamicsID = id
	}
	opp.GHCode, opp.CampaignType = m.campaigns.Current().Attribute(opp.UTMCampaign)
	return opp
}

// customerType translates the boolean gd_type flag. Values other than the
// four known spellings pass through unchanged.
func customerType(src FieldSource) *string {
	raw := Text(src, Display("gd_type"))
	if raw == nil {
		return nil
	}
	switch *raw {
	case "true", "Yes":
		return stringPtr("Existing")
	case "false", "No":
		return stringPtr("New")
	default:
		return raw
	}
}
