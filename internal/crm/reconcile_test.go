package crm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedLead(id, dynamicsID, name string, ghCode, campaignType *string) Lead {
	return Lead{ID: id, DynamicsID: dynamicsID, FullName: stringPtr(name), GHCode: ghCode, CampaignType: campaignType}
}

func TestReconcileByOriginatingLead(t *testing.T) {
	store := newFakeStore(storedLead("uuid-1", "L1", "Ann Smith", stringPtr("GH5"), stringPtr("Type 1")))
	opp := Opportunity{DynamicsID: "O1", GHCode: stringPtr("GH30")}

	match, err := NewReconciler(store).Reconcile(context.Background(), &opp, Payload{"_originatingleadid_value": "L1"})
	require.NoError(t, err)
	assert.Equal(t, "originating_lead", match.Strategy)
	assert.Equal(t, "uuid-1", *opp.LeadID)
	assert.Equal(t, "GH5", *opp.GHCode)
	assert.Equal(t, "Type 1", *opp.CampaignType)
	assert.Equal(t, "L1", *opp.OriginatingLeadDynamicsID)
}

func TestReconcileAcceptsSecondSpelling(t *testing.T) {
	store := newFakeStore(storedLead("uuid-1", "L1", "Ann Smith", stringPtr("GH5"), nil))
	opp := Opportunity{DynamicsID: "O1"}

	match, err := NewReconciler(store).Reconcile(context.Background(), &opp, Payload{"originatingleadid": "L1"})
	require.NoError(t, err)
	assert.Equal(t, "originating_lead", match.Strategy)
	assert.Equal(t, "uuid-1", *opp.LeadID)
}

func TestReconcileFallsBackToParentContact(t *testing.T) {
	store := newFakeStore(storedLead("uuid-1", "L1", "Ann Smith", stringPtr("GH17"), nil))
	opp := Opportunity{DynamicsID: "O1"}

	match, err := NewReconciler(store).Reconcile(context.Background(), &opp, Payload{
		"opportunityid":          "O1",
		"_parentcontactid_value": "L1",
	})
	require.NoError(t, err)
	require.NotNil(t, match.Lead)
	assert.Equal(t, "parent_contact", match.Strategy)
	assert.Equal(t, "uuid-1", *opp.LeadID)
	assert.Equal(t, "GH17", *opp.GHCode)
	assert.Nil(t, opp.CampaignType)
	assert.Equal(t, "L1", *opp.OriginatingLeadDynamicsID)
}

func TestReconcileKeepsFirstUnresolvedReference(t *testing.T) {
	store := newFakeStore(storedLead("uuid-2", "L2", "Ann Smith", nil, nil))
	opp := Opportunity{DynamicsID: "O1", OriginatingLeadName: stringPtr("ann smith")}

	match, err := NewReconciler(store).Reconcile(context.Background(), &opp, Payload{
		"_originatingleadid_value": "L-missing",
		"_parentcontactid_value":   "C-missing",
	})
	require.NoError(t, err)
	assert.Equal(t, "lead_name", match.Strategy)
	assert.Equal(t, "uuid-2", *opp.LeadID)
	assert.Equal(t, "L-missing", *opp.OriginatingLeadDynamicsID)
}

func TestReconcileNameMatchTakesFirst(t *testing.T) {
	store := newFakeStore(
		storedLead("uuid-a", "LA", "Jan Peeters", stringPtr("GH9"), stringPtr("Type 1")),
		storedLead("uuid-b", "LB", "jan peeters", stringPtr("GH24"), stringPtr("Type 2")),
	)
	opp := Opportunity{DynamicsID: "O1", OriginatingLeadName: stringPtr("JAN PEETERS")}

	match, err := NewReconciler(store).Reconcile(context.Background(), &opp, Payload{})
	require.NoError(t, err)
	assert.Equal(t, "LA", match.Lead.DynamicsID)
	assert.Equal(t, "GH9", *opp.GHCode)
	assert.Nil(t, opp.OriginatingLeadDynamicsID)
}

func TestReconcileLeadWithoutCodeKeepsOwnAttribution(t *testing.T) {
	store := newFakeStore(storedLead("uuid-1", "L1", "Ann Smith", nil, nil))
	opp := Opportunity{DynamicsID: "O1", GHCode: stringPtr("GH30"), CampaignType: stringPtr("Type 2")}

	_, err := NewReconciler(store).Reconcile(context.Background(), &opp, Payload{"_originatingleadid_value": "L1"})
	require.NoError(t, err)
	assert.Equal(t, "uuid-1", *opp.LeadID)
	assert.Equal(t, "GH30", *opp.GHCode)
	assert.Equal(t, "Type 2", *opp.CampaignType)
}

func TestReconcileNoMatchLeavesLeadNull(t *testing.T) {
	store := newFakeStore()
	opp := Opportunity{DynamicsID: "O1", GHCode: stringPtr("GH30")}

	match, err := NewReconciler(store).Reconcile(context.Background(), &opp, Payload{"_parentcontactid_value": "C9"})
	require.NoError(t, err)
	assert.Nil(t, match.Lead)
	assert.Nil(t, opp.LeadID)
	assert.Equal(t, "GH30", *opp.GHCode)
	assert.Equal(t, "C9", *opp.OriginatingLeadDynamicsID)
}

func TestReconcileIgnoresDisplayValueAsIdentifier(t *testing.T) {
	store := newFakeStore(storedLead("uuid-1", "Ann Smith", "Someone Else", nil, nil))
	opp := Opportunity{DynamicsID: "O1"}

	_, err := NewReconciler(store).Reconcile(context.Background(), &opp, Payload{
		"_originatingleadid_value" + DisplaySuffix: "Ann Smith",
	})
	require.NoError(t, err)
	assert.Nil(t, opp.LeadID)
	assert.Nil(t, opp.OriginatingLeadDynamicsID)
}

func TestReconcileSurfacesStoreErrors(t *testing.T) {
	store := newFakeStore()
	store.findErr = errors.New("connection refused")
	opp := Opportunity{DynamicsID: "O1"}

	match, err := NewReconciler(store).Reconcile(context.Background(), &opp, Payload{"_originatingleadid_value": "L1"})
	require.Error(t, err)
	assert.Equal(t, "originating_lead", match.Strategy)
	assert.Equal(t, "L1", *opp.OriginatingLeadDynamicsID)
}

func TestReconcileCustomStrategyOrder(t *testing.T) {
	store := newFakeStore(
		storedLead("uuid-1", "L1", "Ann Smith", stringPtr("GH5"), nil),
		storedLead("uuid-2", "L2", "Bob", stringPtr("GH9"), nil),
	)
	strategies := DefaultReconcileStrategies()
	reversed := []ReconcileStrategy{strategies[1], strategies[0]}
	opp := Opportunity{DynamicsID: "O1"}

	match, err := NewReconciler(store, reversed...).Reconcile(context.Background(), &opp, Payload{
		"_originatingleadid_value": "L1",
		"_parentcontactid_value":   "L2",
	})
	require.NoError(t, err)
	assert.Equal(t, "parent_contact", match.Strategy)
	assert.Equal(t, "uuid-2", *opp.LeadID)
}
