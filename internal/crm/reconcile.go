package crm

import (
	"context"
	"errors"
	"strings"
)

// LeadFinder is the read side of the store used during reconciliation.
type LeadFinder interface {
	// FindLeadByDynamicsID returns ErrNotFound when no lead has the id.
	FindLeadByDynamicsID(ctx context.Context, dynamicsID string) (Lead, error)
	// FindLeadsByFullName matches case-insensitively, oldest lead first.
	FindLeadsByFullName(ctx context.Context, fullName string) ([]Lead, error)
}

// ReconcileStrategy is one named step of the lead lookup chain. Find reports
// the reference it used (empty when the payload had none) and the lead it
// found, if any.
type ReconcileStrategy struct {
	Name string
	Find func(ctx context.Context, leads LeadFinder, opp *Opportunity, src FieldSource) (ref string, lead *Lead, err error)
}

// LeadMatch describes the outcome of Reconcile.
type LeadMatch struct {
	Strategy string
	Lead     *Lead
}

// DefaultReconcileStrategies is the lookup chain applied to opportunities:
// the originating lead reference, then the parent contact used as a lead id,
// then the originating lead's display name.
func DefaultReconcileStrategies() []ReconcileStrategy {
	return []ReconcileStrategy{
		referenceStrategy("originating_lead", "_originatingleadid_value", "originatingleadid"),
		referenceStrategy("parent_contact", "_parentcontactid_value"),
		{Name: "lead_name", Find: findByLeadName},
	}
}

func referenceStrategy(name string, keys ...string) ReconcileStrategy {
	return ReconcileStrategy{
		Name: name,
		Find: func(ctx context.Context, leads LeadFinder, _ *Opportunity, src FieldSource) (string, *Lead, error) {
			ref, ok := src.Exact(keys...)
			if !ok {
				return "", nil, nil
			}
			lead, err := leads.FindLeadByDynamicsID(ctx, ref)
			if errors.Is(err, ErrNotFound) {
				return ref, nil, nil
			}
			if err != nil {
				return ref, nil, err
			}
			return ref, &lead, nil
		},
	}
}

func findByLeadName(ctx context.Context, leads LeadFinder, opp *Opportunity, _ FieldSource) (string, *Lead, error) {
	if opp.OriginatingLeadName == nil || strings.TrimSpace(*opp.OriginatingLeadName) == "" {
		return "", nil, nil
	}
	matches, err := leads.FindLeadsByFullName(ctx, *opp.OriginatingLeadName)
	if err != nil || len(matches) == 0 {
		return "", nil, err
	}
	return "", &matches[0], nil
}

// Reconciler links an opportunity to a previously ingested lead.
type Reconciler struct {
	leads      LeadFinder
	strategies []ReconcileStrategy
}

func NewReconciler(leads LeadFinder, strategies ...ReconcileStrategy) *Reconciler {
	if len(strategies) == 0 {
		strategies = DefaultReconcileStrategies()
	}
	return &Reconciler{leads: leads, strategies: strategies}
}

// Reconcile runs the strategies in order and stops at the first match. On a
// match the opportunity takes the lead's id and, when the lead has a GH code,
// its campaign attribution. The first lead reference seen in the payload is
// stored verbatim whether or not it resolved.
func (r *Reconciler) Reconcile(ctx context.Context, opp *Opportunity, src FieldSource) (LeadMatch, error) {
	for _, strategy := range r.strategies {
		ref, lead, err := strategy.Find(ctx, r.leads, opp, src)
		if ref != "" && opp.OriginatingLeadDynamicsID == nil {
			opp.OriginatingLeadDynamicsID = stringPtr(ref)
		}
		if err != nil {
			return LeadMatch{Strategy: strategy.Name}, err
		}
		if lead == nil {
			continue
		}
		if lead.ID != "" {
			opp.LeadID = stringPtr(lead.ID)
		}
		if lead.GHCode != nil {
			opp.GHCode = lead.GHCode
			opp.CampaignType = lead.CampaignType
		}
		return LeadMatch{Strategy: strategy.Name, Lead: lead}, nil
	}
	return LeadMatch{}, nil
}
