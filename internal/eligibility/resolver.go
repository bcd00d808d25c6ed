// Package eligibility decides preferential-treatment claims under trade
// agreements. A denied claim is a decision, not an error: the engine
// degrades to the general rate and records why.
package eligibility

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-engine/internal/model"
)

// Store is the slice of the catalog the resolver needs.
type Store interface {
	GetTradeAgreement(ctx context.Context, code string) (*model.TradeAgreement, error)
	GetEligibility(ctx context.Context, agreementCode, htsNumber string, at time.Time) (*model.EligibilityRecord, error)
}

// Resolver evaluates preferential-treatment claims.
type Resolver struct {
	store Store
}

// NewResolver creates a Resolver backed by the given store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Check evaluates the claim in input. The returned decision is always
// non-nil on success; Eligible is false with a populated Reason when the
// claim fails any gate. Storage failures surface as errors.
func (r *Resolver) Check(ctx context.Context, input model.CalculationInput) (*model.EligibilityDecision, error) {
	decision := &model.EligibilityDecision{AgreementCode: input.AgreementCode}

	agreement, err := r.store.GetTradeAgreement(ctx, input.AgreementCode)
	if err != nil {
		var nfErr *model.NotFoundError
		if errors.As(err, &nfErr) {
			decision.Reason = fmt.Sprintf("unknown trade agreement %q", input.AgreementCode)
			return decision, nil
		}
		return nil, eris.Wrap(err, "eligibility: get agreement")
	}

	if !agreement.HasPartner(input.CountryCode) {
		decision.Reason = fmt.Sprintf("%s is not a partner country of %s", input.CountryCode, agreement.Code)
		return decision, nil
	}

	record, err := r.store.GetEligibility(ctx, agreement.Code, input.HTSNumber, input.EntryDate)
	if err != nil {
		var nfErr *model.NotFoundError
		if errors.As(err, &nfErr) {
			decision.Reason = fmt.Sprintf("%s has no eligibility record for %s on %s",
				agreement.Code, input.HTSNumber, input.EntryDate.Format("2006-01-02"))
			return decision, nil
		}
		return nil, eris.Wrap(err, "eligibility: get record")
	}

	decision.CertificateRequired = record.CertificateRequired
	if record.CertificateRequired && !input.ClaimCertificate {
		decision.Reason = fmt.Sprintf("%s requires a certificate of origin and none was claimed", agreement.Code)
		return decision, nil
	}

	decision.Eligible = true
	decision.PreferentialRate = record.PreferentialRate
	decision.RateType = record.RateType

	zap.L().Debug("eligibility: claim granted",
		zap.String("agreement", agreement.Code),
		zap.String("hts_number", input.HTSNumber),
		zap.String("preferential_rate", record.PreferentialRate),
	)
	return decision, nil
}
