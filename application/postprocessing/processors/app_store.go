package processors

import (
	"context"

	"go.uber.org/zap"

	"real-backend/application/postprocessing"
	"real-backend/domain/keys"
	"real-backend/domain/stream"
)

// AppStoreProcessor covers purchase records (receipts or subscriptions).
// They carry no counters; the processor owns them for user removal.
type AppStoreProcessor struct {
	base
	kind keys.EntityKind
}

// NewAppStoreReceiptProcessor creates the processor for app store receipts
func NewAppStoreReceiptProcessor(deps Deps) *AppStoreProcessor {
	return &AppStoreProcessor{base: newBase(deps), kind: keys.KindAppStoreReceipt}
}

// NewAppStoreSubProcessor creates the processor for app store subscriptions
func NewAppStoreSubProcessor(deps Deps) *AppStoreProcessor {
	return &AppStoreProcessor{base: newBase(deps), kind: keys.KindAppStoreSub}
}

func (p *AppStoreProcessor) Name() string { return string(p.kind) }

func (p *AppStoreProcessor) Routes() []postprocessing.Route {
	return []postprocessing.Route{{Kind: p.kind, Facet: keys.FacetPrimary}}
}

func (p *AppStoreProcessor) Run(ctx context.Context, rec stream.Record) error {
	if rec.Transition == stream.DELETE {
		p.log(ctx).Info("Purchase record removed",
			zap.String("kind", string(p.kind)),
			zap.String("id", rec.Address.ID),
			zap.String("userID", ownerID(rec.Old, attrUserID)),
			zap.Bool("cascaded", rec.Cause != nil),
		)
	}
	return nil
}

// OnCascade returns the purchase records of a removed user.
func (p *AppStoreProcessor) OnCascade(ctx context.Context, owner keys.Address) ([]stream.Item, error) {
	if owner.Kind != keys.KindUser {
		return nil, nil
	}
	return p.table.QueryIndex(ctx, keys.IndexOwner, keys.OwnerValue(p.kind, owner.ID))
}
