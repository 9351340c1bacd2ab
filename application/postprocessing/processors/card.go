package processors

import (
	"context"

	"go.uber.org/zap"

	"real-backend/application/ports"
	"real-backend/application/postprocessing"
	"real-backend/domain/keys"
	"real-backend/domain/stream"
)

// CardProcessor maintains the owner's card count and notifies the owner.
type CardProcessor struct {
	base
	realtime ports.Realtime
}

// NewCardProcessor creates the card processor
func NewCardProcessor(deps Deps, realtime ports.Realtime) *CardProcessor {
	return &CardProcessor{base: newBase(deps), realtime: realtime}
}

func (p *CardProcessor) Name() string { return "card" }

func (p *CardProcessor) Routes() []postprocessing.Route {
	return []postprocessing.Route{{Kind: keys.KindCard, Facet: keys.FacetPrimary}}
}

func (p *CardProcessor) Run(ctx context.Context, rec stream.Record) error {
	image := rec.Image()
	userID := ownerID(image, attrUserID)
	if userID == "" {
		p.log(ctx).Warn("Card without owner", zap.String("card", rec.Address.ID))
		return nil
	}
	owner := keys.UserProfile(userID)

	var (
		errs errorSet
		kind string
	)
	switch rec.Transition {
	case stream.ADD:
		_, err := p.table.ApplyOnce(ctx, rec.Address, rec.Mark(), ports.Increment(owner, countCard))
		errs.add(err)
		kind = notificationAdded
	case stream.EDIT:
		kind = notificationEdited
	case stream.DELETE:
		if rec.CausedByRemovalOf(owner.Kind, owner.ID) {
			return nil
		}
		errs.add(p.decrementSoft(ctx, owner, countCard))
		kind = notificationDeleted
	}

	if p.cfg.EnableRealtime {
		errs.add(p.realtime.Send(ctx, QueryTriggerCardNotification, notificationInput(map[string]any{
			"userId": userID,
			"type":   kind,
			"cardId": rec.Address.ID,
			"title":  image.String(attrTitle),
			"action": image.String(attrAction),
		})))
	}
	return errs.err
}

// OnCascade returns the cards of a removed user.
func (p *CardProcessor) OnCascade(ctx context.Context, owner keys.Address) ([]stream.Item, error) {
	if owner.Kind != keys.KindUser {
		return nil, nil
	}
	return p.table.QueryIndex(ctx, keys.IndexOwner, keys.OwnerValue(keys.KindCard, owner.ID))
}
