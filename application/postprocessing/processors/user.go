package processors

import (
	"context"

	"go.uber.org/zap"

	"real-backend/application/ports"
	"real-backend/application/postprocessing"
	"real-backend/domain/keys"
	"real-backend/domain/moderation"
	"real-backend/domain/stream"
)

// UserProcessor keeps the search index, push endpoints and analytics in step
// with user profiles, counts flags against users and removes a deleted
// user's records.
type UserProcessor struct {
	base
	search    ports.SearchIndex
	push      ports.PushNotifications
	analytics ports.Analytics
}

// NewUserProcessor creates the user processor
func NewUserProcessor(
	deps Deps,
	search ports.SearchIndex,
	push ports.PushNotifications,
	analytics ports.Analytics,
) *UserProcessor {
	return &UserProcessor{
		base:      newBase(deps),
		search:    search,
		push:      push,
		analytics: analytics,
	}
}

func (p *UserProcessor) Name() string { return "user" }

func (p *UserProcessor) Routes() []postprocessing.Route {
	return []postprocessing.Route{
		{Kind: keys.KindUser, Facet: keys.FacetProfile},
		{Kind: keys.KindUser, Facet: keys.FacetFlag},
	}
}

func (p *UserProcessor) Run(ctx context.Context, rec stream.Record) error {
	if rec.Address.Facet == keys.FacetFlag {
		_, _, err := flagCounter{p.base}.flagged(ctx, rec)
		return err
	}

	userID := rec.Address.ID
	transition := rec.Transition
	if transition == stream.EDIT && !stream.Equal(rec.Old[attrLastManuallyReindexedAt], rec.New[attrLastManuallyReindexedAt]) {
		p.log(ctx).Info("Manual reindex requested", zap.String("userID", userID))
		transition = stream.ADD
	}

	if rec.Old.String(attrUsername) != rec.New.String(attrUsername) {
		p.forgetUsername(ctx, userID)
	}

	var errs errorSet
	switch transition {
	case stream.ADD, stream.EDIT:
		errs.add(p.syncSearch(ctx, userID, transition, rec))
		errs.add(p.syncEndpoints(ctx, userID, rec.Old, rec.New))
		if p.cfg.EnableAnalytics {
			errs.add(p.analytics.SendEvent(ctx, userID, rec.New, rec.Old))
		}
	case stream.DELETE:
		if p.cfg.EnableSearchSync {
			errs.add(p.search.DeleteUser(ctx, userID))
		}
		if p.cfg.EnablePushSync {
			errs.add(p.push.DeleteUserEndpoints(ctx, userID))
		}
		errs.add(p.cascade.RemoveChildren(ctx, rec.Address))
	}
	return errs.err
}

func (p *UserProcessor) forgetUsername(ctx context.Context, userID string) {
	if p.usernames == nil {
		return
	}
	if err := p.usernames.Delete(ctx, "username:"+userID); err != nil {
		p.log(ctx).Debug("Failed to drop cached username", zap.Error(err))
	}
}

func (p *UserProcessor) syncSearch(ctx context.Context, userID string, transition stream.Transition, rec stream.Record) error {
	if !p.cfg.EnableSearchSync {
		return nil
	}
	if transition == stream.ADD {
		return p.search.AddUser(ctx, userID, rec.New)
	}
	return p.search.UpdateUser(ctx, userID, rec.Old, rec.New)
}

var endpointChannels = []struct {
	attr    string
	channel ports.Channel
}{
	{attr: attrEmail, channel: ports.ChannelEmail},
	{attr: attrPhoneNumber, channel: ports.ChannelSMS},
}

func (p *UserProcessor) syncEndpoints(ctx context.Context, userID string, old, new stream.Item) error {
	if !p.cfg.EnablePushSync {
		return nil
	}

	var errs errorSet
	for _, ch := range endpointChannels {
		oldAddress, newAddress := old.String(ch.attr), new.String(ch.attr)
		switch {
		case newAddress == oldAddress:
		case newAddress != "":
			errs.add(p.push.UpdateUserEndpoint(ctx, userID, ch.channel, newAddress))
		default:
			errs.add(p.push.DeleteUserEndpoint(ctx, userID, ch.channel))
		}
	}

	action := moderation.EndpointActionFor(
		moderation.UserStatus(old.String(attrUserStatus)),
		moderation.UserStatus(new.String(attrUserStatus)),
	)
	switch action {
	case moderation.EndpointsEnable:
		errs.add(p.push.EnableUserEndpoints(ctx, userID))
	case moderation.EndpointsDisable:
		errs.add(p.push.DisableUserEndpoints(ctx, userID))
	}
	return errs.err
}

// OnCascade returns the flags a removed user authored on other entities.
func (p *UserProcessor) OnCascade(ctx context.Context, owner keys.Address) ([]stream.Item, error) {
	if owner.Kind != keys.KindUser {
		return nil, nil
	}
	return p.table.QueryIndex(ctx, keys.IndexActor, keys.ActorValue(keys.FacetFlag, owner.ID))
}
