package processors

import (
	"context"

	"real-backend/application/ports"
	"real-backend/application/postprocessing"
	"real-backend/domain/keys"
	"real-backend/domain/stream"
)

// ChatProcessor maintains chat membership counters and exposes the member
// callbacks chat messages need.
type ChatProcessor struct {
	base
}

// NewChatProcessor creates the chat processor
func NewChatProcessor(deps Deps) *ChatProcessor {
	return &ChatProcessor{base: newBase(deps)}
}

func (p *ChatProcessor) Name() string { return "chat" }

func (p *ChatProcessor) Routes() []postprocessing.Route {
	return []postprocessing.Route{
		{Kind: keys.KindChat, Facet: keys.FacetPrimary},
		{Kind: keys.KindChat, Facet: keys.FacetMember},
	}
}

func (p *ChatProcessor) Run(ctx context.Context, rec stream.Record) error {
	if rec.Address.Facet == keys.FacetMember {
		return p.onMember(ctx, rec)
	}
	if rec.Transition == stream.DELETE {
		return p.cascade.RemoveChildren(ctx, rec.Address)
	}
	return nil
}

func (p *ChatProcessor) onMember(ctx context.Context, rec stream.Record) error {
	chat := rec.Address.Parent()
	user := keys.UserProfile(rec.Address.FacetID)

	var errs errorSet
	switch rec.Transition {
	case stream.ADD:
		_, err := p.table.ApplyOnce(ctx, rec.Address, rec.Mark(),
			ports.Increment(chat, countChatUser),
			ports.Increment(user, countChat),
		)
		errs.add(err)
	case stream.DELETE:
		if !rec.CausedByRemovalOf(chat.Kind, chat.ID) {
			errs.add(p.decrementSoft(ctx, chat, countChatUser))
		}
		if !rec.CausedByRemovalOf(user.Kind, user.ID) {
			errs.add(p.decrementSoft(ctx, user, countChat))
		}
	}
	return errs.err
}

// Members lists the user ids of a chat's members.
func (p *ChatProcessor) Members(ctx context.Context, chatID string) ([]string, error) {
	items, err := p.table.QueryPartition(ctx, keys.Primary(keys.KindChat, chatID).PK())
	if err != nil {
		return nil, err
	}
	var members []string
	for _, item := range items {
		addr, err := item.Address()
		if err != nil || addr.Facet != keys.FacetMember {
			continue
		}
		members = append(members, addr.FacetID)
	}
	return members, nil
}

func memberAddress(chatID, userID string) keys.Address {
	return keys.Child(keys.KindChat, chatID, keys.FacetMember, userID)
}

// MessageAdded counts a new message on the chat and as unviewed for every
// member other than the author, once per message record. It returns those
// members.
func (p *ChatProcessor) MessageAdded(ctx context.Context, message keys.Address, mark, chatID, authorID string) ([]string, error) {
	members, err := p.Members(ctx, chatID)
	if err != nil {
		return nil, err
	}

	changes := []ports.CounterChange{ports.Increment(keys.Primary(keys.KindChat, chatID), countMessages)}
	var recipients []string
	for _, memberID := range members {
		if memberID == authorID {
			continue
		}
		recipients = append(recipients, memberID)
		changes = append(changes, ports.Increment(memberAddress(chatID, memberID), countMessagesUnviewed))
	}
	_, err = p.table.ApplyOnce(ctx, message, mark, changes...)
	return recipients, err
}

// MessageDeleted uncounts a removed message on the chat and for every member
// other than the author who had not viewed it. It returns those members.
func (p *ChatProcessor) MessageDeleted(ctx context.Context, chatID, authorID string, viewers []string) ([]string, error) {
	var errs errorSet
	errs.add(p.decrementSoft(ctx, keys.Primary(keys.KindChat, chatID), countMessages))

	members, err := p.Members(ctx, chatID)
	if err != nil {
		errs.add(err)
		return nil, errs.err
	}
	viewed := make(map[string]struct{}, len(viewers))
	for _, userID := range viewers {
		viewed[userID] = struct{}{}
	}

	var recipients []string
	for _, memberID := range members {
		if memberID == authorID {
			continue
		}
		recipients = append(recipients, memberID)
		if _, ok := viewed[memberID]; ok {
			continue
		}
		errs.add(p.decrementSoft(ctx, memberAddress(chatID, memberID), countMessagesUnviewed))
	}
	return recipients, errs.err
}

// MessageViewed clears one unviewed message for the member.
func (p *ChatProcessor) MessageViewed(ctx context.Context, chatID, userID string) error {
	return p.decrementSoft(ctx, memberAddress(chatID, userID), countMessagesUnviewed)
}

// OnCascade returns the chat memberships of a removed user.
func (p *ChatProcessor) OnCascade(ctx context.Context, owner keys.Address) ([]stream.Item, error) {
	if owner.Kind != keys.KindUser {
		return nil, nil
	}
	return p.table.QueryIndex(ctx, keys.IndexActor, keys.ActorValue(keys.FacetMember, owner.ID))
}
