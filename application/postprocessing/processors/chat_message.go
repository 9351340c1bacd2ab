package processors

import (
	"context"

	"go.uber.org/zap"

	"real-backend/application/ports"
	"real-backend/application/postprocessing"
	"real-backend/domain/keys"
	"real-backend/domain/stream"
)

// ChatMembers is the chat processor callback surface chat messages use.
type ChatMembers interface {
	Members(ctx context.Context, chatID string) ([]string, error)
	MessageAdded(ctx context.Context, message keys.Address, mark, chatID, authorID string) ([]string, error)
	MessageDeleted(ctx context.Context, chatID, authorID string, viewers []string) ([]string, error)
	MessageViewed(ctx context.Context, chatID, userID string) error
}

// ChatMessageProcessor notifies chat members of message changes, clears
// unviewed counts on views and force deletes flagged messages.
type ChatMessageProcessor struct {
	base
	chats    ChatMembers
	realtime ports.Realtime
}

// NewChatMessageProcessor creates the chat message processor
func NewChatMessageProcessor(deps Deps, chats ChatMembers, realtime ports.Realtime) *ChatMessageProcessor {
	return &ChatMessageProcessor{
		base:     newBase(deps),
		chats:    chats,
		realtime: realtime,
	}
}

func (p *ChatMessageProcessor) Name() string { return "chatMessage" }

func (p *ChatMessageProcessor) Routes() []postprocessing.Route {
	return []postprocessing.Route{
		{Kind: keys.KindChatMessage, Facet: keys.FacetPrimary},
		{Kind: keys.KindChatMessage, Facet: keys.FacetView},
		{Kind: keys.KindChatMessage, Facet: keys.FacetFlag},
	}
}

func (p *ChatMessageProcessor) Run(ctx context.Context, rec stream.Record) error {
	switch rec.Address.Facet {
	case keys.FacetView:
		return p.onView(ctx, rec)
	case keys.FacetFlag:
		return p.onFlag(ctx, rec)
	}
	return p.onMessage(ctx, rec)
}

func (p *ChatMessageProcessor) onMessage(ctx context.Context, rec stream.Record) error {
	image := rec.Image()
	chatID := ownerID(image, attrChatID)
	authorID := image.String(attrAuthorUserID)
	if chatID == "" {
		p.log(ctx).Warn("Chat message without chat", zap.String("message", rec.Address.ID))
		return nil
	}

	var (
		errs       errorSet
		recipients []string
		kind       string
	)
	switch rec.Transition {
	case stream.ADD:
		var err error
		recipients, err = p.chats.MessageAdded(ctx, rec.Address, rec.Mark(), chatID, authorID)
		errs.add(err)
		kind = notificationAdded
	case stream.EDIT:
		recipients = p.others(ctx, &errs, chatID, authorID)
		kind = notificationEdited
	case stream.DELETE:
		errs.add(p.cascade.RemoveChildren(ctx, rec.Address))
		if rec.CausedByRemovalOf(keys.KindChat, chatID) {
			return errs.err
		}
		viewers, err := p.viewers(ctx, rec.Address)
		if err != nil {
			errs.add(err)
			return errs.err
		}
		recipients, err = p.chats.MessageDeleted(ctx, chatID, authorID, viewers)
		errs.add(err)
		kind = notificationDeleted
	}

	if p.cfg.EnableRealtime {
		for _, userID := range recipients {
			errs.add(p.realtime.Send(ctx, QueryTriggerChatMessageNotification, notificationInput(map[string]any{
				"userId":       userID,
				"type":         kind,
				"messageId":    rec.Address.ID,
				"chatId":       chatID,
				"authorUserId": authorID,
				"text":         image.String(attrText),
			})))
		}
	}
	return errs.err
}

func (p *ChatMessageProcessor) others(ctx context.Context, errs *errorSet, chatID, authorID string) []string {
	members, err := p.chats.Members(ctx, chatID)
	if err != nil {
		errs.add(err)
		return nil
	}
	out := members[:0]
	for _, m := range members {
		if m != authorID {
			out = append(out, m)
		}
	}
	return out
}

// viewers lists the users whose view records of the message remain. Views
// removed alongside the message are still in the table when this runs.
func (p *ChatMessageProcessor) viewers(ctx context.Context, message keys.Address) ([]string, error) {
	items, err := p.table.QueryPartition(ctx, message.PK())
	if err != nil {
		return nil, err
	}
	var viewers []string
	for _, item := range items {
		addr, err := item.Address()
		if err != nil || addr.Facet != keys.FacetView {
			continue
		}
		viewers = append(viewers, addr.FacetID)
	}
	return viewers, nil
}

func (p *ChatMessageProcessor) onView(ctx context.Context, rec stream.Record) error {
	if rec.Transition != stream.ADD {
		return nil
	}
	message, err := p.table.GetItem(ctx, rec.Address.Parent())
	if err != nil {
		return err
	}
	viewerID := rec.Address.FacetID
	if message.String(attrAuthorUserID) == viewerID {
		return nil
	}
	return p.chats.MessageViewed(ctx, ownerID(message, attrChatID), viewerID)
}

func (p *ChatMessageProcessor) onFlag(ctx context.Context, rec stream.Record) error {
	message, admin, err := flagCounter{p.base}.flagged(ctx, rec)
	if err != nil || rec.Transition != stream.ADD {
		return err
	}

	flags := message.Int(countFlag)
	if !admin {
		chat, err := p.table.GetItem(ctx, keys.Primary(keys.KindChat, ownerID(message, attrChatID)))
		if err != nil {
			return err
		}
		if !p.policy.ChatMessageForcedDelete(flags, chat.Int(countChatUser)) {
			return nil
		}
	}

	p.log(ctx).Info("Chat message force deleted",
		zap.String("message", rec.Address.ID),
		zap.Int64("flagCount", flags),
		zap.Bool("adminFlag", admin),
	)
	return p.cascade.Delete(ctx, rec.Address.Parent())
}

// OnCascade returns the messages of a removed chat.
func (p *ChatMessageProcessor) OnCascade(ctx context.Context, owner keys.Address) ([]stream.Item, error) {
	if owner.Kind != keys.KindChat {
		return nil, nil
	}
	return p.table.QueryIndex(ctx, keys.IndexOwner, keys.OwnerValue(keys.KindChatMessage, owner.ID))
}
