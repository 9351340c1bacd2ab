package processors

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"real-backend/application/ports"
	"real-backend/application/postprocessing"
	"real-backend/domain/keys"
	"real-backend/domain/moderation"
	"real-backend/domain/stream"
	apperrors "real-backend/pkg/errors"
)

// PostProcessor maintains post counters, the author's post counts and the
// crowdsourced forced archive.
type PostProcessor struct {
	base
}

// NewPostProcessor creates the post processor
func NewPostProcessor(deps Deps) *PostProcessor {
	return &PostProcessor{base: newBase(deps)}
}

func (p *PostProcessor) Name() string { return "post" }

func (p *PostProcessor) Routes() []postprocessing.Route {
	return []postprocessing.Route{
		{Kind: keys.KindPost, Facet: keys.FacetPrimary},
		{Kind: keys.KindPost, Facet: keys.FacetFlag},
		{Kind: keys.KindPost, Facet: keys.FacetView},
	}
}

func (p *PostProcessor) Run(ctx context.Context, rec stream.Record) error {
	switch rec.Address.Facet {
	case keys.FacetFlag:
		return p.onFlag(ctx, rec)
	case keys.FacetView:
		return p.onView(ctx, rec)
	}
	return p.onPost(ctx, rec)
}

// statusCounter is the author counter a post contributes to in a status.
func statusCounter(status moderation.PostStatus) string {
	switch status {
	case moderation.PostCompleted:
		return countPost
	case moderation.PostArchived:
		return countPostArchived
	}
	return ""
}

func (p *PostProcessor) onPost(ctx context.Context, rec stream.Record) error {
	var errs errorSet

	authorID := ownerID(rec.Image(), attrPostedByUserID)
	if authorID != "" && !rec.CausedByRemovalOf(keys.KindUser, authorID) {
		oldCounter := statusCounter(moderation.PostStatus(rec.Old.String(attrPostStatus)))
		newCounter := statusCounter(moderation.PostStatus(rec.New.String(attrPostStatus)))
		if oldCounter != newCounter {
			errs.add(p.moveAuthorCount(ctx, rec, keys.UserProfile(authorID), oldCounter, newCounter))
		}
	}

	if rec.Transition == stream.DELETE {
		errs.add(p.cascade.RemoveChildren(ctx, rec.Address))
	}
	return errs.err
}

// moveAuthorCount moves the post between the author's status counters. A
// removed post has no record left to mark, so its decrement is applied
// directly.
func (p *PostProcessor) moveAuthorCount(ctx context.Context, rec stream.Record, author keys.Address, oldCounter, newCounter string) error {
	if rec.Transition == stream.DELETE {
		return p.decrementSoft(ctx, author, oldCounter)
	}
	var changes []ports.CounterChange
	if oldCounter != "" {
		changes = append(changes, ports.Decrement(author, oldCounter))
	}
	if newCounter != "" {
		changes = append(changes, ports.Increment(author, newCounter))
	}
	_, err := p.table.ApplyOnce(ctx, rec.Address, rec.Mark(), changes...)
	return err
}

func (p *PostProcessor) onFlag(ctx context.Context, rec stream.Record) error {
	post, admin, err := flagCounter{p.base}.flagged(ctx, rec)
	if err != nil || rec.Transition != stream.ADD {
		return err
	}

	flags, views := post.Int(countFlag), post.Int(countViewedBy)
	if !admin && !p.policy.PostForcedArchive(flags, views) {
		return nil
	}
	return p.forceArchive(ctx, post, admin)
}

// forceArchive moves a COMPLETED post to ARCHIVED and cascades the edit.
func (p *PostProcessor) forceArchive(ctx context.Context, post stream.Item, admin bool) error {
	addr, err := post.Address()
	if err != nil {
		return err
	}
	status := moderation.PostStatus(post.String(attrPostStatus))
	if !status.CanForceArchive() {
		p.log(ctx).Debug("Post not archivable", zap.String("postStatus", string(status)))
		return nil
	}

	old, updated, err := p.table.TransitionStatus(ctx, addr, attrPostStatus,
		string(moderation.PostCompleted), string(moderation.PostArchived), p.cascade.Token())
	if errors.Is(err, apperrors.ErrConditionFailed) {
		p.log(ctx).Info("Post status changed before forced archive", zap.String("post", addr.ID))
		return nil
	}
	if err != nil {
		return err
	}

	p.log(ctx).Info("Post force archived",
		zap.String("post", addr.ID),
		zap.Int64("flagCount", updated.Int(countFlag)),
		zap.Int64("viewedByCount", updated.Int(countViewedBy)),
		zap.Bool("adminFlag", admin),
	)
	return p.cascade.Edit(ctx, old, updated)
}

func (p *PostProcessor) onView(ctx context.Context, rec stream.Record) error {
	postAddr := rec.Address.Parent()
	viewerID := rec.Address.FacetID

	if rec.Transition == stream.DELETE && rec.CausedByRemovalOf(postAddr.Kind, postAddr.ID) {
		return nil
	}
	if rec.Transition != stream.ADD && rec.Transition != stream.DELETE {
		return nil
	}

	post, err := p.table.GetItem(ctx, postAddr)
	if err != nil {
		return err
	}
	if post.String(attrPostedByUserID) == viewerID {
		return nil
	}

	if rec.Transition == stream.DELETE {
		return p.decrementSoft(ctx, postAddr, countViewedBy)
	}

	_, err = p.table.ApplyOnce(ctx, rec.Address, rec.Mark(),
		ports.Increment(postAddr, countViewedBy),
		ports.Decrement(postAddr, countCommentsUnviewed),
	)
	return err
}
