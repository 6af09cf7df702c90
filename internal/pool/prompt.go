package pool

import (
	"context"
	"strings"

	"github.com/chatmux/chatmux/internal/bot"
)

// Prompt serves one end-user turn. When openid carries an anchor the turn
// is pinned to the owning account and resumed on the anchored thread; on
// success the new anchor is durably recorded before returning. A lost
// thread clears the anchor so the next turn starts fresh.
func (p *Pool) Prompt(ctx context.Context, message, model, openid string, newChat bool) (string, string, error) {
	message = strings.TrimSpace(message)

	var pinned, conversationID, parentID string
	if openid != "" {
		if newChat {
			if err := p.binder.NewConversation(ctx, openid); err != nil {
				return "", "", err
			}
		} else {
			info, err := p.binder.GetChatInfo(ctx, openid)
			if err != nil {
				return "", "", err
			}
			pinned = info.Email
			conversationID = info.ConversationID
			parentID = info.ParentID
		}
	}

	op := AskOp{
		Prompt:          message,
		ConversationID:  conversationID,
		ParentID:        parentID,
		Model:           model,
		AutoContinue:    true,
		HistoryDisabled: true,
	}
	event, reason := p.Work(ctx, op, pinned, p.workTimeout)
	if reason != "" {
		if reason == ReasonConversationNotFound && openid != "" {
			p.logger.Info("anchored thread lost upstream, clearing anchor", "openid", openid)
			if conversationID != "" {
				if err := p.binder.MarkConversationLost(ctx, conversationID); err != nil {
					p.logger.Error("failed to mark conversation lost", "error", err)
				}
			}
			if err := p.binder.NewConversation(ctx, openid); err != nil {
				p.logger.Error("failed to clear anchor", "openid", openid, "error", err)
			}
		}
		return "", reason, nil
	}
	if event == nil {
		return "", "", nil
	}

	if openid != "" {
		if err := p.binder.RecordTurn(ctx, openid, event.Email, event.ConversationID, event.ParentID, event.AuthorJSON()); err != nil {
			return "", "", err
		}
	}
	return event.Message, "", nil
}

// APIRequest serves one stateless turn from a pre-translated message
// list. No anchor, no pinning. The final event is returned so the edge
// can derive a finish reason.
func (p *Pool) APIRequest(ctx context.Context, messages []bot.Message, model string) (*bot.Event, string, error) {
	op := PostMessagesOp{
		Messages:        messages,
		Model:           model,
		AutoContinue:    true,
		HistoryDisabled: true,
	}
	event, reason := p.Work(ctx, op, "", p.workTimeout)
	if reason != "" {
		return nil, reason, nil
	}
	return event, "", nil
}
