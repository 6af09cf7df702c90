package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ChatInfo is the resolved conversation anchor for one end user. All
// fields are empty when the user is unknown or has no active thread.
type ChatInfo struct {
	Email          string
	ConversationID string
	ParentID       string
}

// GetChatInfo resolves the anchor for openid: which account owns the
// user's thread, the thread id, and the parent message id for the next
// turn.
func (s *Store) GetChatInfo(ctx context.Context, openid string) (ChatInfo, error) {
	var info ChatInfo

	var user User
	err := s.db.WithContext(ctx).Where("openid = ?", openid).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return info, nil
	}
	if err != nil {
		return info, fmt.Errorf("failed to look up user %s: %w", openid, err)
	}
	if user.ConversationID == "" {
		return info, nil
	}

	var convo Conversation
	err = s.db.WithContext(ctx).Where("conversation_id = ?", user.ConversationID).First(&convo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return info, nil
	}
	if err != nil {
		return info, fmt.Errorf("failed to look up conversation %s: %w", user.ConversationID, err)
	}

	info.Email = convo.OwnerEmail
	info.ConversationID = convo.ConversationID
	info.ParentID = convo.CurrentNode
	return info, nil
}

// RecordTurn persists the anchor after a successful turn, in one
// transaction: the user row exists and points at conversationID, the
// conversation row carries current_node=parentID, and the assistant
// message is recorded.
func (s *Store) RecordTurn(ctx context.Context, openid, email, conversationID, parentID, authorJSON string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user User
		err := tx.Where("openid = ?", openid).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			user = User{OpenID: openid, ConversationID: conversationID}
			if err := tx.Create(&user).Error; err != nil {
				return fmt.Errorf("failed to create user %s: %w", openid, err)
			}
		} else if err != nil {
			return fmt.Errorf("failed to look up user %s: %w", openid, err)
		}

		var convo Conversation
		err = tx.Where("conversation_id = ?", conversationID).First(&convo).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			convo = Conversation{
				ConversationID: conversationID,
				CurrentNode:    parentID,
				OwnerEmail:     email,
				UserID:         user.ID,
				IsActive:       true,
				Status:         ConversationStatusActive,
			}
			if err := tx.Create(&convo).Error; err != nil {
				return fmt.Errorf("failed to create conversation %s: %w", conversationID, err)
			}
		case err != nil:
			return fmt.Errorf("failed to look up conversation %s: %w", conversationID, err)
		default:
			convo.CurrentNode = parentID
			convo.Status = ConversationStatusActive
			if err := tx.Save(&convo).Error; err != nil {
				return fmt.Errorf("failed to update conversation %s: %w", conversationID, err)
			}
		}

		if user.ConversationID != conversationID {
			if err := tx.Model(&User{}).Where("id = ?", user.ID).
				Update("conversation_id", conversationID).Error; err != nil {
				return fmt.Errorf("failed to repoint user %s: %w", openid, err)
			}
		}

		if parentID != "" {
			msg := Message{MessageID: parentID, Author: authorJSON, ConversationID: conversationID}
			if err := tx.Where("message_id = ?", parentID).FirstOrCreate(&msg).Error; err != nil {
				return fmt.Errorf("failed to record message %s: %w", parentID, err)
			}
		}
		return nil
	})
}

// NewConversation clears the anchor so the user's next turn starts a fresh
// thread. Unknown openids are a no-op.
func (s *Store) NewConversation(ctx context.Context, openid string) error {
	err := s.db.WithContext(ctx).Model(&User{}).Where("openid = ?", openid).
		Update("conversation_id", "").Error
	if err != nil {
		return fmt.Errorf("failed to clear conversation for %s: %w", openid, err)
	}
	return nil
}

// MarkConversationLost flags a thread the upstream no longer knows about.
func (s *Store) MarkConversationLost(ctx context.Context, conversationID string) error {
	err := s.db.WithContext(ctx).Model(&Conversation{}).
		Where("conversation_id = ?", conversationID).
		Update("status", ConversationStatusLost).Error
	if err != nil {
		return fmt.Errorf("failed to mark conversation %s lost: %w", conversationID, err)
	}
	return nil
}
