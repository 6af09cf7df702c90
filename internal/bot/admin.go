package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Admin surface of the upstream conversation API. None of these are on
// the serving hot path.

// ConversationSummary is one item of the conversation listing.
type ConversationSummary struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	CreateTime string `json:"create_time"`
	UpdateTime string `json:"update_time"`
}

func (s *Session) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := s.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// GetConversations lists this account's threads.
func (s *Session) GetConversations(ctx context.Context, offset, limit int) ([]ConversationSummary, error) {
	var payload struct {
		Items []ConversationSummary `json:"items"`
	}
	path := fmt.Sprintf("conversations?offset=%d&limit=%d", offset, limit)
	if err := s.doJSON(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Items, nil
}

// GetMessageHistory fetches the full message tree of one thread.
func (s *Session) GetMessageHistory(ctx context.Context, conversationID string) (map[string]any, error) {
	var payload map[string]any
	if err := s.doJSON(ctx, http.MethodGet, "conversation/"+conversationID, nil, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// ShareConversation creates a share link and publishes it.
func (s *Session) ShareConversation(ctx context.Context, conversationID, nodeID, title string, anonymous bool) (string, error) {
	var created struct {
		ShareURL string `json:"share_url"`
		ShareID  string `json:"share_id"`
		Title    string `json:"title"`
	}
	err := s.doJSON(ctx, http.MethodPost, "share/create", map[string]any{
		"conversation_id": conversationID,
		"current_node_id": nodeID,
		"is_anonymous":    anonymous,
	}, &created)
	if err != nil {
		return "", err
	}

	if title == "" {
		title = created.Title
		if title == "" {
			title = "New chat"
		}
	}
	err = s.doJSON(ctx, http.MethodPatch, "share/"+created.ShareID, map[string]any{
		"share_id":               created.ShareID,
		"highlighted_message_id": nodeID,
		"title":                  title,
		"is_public":              true,
		"is_visible":             true,
		"is_anonymous":           true,
	}, nil)
	if err != nil {
		return "", err
	}
	return created.ShareURL, nil
}

// GenTitle asks the upstream to title a thread from one of its messages.
func (s *Session) GenTitle(ctx context.Context, conversationID, messageID string) (string, error) {
	var payload struct {
		Title string `json:"title"`
	}
	err := s.doJSON(ctx, http.MethodPost, "conversation/gen_title/"+conversationID, map[string]string{
		"message_id": messageID,
		"model":      "text-davinci-002-render",
	}, &payload)
	if err != nil {
		return "", err
	}
	return payload.Title, nil
}

// ChangeTitle renames a thread.
func (s *Session) ChangeTitle(ctx context.Context, conversationID, title string) error {
	return s.doJSON(ctx, http.MethodPatch, "conversation/"+conversationID, map[string]string{"title": title}, nil)
}

// DeleteConversation hides a thread. The upstream has no hard delete.
func (s *Session) DeleteConversation(ctx context.Context, conversationID string) error {
	return s.doJSON(ctx, http.MethodPatch, "conversation/"+conversationID, map[string]bool{"is_visible": false}, nil)
}

// ClearConversations hides every thread on the account.
func (s *Session) ClearConversations(ctx context.Context) error {
	return s.doJSON(ctx, http.MethodPatch, "conversations", map[string]bool{"is_visible": false}, nil)
}

// GetPlugins lists available plugins.
func (s *Session) GetPlugins(ctx context.Context, offset, limit int, status string) (map[string]any, error) {
	var payload map[string]any
	path := fmt.Sprintf("aip/p?offset=%d&limit=%d&statuses=%s", offset, limit, status)
	if err := s.doJSON(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// InstallPlugin enables a plugin for this account.
func (s *Session) InstallPlugin(ctx context.Context, pluginID string) error {
	return s.doJSON(ctx, http.MethodPatch, "aip/p/"+pluginID+"/user-settings", map[string]bool{"is_installed": true}, nil)
}

// GetUnverifiedPlugin looks a plugin up by domain, optionally installing it.
func (s *Session) GetUnverifiedPlugin(ctx context.Context, domain string, install bool) (map[string]any, error) {
	var payload map[string]any
	if err := s.doJSON(ctx, http.MethodGet, "aip/p/domain?domain="+strings.TrimSpace(domain), nil, &payload); err != nil {
		return nil, err
	}
	if install {
		id, _ := payload["id"].(string)
		if id != "" {
			if err := s.InstallPlugin(ctx, id); err != nil {
				return nil, err
			}
		}
	}
	return payload, nil
}
