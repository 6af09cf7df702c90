package bot

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	errs "github.com/chatmux/chatmux/internal/errors"
)

// DefaultStreamTimeout bounds one upstream streaming call.
const DefaultStreamTimeout = 360 * time.Second

// Ask posts a single user message. conversationID and parentID must be
// set together or not at all; with neither, a fresh parent id starts a
// new thread.
func (s *Session) Ask(ctx context.Context, prompt, conversationID, parentID, model string, autoContinue, historyDisabled bool, timeout time.Duration) ([]Event, error) {
	return s.PostMessages(ctx, []Message{NewTextMessage("user", prompt)}, conversationID, parentID, model, autoContinue, historyDisabled, timeout)
}

// PostMessages posts a pre-built message list.
func (s *Session) PostMessages(ctx context.Context, messages []Message, conversationID, parentID, model string, autoContinue, historyDisabled bool, timeout time.Duration) ([]Event, error) {
	if (conversationID == "") != (parentID == "") {
		return nil, fmt.Errorf("conversation_id and parent_id must be set or empty together")
	}
	if parentID == "" {
		parentID = uuid.NewString()
	}
	if model == "" {
		model = DefaultModel
	}
	data := conversationRequest{
		Action:                     "next",
		Messages:                   messages,
		ConversationID:             optional(conversationID),
		ParentMessageID:            parentID,
		Model:                      model,
		HistoryAndTrainingDisabled: historyDisabled,
	}
	return s.sendRequest(ctx, data, autoContinue, timeout)
}

// ContinueWrite asks the upstream to keep generating after a max_tokens
// truncation.
func (s *Session) ContinueWrite(ctx context.Context, conversationID, parentID, model string, autoContinue, historyDisabled bool, timeout time.Duration) ([]Event, error) {
	data := conversationRequest{
		Action:                     "continue",
		ConversationID:             optional(conversationID),
		ParentMessageID:            parentID,
		Model:                      model,
		HistoryAndTrainingDisabled: historyDisabled,
	}
	return s.sendRequest(ctx, data, autoContinue, timeout)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// sendRequest drives one conversation call: models precheck, arkose for
// gpt-4 family, the streaming POST, and auto-continuation.
func (s *Session) sendRequest(ctx context.Context, data conversationRequest, autoContinue bool, timeout time.Duration) ([]Event, error) {
	if err := s.checkModel(ctx, data.Model); err != nil {
		return nil, err
	}
	if strings.HasPrefix(data.Model, "gpt-4") {
		token, err := s.ArkoseToken(ctx)
		if err != nil {
			s.logger.Error("failed to fetch arkose token", "error", err)
		} else {
			data.ArkoseToken = token
		}
	}
	if timeout <= 0 {
		timeout = DefaultStreamTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode conversation request: %w", err)
	}
	req, err := s.newRequest(ctx, http.MethodPost, "conversation", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("conversation request failed: %w", err)
	}
	defer resp.Body.Close()

	s.logger.Info("conversation request",
		"action", data.Action,
		"conversation_id", deref(data.ConversationID),
		"duration", time.Since(start))

	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	events, err := s.readStream(resp)
	if err != nil {
		return nil, err
	}

	if len(events) == 0 || !autoContinue {
		return events, nil
	}
	last := events[len(events)-1]
	if last.FinishDetails != "max_tokens" {
		return events, nil
	}

	// The upstream truncated mid-response. Continue on the same thread and
	// prepend the text already received so callers still see one logical
	// response.
	prefix := strings.TrimRight(last.Message, "\n")
	continued, err := s.ContinueWrite(ctx, last.ConversationID, last.ParentID, last.Model, true, data.HistoryAndTrainingDisabled, timeout)
	if err != nil {
		return nil, err
	}
	for i := range continued {
		continued[i].Message = prefix + continued[i].Message
	}
	return append(events, continued...), nil
}

// readStream parses the line-oriented event stream. Junk lines are logged
// and skipped; only assistant messages produce events.
func (s *Session) readStream(resp *http.Response) ([]Event, error) {
	var events []Event

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.EqualFold(line, "internal server error") {
			s.logger.Error("upstream internal server error")
			return nil, errs.NewBotError(errs.KindInternalServerError, "internal_server_error")
		}
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "data: ")
		if line == "[DONE]" {
			break
		}

		var parsed streamLine
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			s.logger.Warn("failed to decode stream line", "error", err)
			continue
		}
		if parsed.Message == nil || parsed.Message.Content == nil {
			continue
		}
		if parsed.Message.Author.Role != "assistant" {
			continue
		}

		msg := ""
		if len(parsed.Message.Content.Parts) > 0 {
			msg = parsed.Message.Content.Parts[0]
		}
		finish := ""
		if parsed.Message.Metadata.FinishDetails != nil {
			finish = parsed.Message.Metadata.FinishDetails.Type
		}
		endTurn := true
		if parsed.Message.EndTurn != nil {
			endTurn = *parsed.Message.EndTurn
		}
		recipient := parsed.Message.Recipient
		if recipient == "" {
			recipient = "all"
		}

		events = append(events, Event{
			Author:         parsed.Message.Author,
			Message:        msg,
			ConversationID: parsed.ConversationID,
			ParentID:       parsed.Message.ID,
			Model:          parsed.Message.Metadata.ModelSlug,
			FinishDetails:  finish,
			EndTurn:        endTurn,
			Recipient:      recipient,
			Citations:      parsed.Message.Metadata.Citations,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}
	return events, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
