package pool

import (
	"context"
	"time"

	"github.com/chatmux/chatmux/internal/bot"
)

// Session is the slice of bot.Session the scheduler drives.
type Session interface {
	Email() string
	PUID() string
	Update(accessToken, puid string)
	Close()
	Ask(ctx context.Context, prompt, conversationID, parentID, model string, autoContinue, historyDisabled bool, timeout time.Duration) ([]bot.Event, error)
	PostMessages(ctx context.Context, messages []bot.Message, conversationID, parentID, model string, autoContinue, historyDisabled bool, timeout time.Duration) ([]bot.Event, error)
	ContinueWrite(ctx context.Context, conversationID, parentID, model string, autoContinue, historyDisabled bool, timeout time.Duration) ([]bot.Event, error)
}

// Op is one upstream operation the scheduler can run on a session.
type Op interface {
	run(ctx context.Context, s Session, timeout time.Duration) ([]bot.Event, error)
}

// AskOp posts a single user prompt.
type AskOp struct {
	Prompt          string
	ConversationID  string
	ParentID        string
	Model           string
	AutoContinue    bool
	HistoryDisabled bool
}

func (op AskOp) run(ctx context.Context, s Session, timeout time.Duration) ([]bot.Event, error) {
	return s.Ask(ctx, op.Prompt, op.ConversationID, op.ParentID, op.Model, op.AutoContinue, op.HistoryDisabled, timeout)
}

// PostMessagesOp posts a pre-built message list.
type PostMessagesOp struct {
	Messages        []bot.Message
	ConversationID  string
	ParentID        string
	Model           string
	AutoContinue    bool
	HistoryDisabled bool
}

func (op PostMessagesOp) run(ctx context.Context, s Session, timeout time.Duration) ([]bot.Event, error) {
	return s.PostMessages(ctx, op.Messages, op.ConversationID, op.ParentID, op.Model, op.AutoContinue, op.HistoryDisabled, timeout)
}

// ContinueWriteOp resumes a truncated response.
type ContinueWriteOp struct {
	ConversationID  string
	ParentID        string
	Model           string
	AutoContinue    bool
	HistoryDisabled bool
}

func (op ContinueWriteOp) run(ctx context.Context, s Session, timeout time.Duration) ([]bot.Event, error) {
	return s.ContinueWrite(ctx, op.ConversationID, op.ParentID, op.Model, op.AutoContinue, op.HistoryDisabled, timeout)
}
