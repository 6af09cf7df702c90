package translate

import (
	"encoding/json"
	"strings"
)

// Fixed identifiers of the synthesized completion object. The gateway
// does not meter tokens, so usage is always zero.
const (
	completionID    = "chatcmpl-QXlha2FBbmROaXhpZUFyZUF3ZXNvbWUK"
	completionModel = "gpt-3.5-turbo-0301"
)

// Usage mirrors the completion schema's token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChoiceMessage is the assistant message inside a choice. Content is a
// pointer so it serializes as null when a function call is present.
type ChoiceMessage struct {
	Role         string        `json:"role"`
	Content      *string       `json:"content"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

// Choice is one completion alternative. The gateway always returns one.
type Choice struct {
	Index        int           `json:"index"`
	Message      ChoiceMessage `json:"message"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

// ChatCompletion is the OpenAI-shaped response object.
type ChatCompletion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Usage   Usage    `json:"usage"`
	Choices []Choice `json:"choices"`
}

// NewChatCompletion wraps the accumulated assistant text in a completion
// object. Text that parses as a function-call envelope becomes a
// function_call choice with null content.
func NewChatCompletion(fullText, finishDetails string) ChatCompletion {
	choice := Choice{
		Index:        0,
		Message:      ChoiceMessage{Role: "assistant", Content: &fullText},
		FinishReason: finishReason(finishDetails),
	}
	if call := parseFunctionCall(fullText); call != nil {
		choice.Message.Content = nil
		choice.Message.FunctionCall = call
		choice.FinishReason = "function_call"
	}
	return ChatCompletion{
		ID:      completionID,
		Object:  "chat.completion",
		Created: 0,
		Model:   completionModel,
		Choices: []Choice{choice},
	}
}

func finishReason(finishDetails string) string {
	if finishDetails == "max_tokens" {
		return "length"
	}
	return "stop"
}

// parseFunctionCall recognizes the call envelope in the assistant output.
// Anything that is not a JSON object with a named function_call is plain
// text.
func parseFunctionCall(text string) *FunctionCall {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}
	var envelope struct {
		FunctionCall *struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"function_call"`
	}
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return nil
	}
	if envelope.FunctionCall == nil || envelope.FunctionCall.Name == "" {
		return nil
	}

	args := string(envelope.FunctionCall.Arguments)
	// Arguments may arrive as a JSON-encoded string or a bare object;
	// normalize to the string form the completion schema uses.
	var asString string
	if json.Unmarshal(envelope.FunctionCall.Arguments, &asString) == nil {
		args = asString
	}
	return &FunctionCall{Name: envelope.FunctionCall.Name, Arguments: args}
}
