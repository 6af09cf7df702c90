package translate

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/chatmux/chatmux/internal/bot"
)

func TestMapModel(t *testing.T) {
	cases := map[string]string{
		"gpt-3.5-turbo":          bot.DefaultModel,
		"":                       bot.DefaultModel,
		"gpt-4":                  "gpt-4",
		"gpt-4-0613":             "gpt-4",
		"gpt-4-32k":              "gpt-4",
		"gpt-4-browsing":         "gpt-4-browsing",
		"gpt-4-plugins":          "gpt-4-plugins",
		"gpt-4-mobile":           "gpt-4-mobile",
		"gpt-4-code-interpreter": "gpt-4-code-interpreter",
	}
	for in, want := range cases {
		if got := MapModel(in); got != want {
			t.Errorf("MapModel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestToUpstream_RewritesSystemRole(t *testing.T) {
	messages, model := ToUpstream(APIRequest{
		Model: "gpt-3.5-turbo",
		Messages: []APIMessage{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hi"},
		},
	})
	if model != bot.DefaultModel {
		t.Errorf("unexpected model %q", model)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Author.Role != "critic" {
		t.Errorf("system role should become critic, got %q", messages[0].Author.Role)
	}
	if messages[1].Author.Role != "user" || messages[1].Content.Parts[0] != "hi" {
		t.Errorf("user message altered: %+v", messages[1])
	}
	if messages[0].ID == messages[1].ID {
		t.Error("messages must carry distinct ids")
	}
}

func TestToUpstream_FunctionsGetPreamble(t *testing.T) {
	messages, _ := ToUpstream(APIRequest{
		Model:    "gpt-3.5-turbo",
		Messages: []APIMessage{{Role: "user", Content: "weather?"}},
		Functions: []FunctionDef{
			{Name: "get_weather", Description: "Current weather", Parameters: json.RawMessage(`{"type":"object"}`)},
		},
	})
	if len(messages) != 2 {
		t.Fatalf("expected preamble + user message, got %d", len(messages))
	}
	if messages[0].Author.Role != "critic" {
		t.Errorf("preamble role should be critic, got %q", messages[0].Author.Role)
	}
	if !strings.Contains(messages[0].Content.Parts[0], "get_weather") {
		t.Error("preamble should name the declared function")
	}
}

func TestRoundTrip_PreservesAssistantText(t *testing.T) {
	text := "The mitochondria is the powerhouse of the cell."
	completion := NewChatCompletion(text, "stop")

	b, err := json.Marshal(completion)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded ChatCompletion
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(decoded.Choices) != 1 {
		t.Fatalf("expected one choice, got %d", len(decoded.Choices))
	}
	got := decoded.Choices[0].Message
	if got.Content == nil || *got.Content != text {
		t.Errorf("assistant text not preserved: %v", got.Content)
	}
	if decoded.Choices[0].FinishReason != "stop" {
		t.Errorf("unexpected finish_reason %q", decoded.Choices[0].FinishReason)
	}
}

func TestNewChatCompletion_MaxTokensBecomesLength(t *testing.T) {
	completion := NewChatCompletion("truncated", "max_tokens")
	if completion.Choices[0].FinishReason != "length" {
		t.Errorf("expected length, got %q", completion.Choices[0].FinishReason)
	}
}

func TestNewChatCompletion_FunctionCallEnvelope(t *testing.T) {
	text := `{"function_call":{"name":"get_weather","arguments":"{\"city\":\"Oslo\"}"}}`
	completion := NewChatCompletion(text, "stop")

	choice := completion.Choices[0]
	if choice.Message.Content != nil {
		t.Error("content must be null for a function call")
	}
	if choice.Message.FunctionCall == nil || choice.Message.FunctionCall.Name != "get_weather" {
		t.Fatalf("function call not detected: %+v", choice.Message)
	}
	if choice.Message.FunctionCall.Arguments != `{"city":"Oslo"}` {
		t.Errorf("unexpected arguments %q", choice.Message.FunctionCall.Arguments)
	}
	if choice.FinishReason != "function_call" {
		t.Errorf("unexpected finish_reason %q", choice.FinishReason)
	}
}

func TestNewChatCompletion_PlainJSONIsNotACall(t *testing.T) {
	text := `{"answer": 42}`
	completion := NewChatCompletion(text, "stop")
	choice := completion.Choices[0]
	if choice.Message.FunctionCall != nil {
		t.Error("plain JSON output must not be treated as a function call")
	}
	if choice.Message.Content == nil || *choice.Message.Content != text {
		t.Error("plain JSON output must pass through verbatim")
	}
}
