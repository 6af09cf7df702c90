package translate

import (
	"encoding/json"
	"strings"

	"github.com/chatmux/chatmux/internal/bot"
)

// APIMessage is one message of the public completion schema.
type APIMessage struct {
	Role          string         `json:"role"`
	Name          string         `json:"name,omitempty"`
	Content       string         `json:"content,omitempty"`
	FunctionCall  *FunctionCall  `json:"function_call,omitempty"`
	FunctionCalls []FunctionCall `json:"function_calls,omitempty"`
}

// FunctionDef declares a callable function to the model.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// FunctionCall is the structured call envelope of the completion schema.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// APIRequest is the body of the public completions endpoint.
type APIRequest struct {
	Messages  []APIMessage  `json:"messages"`
	Model     string        `json:"model"`
	Stream    bool          `json:"stream,omitempty"`
	Functions []FunctionDef `json:"functions,omitempty"`
}

// gpt-4 submodels the upstream serves directly; every other gpt-4 variant
// collapses to plain gpt-4.
var gpt4Submodels = map[string]bool{
	"gpt-4-browsing":         true,
	"gpt-4-plugins":          true,
	"gpt-4-mobile":           true,
	"gpt-4-code-interpreter": true,
}

// MapModel translates a public model name to an upstream slug.
func MapModel(model string) string {
	if !strings.HasPrefix(model, "gpt-4") {
		return bot.DefaultModel
	}
	if gpt4Submodels[model] {
		return model
	}
	return "gpt-4"
}

// ToUpstream converts a completion request into the upstream message list
// and model slug. System messages become critic; the upstream has no
// system role.
func ToUpstream(req APIRequest) ([]bot.Message, string) {
	messages := make([]bot.Message, 0, len(req.Messages)+1)

	if len(req.Functions) > 0 {
		messages = append(messages, bot.NewTextMessage("critic", functionPreamble(req.Functions)))
	}
	for _, m := range req.Messages {
		role := m.Role
		if role == "system" {
			role = "critic"
		}
		content := m.Content
		switch {
		case m.FunctionCall != nil:
			b, err := json.Marshal(map[string]*FunctionCall{"function_call": m.FunctionCall})
			if err == nil {
				content = string(b)
			}
		case len(m.FunctionCalls) > 0:
			b, err := json.Marshal(map[string][]FunctionCall{"function_calls": m.FunctionCalls})
			if err == nil {
				content = string(b)
			}
		}
		messages = append(messages, bot.NewTextMessage(role, content))
	}
	return messages, MapModel(req.Model)
}

// functionPreamble renders the declared functions as an instruction, so a
// model without native tool support can still emit the call envelope.
func functionPreamble(functions []FunctionDef) string {
	b, err := json.Marshal(functions)
	if err != nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("You may call one of these functions. To call one, reply with only a JSON object ")
	sb.WriteString(`of the form {"function_call":{"name":"...","arguments":"..."}} where arguments is a JSON-encoded string. `)
	sb.WriteString("Functions: ")
	sb.Write(b)
	return sb.String()
}
