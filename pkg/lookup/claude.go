package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lab-inventory/pkg/anthropic"
)

// DefaultClaudeModel is used when no model is configured.
const DefaultClaudeModel = "claude-haiku-4-5-20251001"

const claudeSystemPrompt = `You catalog laboratory inventory items.
For each input item return one JSON object with these optional keys:
"description" (one or two sentences, plain text),
"item_type" (one of: equipment, instrument, glassware, chemical, consumable, tool),
"safety_level" (one of: low, medium, high),
"suggested_quantity" (integer).
Reply with a JSON array only, one object per input item, in input order.
Use {} for items you do not recognise.`

type claudeClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewClaudeClient creates a lookup client that asks Claude to describe and
// classify items. It never returns image candidates.
func NewClaudeClient(client anthropic.Client, model string) Client {
	if model == "" {
		model = DefaultClaudeModel
	}
	return &claudeClient{client: client, model: model, maxTokens: 4096}
}

func (c *claudeClient) Lookup(ctx context.Context, req Request) (*Response, error) {
	if len(req.Items) == 0 {
		return &Response{}, nil
	}

	items, err := json.Marshal(req.Items)
	if err != nil {
		return nil, eris.Wrap(err, "lookup: marshal items")
	}

	temp := 0.0
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		System:      claudeSystemPrompt,
		Messages:    []anthropic.Message{{Role: "user", Content: fmt.Sprintf("Items:\n%s", items)}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrap(err, "lookup: claude")
	}
	resp.Usage.LogCost(c.model, "lookup")

	var results []Result
	if err := json.Unmarshal([]byte(extractJSONArray(resp.Text())), &results); err != nil {
		return nil, eris.Wrap(err, "lookup: decode claude reply")
	}
	if len(results) != len(req.Items) {
		return nil, eris.Errorf("lookup: claude returned %d results for %d items", len(results), len(req.Items))
	}
	for i := range results {
		results[i].ImageURL = ""
		results[i].ImageURLs = nil
	}
	return &Response{Results: results}, nil
}

// extractJSONArray trims Markdown fences and prose around the first JSON array.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end < start {
		return strings.TrimSpace(s)
	}
	return s[start : end+1]
}
