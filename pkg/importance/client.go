// Copyright 2025-2026 Rasmus Ahtava

// Package importance implements the message-importance scoring oracle on an
// OpenAI-compatible chat-completion API. The model acts as a strict
// classifier: low temperature, short replies, machine-parseable verdicts.
package importance

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ahtavarasmus/lightfriend-sub000/pkg/bridge"
)

const defaultModel = "gpt-4o-mini"

const importancePrompt = `You are a notification filter for a user who only receives messages by SMS or phone call. Decide whether the following bridged chat message is critical enough to interrupt them.

Critical means: emergencies, urgent deadlines, time-sensitive requests from real people, or anything with serious personal or financial consequences. Ordinary conversation, marketing, group chatter and automated notices are not critical.

Reply in exactly this format:
VERDICT: CRITICAL or NORMAL
SUMMARY: <one short sentence for an SMS, only when critical>
OPENING: <one short spoken sentence to open a phone call, only when critical>`

const waitingCheckPrompt = `You are matching an incoming chat message against the user's waiting checks. A waiting check describes content the user is waiting for. The message matches a check when it clearly concerns what the check describes.

Waiting checks:
%s
Reply in exactly this format:
MATCH: <check id> or NONE
SUMMARY: <one short sentence for an SMS, only when matched>
OPENING: <one short spoken sentence to open a phone call, only when matched>`

// Client is an importance oracle backed by an OpenAI-compatible API.
// It implements bridge.Scorer.
type Client struct {
	client *openai.Client
	model  string
}

var _ bridge.Scorer = (*Client)(nil)

// NewClient creates an oracle client. baseURL and model are optional;
// they default to the OpenAI API and a small fast model.
func NewClient(apiKey, baseURL, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

// CheckMessageImportance implements bridge.Scorer.
func (c *Client) CheckMessageImportance(ctx context.Context, text string) (bridge.ImportanceResult, error) {
	raw, err := c.complete(ctx, importancePrompt, text)
	if err != nil {
		return bridge.ImportanceResult{}, err
	}
	return parseImportance(raw), nil
}

// CheckWaitingCheckMatch implements bridge.Scorer.
func (c *Client) CheckWaitingCheckMatch(ctx context.Context, text string, checks []bridge.WaitingCheck) (bridge.WaitingCheckMatch, error) {
	if len(checks) == 0 {
		return bridge.WaitingCheckMatch{}, nil
	}
	var list strings.Builder
	for _, check := range checks {
		fmt.Fprintf(&list, "- id=%d: %s\n", check.ID, check.Content)
	}
	raw, err := c.complete(ctx, fmt.Sprintf(waitingCheckPrompt, list.String()), text)
	if err != nil {
		return bridge.WaitingCheckMatch{}, err
	}
	return parseMatch(raw, checks), nil
}

func (c *Client) complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMessage},
		},
		Temperature: 0.1,
		MaxTokens:   120,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// parseImportance extracts the verdict lines from a model reply. Anything
// that does not clearly say CRITICAL is treated as normal.
func parseImportance(raw string) bridge.ImportanceResult {
	var res bridge.ImportanceResult
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(strings.ToUpper(line), "VERDICT:"):
			verdict := strings.ToUpper(strings.TrimSpace(line[len("VERDICT:"):]))
			res.Critical = strings.HasPrefix(verdict, "CRITICAL")
		case strings.HasPrefix(strings.ToUpper(line), "SUMMARY:"):
			res.Message = strings.TrimSpace(line[len("SUMMARY:"):])
		case strings.HasPrefix(strings.ToUpper(line), "OPENING:"):
			res.FirstMessage = strings.TrimSpace(line[len("OPENING:"):])
		}
	}
	if !res.Critical {
		res.Message = ""
		res.FirstMessage = ""
	}
	return res
}

// parseMatch extracts the matched check id, validating it against the
// configured checks so a hallucinated id never fires anything.
func parseMatch(raw string, checks []bridge.WaitingCheck) bridge.WaitingCheckMatch {
	var res bridge.WaitingCheckMatch
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(strings.ToUpper(line), "MATCH:"):
			value := strings.TrimSpace(line[len("MATCH:"):])
			if strings.EqualFold(value, "NONE") {
				continue
			}
			matchID, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				continue
			}
			for _, check := range checks {
				if check.ID == matchID {
					res.CheckID = &matchID
					break
				}
			}
		case strings.HasPrefix(strings.ToUpper(line), "SUMMARY:"):
			res.Message = strings.TrimSpace(line[len("SUMMARY:"):])
		case strings.HasPrefix(strings.ToUpper(line), "OPENING:"):
			res.FirstMessage = strings.TrimSpace(line[len("OPENING:"):])
		}
	}
	if res.CheckID == nil {
		res.Message = ""
		res.FirstMessage = ""
	}
	return res
}
