package openai

import (
    "context"
    "encoding/json"
    "errors"
    "strings"

    "github.com/openai/openai-go/v2"
    "github.com/openai/openai-go/v2/option"
    "github.com/rs/zerolog"

    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/config"
)

// ExtractedTask is one action item pulled out of free-form chat text. Fields
// are plain strings; the importer maps them onto the task model.
type ExtractedTask struct {
    Title       string `json:"title"`
    Description string `json:"description"`
    Assignee    string `json:"assignee"`
    Priority    string `json:"priority"`
    Status      string `json:"status"`
    DueDate     string `json:"due_date"`
}

type Client struct {
    api   openai.Client
    model string
    log   zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
    return &Client{
        api:   openai.NewClient(option.WithAPIKey(cfg.OpenAIKey), option.WithRequestTimeout(cfg.OpenAITimeout)),
        model: cfg.OpenAIModel,
        log:   log,
    }
}

const extractPrompt = `You are a project assistant. Extract concrete action items from this team chat excerpt.
Return a JSON object {"tasks": [...]} where each task has keys:
title, description, assignee, priority (critical|high|medium|low or empty),
status (Backlog|To Do|In Progress|Review|Done or empty), due_date (YYYY-MM-DD or empty).
Only include items someone actually committed to doing. No commentary.`

// ExtractTasks turns a redacted chat excerpt into candidate tasks. The text
// must be scrubbed of PII before it is handed here.
func (c *Client) ExtractTasks(ctx context.Context, text string) ([]ExtractedTask, error) {
    if strings.TrimSpace(text) == "" { return nil, nil }
    resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
        Model: openai.ChatModel(c.model),
        Messages: []openai.ChatCompletionMessageParamUnion{
            openai.SystemMessage(extractPrompt),
            openai.UserMessage(text),
        },
        Temperature: openai.Float(0.1),
    })
    if err != nil { return nil, err }
    if len(resp.Choices) == 0 { return nil, errors.New("openai: no choices") }

    content := resp.Choices[0].Message.Content
    content = strings.TrimSpace(content)
    content = strings.TrimPrefix(content, "```json")
    content = strings.TrimPrefix(content, "```")
    content = strings.TrimSuffix(content, "```")

    var out struct {
        Tasks []ExtractedTask `json:"tasks"`
    }
    if err := json.Unmarshal([]byte(content), &out); err != nil {
        return nil, err
    }
    var tasks []ExtractedTask
    for _, t := range out.Tasks {
        if strings.TrimSpace(t.Title) == "" { continue }
        tasks = append(tasks, t)
    }
    return tasks, nil
}
