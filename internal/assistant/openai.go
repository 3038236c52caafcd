package assistant

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

// openaiBackend implements Backend on the OpenAI assistants API.
type openaiBackend struct {
	client *openai.Client
}

// NewOpenaiBackend is the production BackendFactory.
func NewOpenaiBackend(apiKey string) Backend {
	return &openaiBackend{client: openai.NewClient(apiKey)}
}

func (b *openaiBackend) CreateThread(ctx context.Context) (string, error) {
	thread, err := b.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", err
	}
	return thread.ID, nil
}

func (b *openaiBackend) AddUserMessage(ctx context.Context, threadID, text string) error {
	_, err := b.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
	return err
}

func (b *openaiBackend) StartRun(ctx context.Context, threadID, assistantID string) (string, error) {
	run, err := b.client.CreateRun(ctx, threadID, openai.RunRequest{
		AssistantID: assistantID,
	})
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

func (b *openaiBackend) RunStatus(ctx context.Context, threadID, runID string) (string, error) {
	run, err := b.client.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return "", err
	}
	return string(run.Status), nil
}

// LatestReply returns the newest assistant message text of the thread.
func (b *openaiBackend) LatestReply(ctx context.Context, threadID string) (string, error) {
	limit := 5
	order := "desc"
	list, err := b.client.ListMessage(ctx, threadID, &limit, &order, nil, nil)
	if err != nil {
		return "", err
	}
	for _, msg := range list.Messages {
		if msg.Role != "assistant" {
			continue
		}
		for _, part := range msg.Content {
			if part.Text != nil && part.Text.Value != "" {
				return part.Text.Value, nil
			}
		}
	}
	return "", errors.New("no assistant reply in thread")
}
