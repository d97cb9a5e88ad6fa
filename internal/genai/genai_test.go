package genai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp     *openai.ChatCompletion
	err      error
	lastBody openai.ChatCompletionNewParams
}

func (m *mockChatService) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.lastBody = body
	return m.resp, m.err
}

func reply(content string) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func newTestClient(m *mockChatService) *Client {
	return &Client{chat: m, model: string(openai.ChatModelGPT4oMini), timeout: time.Second}
}

func TestClassify_MatchesLabelCaseInsensitively(t *testing.T) {
	m := &mockChatService{resp: reply(" collect_money.\n")}
	got, err := newTestClient(m).Classify(context.Background(), "Route the message.", "I need to get paid", []string{"send_money", "collect_money"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != "collect_money" {
		t.Errorf("expected collect_money, got %q", got)
	}
	if len(m.lastBody.Messages) != 2 {
		t.Errorf("expected system and user messages, got %d", len(m.lastBody.Messages))
	}
}

func TestClassify_OutOfContract(t *testing.T) {
	m := &mockChatService{resp: reply("I think they want to send money")}
	_, err := newTestClient(m).Classify(context.Background(), "x", "y", []string{"send_money", "general"})
	if !errors.Is(err, ErrUnexpectedLabel) {
		t.Errorf("expected ErrUnexpectedLabel, got %v", err)
	}
}

func TestClassify_ServiceError(t *testing.T) {
	m := &mockChatService{err: errors.New("service failure")}
	_, err := newTestClient(m).Classify(context.Background(), "x", "y", []string{"a"})
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestClassify_NoChoices(t *testing.T) {
	m := &mockChatService{resp: &openai.ChatCompletion{}}
	_, err := newTestClient(m).Classify(context.Background(), "x", "y", []string{"a"})
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	if _, err := NewClient(); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-4o"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.model != "gpt-4o" {
		t.Errorf("model = %q", cli.model)
	}
}
