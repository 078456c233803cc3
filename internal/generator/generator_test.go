package generator

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/quenlabs/docq/internal/rag"
)

// fakeChatModel is a canned eino chat model for tests.
type fakeChatModel struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeChatModel) Generate(_ context.Context, msgs []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if len(msgs) > 0 {
		f.prompt = msgs[len(msgs)-1].Content
	}
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("fake: streaming not supported")
}

func (f *fakeChatModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return f, nil
}

func Test_Generate(t *testing.T) {
	t.Parallel()
	fake := &fakeChatModel{reply: "the answer"}
	g, err := New(fake)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := g.Generate(context.Background(), "the prompt")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "the answer" {
		t.Errorf("answer = %q", got)
	}
	if fake.prompt != "the prompt" {
		t.Errorf("model received prompt %q", fake.prompt)
	}
}

func Test_Generate_ModelFailureWrapsErrGeneration(t *testing.T) {
	t.Parallel()
	g, err := New(&fakeChatModel{err: errors.New("backend down")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = g.Generate(context.Background(), "prompt")
	if err == nil {
		t.Fatal("want error from failing model")
	}
	if !errors.Is(err, rag.ErrGeneration) {
		t.Errorf("error %v does not wrap ErrGeneration", err)
	}
}

func Test_Generate_EmptyAnswerIsError(t *testing.T) {
	t.Parallel()
	g, err := New(&fakeChatModel{reply: ""})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := g.Generate(context.Background(), "prompt"); !errors.Is(err, rag.ErrGeneration) {
		t.Errorf("want ErrGeneration for empty answer, got %v", err)
	}
}

func Test_New_NilModel(t *testing.T) {
	t.Parallel()
	if _, err := New(nil); err == nil {
		t.Error("want error for nil model")
	}
}
