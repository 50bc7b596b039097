package visibility

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/arcway-labs/pilot/internal/llm"
)

type fakeLLM struct {
	resp llm.Response
	err  error
}

func (f fakeLLM) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	return f.resp, f.err
}
func (f fakeLLM) Name() string { return "fake" }

func TestVisibleTrueOnYES(t *testing.T) {
	c := New(fakeLLM{resp: llm.Response{Text: "YES"}}, zerolog.Nop())
	assert.True(t, c.Visible(context.Background(), "find the contact page", "some text", nil))
}

func TestVisibleFalseOnNO(t *testing.T) {
	c := New(fakeLLM{resp: llm.Response{Text: "NO"}}, zerolog.Nop())
	assert.False(t, c.Visible(context.Background(), "find the contact page", "some text", nil))
}

func TestVisibleFailsOpenOnError(t *testing.T) {
	c := New(fakeLLM{err: context.DeadlineExceeded}, zerolog.Nop())
	assert.True(t, c.Visible(context.Background(), "find the contact page", "some text", nil), "a transport failure should fail open")
}

func TestVisibleCaseInsensitivePrefix(t *testing.T) {
	c := New(fakeLLM{resp: llm.Response{Text: "yes, it is"}}, zerolog.Nop())
	assert.True(t, c.Visible(context.Background(), "obj", "text", nil))
}
