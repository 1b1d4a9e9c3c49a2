package testutils

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ridwanabdusalam/cleanlab/infrastructure/llm"
	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

func TestScriptedModelClient_Rules(t *testing.T) {
	m := NewScriptedModelClient("scripted").
		On("answer: [A]", "Paris", "France").
		On("answer: [B]", "France")
	ctx := context.Background()

	got, err := m.Send(ctx, "Q: capital of France? A: Paris", ports.GenerationOptions{})
	require.NoError(t, err)
	assert.Equal(t, "answer: [A]", got, "all parts of the first rule match")

	got, _ = m.Send(ctx, "Q: capital of France? A: Lyon", ports.GenerationOptions{})
	assert.Equal(t, "answer: [B]", got)

	got, _ = m.Send(ctx, "unrelated", ports.GenerationOptions{})
	assert.Equal(t, llm.UncertainReply, got)

	m.Otherwise("no idea")
	got, _ = m.Send(ctx, "unrelated", ports.GenerationOptions{})
	assert.Equal(t, "no idea", got)

	assert.Equal(t, 4, m.Calls())
	assert.Equal(t, "unrelated", m.Prompts()[3])
	assert.Equal(t, "scripted", m.GetModel())

	m.Reset()
	assert.Zero(t, m.Calls())
}

func TestScriptedModelClient_Failures(t *testing.T) {
	m := NewScriptedModelClient("scripted")
	boom := errors.New("boom")
	m.FailWith(boom)

	_, err := m.Send(context.Background(), "p", ports.GenerationOptions{})
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Send(ctx, "p", ports.GenerationOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, m.Calls(), "cancelled sends are not recorded")
}

func TestScriptedModelClient_Concurrent(t *testing.T) {
	m := NewScriptedModelClient("scripted").On("answer: [A]", "x")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Send(context.Background(), "x", ports.GenerationOptions{})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, m.Calls())
}

func TestScriptJudge(t *testing.T) {
	ds := FactualDataset()
	m := ScriptJudge(NewScriptedModelClient("judge"), ds)

	for _, item := range ds {
		reply, err := m.Send(context.Background(), "Question: "+item.Question+"\nAnswer: "+item.Answer, ports.GenerationOptions{})
		require.NoError(t, err)
		want := domain.VerdictIncorrect
		if item.Correct {
			want = domain.VerdictCorrect
		}
		assert.Equal(t, want, domain.ParseVerdict(reply), item.Answer)
	}
}

func TestFactualDataset(t *testing.T) {
	ds := FactualDataset()
	correct := 0
	for _, item := range ds {
		require.NoError(t, item.Request().Validate())
		if item.Correct {
			correct++
		}
	}
	assert.Equal(t, len(ds)/2, correct)
}
