package rewrite

import (
	"context"
	"testing"
	"time"

	"github.com/kbserve/retrieval-core/internal/model"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	response string
	err      error
}

func (g fakeGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.response, g.err
}

func turn(role model.Role, content string) model.ConversationTurn {
	return model.ConversationTurn{Role: role, Content: content, TS: time.Now()}
}

func TestRewriter_EmptyHistoryReturnsIdentity(t *testing.T) {
	r := New(fakeGenerator{response: `{"rewritten":"should not be used"}`})
	result := r.Rewrite(context.Background(), "what is the refund policy", nil, DefaultConfig())

	require.Equal(t, "what is the refund policy", result.Rewritten)
	require.Equal(t, "what is the refund policy", result.Original)
	require.Empty(t, result.Variants)
	require.Equal(t, 1.0, result.Confidence)
}

func TestRewriter_ParsesStructuredResponse(t *testing.T) {
	history := []model.ConversationTurn{
		turn(model.RoleUser, "Tell me about Project Orion"),
		turn(model.RoleAssistant, "Project Orion is our new satellite program."),
	}
	llm := fakeGenerator{response: `{"rewritten":"What is the budget for Project Orion?","variants":["What does Project Orion cost?","How much funding does Project Orion have?"],"confidence":0.9}`}
	r := New(llm)

	result := r.Rewrite(context.Background(), "what's its budget?", history, DefaultConfig())

	require.Equal(t, "What is the budget for Project Orion?", result.Rewritten)
	require.Len(t, result.Variants, 2)
	require.Equal(t, 0.9, result.Confidence)
}

func TestRewriter_DegradesOnLLMError(t *testing.T) {
	history := []model.ConversationTurn{turn(model.RoleUser, "hi")}
	r := New(fakeGenerator{err: errBoom{}})

	result := r.Rewrite(context.Background(), "what about it?", history, DefaultConfig())

	require.Equal(t, "what about it?", result.Rewritten)
	require.Empty(t, result.Variants)
	require.Equal(t, 0.0, result.Confidence)
}

func TestRewriter_DegradesOnUnparsableResponse(t *testing.T) {
	history := []model.ConversationTurn{turn(model.RoleUser, "hi")}
	r := New(fakeGenerator{response: "not json at all"})

	result := r.Rewrite(context.Background(), "query", history, DefaultConfig())

	require.Equal(t, "query", result.Rewritten)
	require.Equal(t, 0.0, result.Confidence)
}

func TestRewriter_NilLLMDegrades(t *testing.T) {
	history := []model.ConversationTurn{turn(model.RoleUser, "hi")}
	r := New(nil)

	result := r.Rewrite(context.Background(), "query", history, DefaultConfig())

	require.Equal(t, "query", result.Rewritten)
	require.Equal(t, 0.0, result.Confidence)
}

func TestRewriter_DropsNearDuplicateVariants(t *testing.T) {
	history := []model.ConversationTurn{turn(model.RoleUser, "hi")}
	llm := fakeGenerator{response: `{"rewritten":"what is the refund policy","variants":["what is the refund policy?","what is the return policy","what is the refund policy"],"confidence":0.8}`}
	r := New(llm)

	result := r.Rewrite(context.Background(), "q", history, DefaultConfig())

	require.Equal(t, []string{"what is the return policy"}, result.Variants)
}

func TestRewriter_TruncatesVariantsToMaxVariations(t *testing.T) {
	history := []model.ConversationTurn{turn(model.RoleUser, "hi")}
	llm := fakeGenerator{response: `{"rewritten":"q","variants":["a","b","c","d","e"],"confidence":0.5}`}
	r := New(llm)

	cfg := DefaultConfig()
	cfg.MaxVariations = 2
	result := r.Rewrite(context.Background(), "q", history, cfg)

	require.Len(t, result.Variants, 2)
}

func TestRewriter_ExpansionDisabledDropsVariants(t *testing.T) {
	history := []model.ConversationTurn{turn(model.RoleUser, "hi")}
	llm := fakeGenerator{response: `{"rewritten":"q","variants":["a","b"],"confidence":0.5}`}
	r := New(llm)

	cfg := DefaultConfig()
	cfg.EnableQueryExpansion = false
	result := r.Rewrite(context.Background(), "q", history, cfg)

	require.Empty(t, result.Variants)
}

func TestRewriter_TruncatesOverlongRewrite(t *testing.T) {
	history := []model.ConversationTurn{turn(model.RoleUser, "hi")}
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'a'
	}
	llm := fakeGenerator{response: `{"rewritten":"` + string(long) + `","confidence":0.5}`}
	r := New(llm)

	result := r.Rewrite(context.Background(), "q", history, DefaultConfig())

	require.Len(t, result.Rewritten, 512)
}

func TestRewriter_HistoryTruncatedToMaxTurns(t *testing.T) {
	var history []model.ConversationTurn
	for i := 0; i < 10; i++ {
		history = append(history, turn(model.RoleUser, "turn"))
	}
	llm := fakeGenerator{response: `{"rewritten":"q","confidence":0.5}`}
	r := New(llm)

	cfg := DefaultConfig()
	cfg.MaxHistoryTurns = 3
	result := r.Rewrite(context.Background(), "q", history, cfg)

	require.Equal(t, "q", result.Rewritten)
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
