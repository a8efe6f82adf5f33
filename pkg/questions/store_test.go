package questions

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easyinjection/scand/pkg/models"
)

func testRNG() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func TestSelect(t *testing.T) {
	ctx := context.Background()

	t.Run("shuffle keeps correct option and answer ids aligned", func(t *testing.T) {
		store := NewMemoryStore(models.QuestionPrompt{
			PhaseTag:     "sqli",
			Text:         "pick",
			Options:      []string{"right", "wrong-a", "wrong-b", "wrong-c"},
			AnswerIDs:    []string{"id-right", "id-a", "id-b", "id-c"},
			CorrectIndex: 0,
			Points:       10,
			QuestionID:   "q1",
		})

		rng := testRNG()
		for i := 0; i < 20; i++ {
			p, err := Select(ctx, store, "sqli", rng)
			require.NoError(t, err)
			require.NotNil(t, p)
			assert.Equal(t, "right", p.Options[p.CorrectIndex])
			assert.Equal(t, "id-right", p.AnswerIDs[p.CorrectIndex])
			assert.ElementsMatch(t, []string{"right", "wrong-a", "wrong-b", "wrong-c"}, p.Options)
		}
	})

	t.Run("sub-phase tag falls back to generic pool", func(t *testing.T) {
		store := NewMemoryStore(models.QuestionPrompt{
			PhaseTag:   "sqli",
			Text:       "generic",
			Options:    []string{"a", "b"},
			AnswerIDs:  []string{"1", "2"},
			QuestionID: "q1",
		})

		p, err := Select(ctx, store, "sqli-fingerprint", testRNG())
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "generic", p.Text)

		p, err = Select(ctx, store, "xss-context", testRNG())
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("empty pool yields nil without error", func(t *testing.T) {
		p, err := Select(ctx, NewMemoryStore(), "discovery", testRNG())
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("builtin bank covers every gated phase tag", func(t *testing.T) {
		store := Builtin()
		for _, tag := range []string{
			"discovery",
			"sqli-detection", "sqli-fingerprint", "sqli-technique", "sqli-exploit",
			"xss-context",
		} {
			p, err := Select(ctx, store, tag, testRNG())
			require.NoError(t, err)
			require.NotNil(t, p, "tag %s", tag)
			assert.NotEmpty(t, p.Options)
			assert.Positive(t, p.Points)
		}
	})
}
