package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tokens := Tokenize("Parse config: src/x.ts failed (import error)!")
	assert.Equal(t, []string{"parse", "config", "src", "ts", "failed", "import", "error"}, tokens)

	assert.Empty(t, Tokenize(""))
	assert.Empty(t, Tokenize("a - b"))
}

func TestFromText(t *testing.T) {
	v := FromText("import error in parser")
	require.Len(t, []float32(v), Dim)
	assert.False(t, v.IsZero())

	assert.True(t, FromText("").IsZero())
}

func TestSimilarity(t *testing.T) {
	t.Run("identical text is fully similar", func(t *testing.T) {
		a := FromText("parse config import error")
		b := FromText("parse config import error")
		assert.InDelta(t, 1.0, Similarity(a, b), 1e-6)
	})

	t.Run("overlap scores between 0 and 1", func(t *testing.T) {
		a := FromText("parse config import error")
		b := FromText("parse yaml import warning")
		sim := Similarity(a, b)
		assert.Greater(t, sim, 0.0)
		assert.Less(t, sim, 1.0)
	})

	t.Run("disjoint text scores near zero", func(t *testing.T) {
		a := FromText("parse config import")
		b := FromText("render button widget")
		assert.Less(t, Similarity(a, b), 0.2)
	})

	t.Run("zero vectors compare as zero", func(t *testing.T) {
		assert.Equal(t, 0.0, Similarity(FromText(""), FromText("anything")))
		assert.Equal(t, 0.0, Similarity(nil, FromText("anything")))
	})

	t.Run("order does not matter", func(t *testing.T) {
		a := FromText("config parse error import")
		b := FromText("import error parse config")
		assert.InDelta(t, 1.0, Similarity(a, b), 1e-6)
	})
}

func TestAdd_Weighting(t *testing.T) {
	base := FromText("parse config")
	weighted := FromTokens(nil).Add("parse config", 1).Add("src/x.ts", 0.5)

	// The path tokens tilt the vector but the core tokens still dominate.
	sim := Similarity(base, weighted)
	assert.Greater(t, sim, 0.7)
	assert.Less(t, sim, 1.0)
}
