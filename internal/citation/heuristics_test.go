package citation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectHallucinationRisks(t *testing.T) {
	t.Run("uncited attribution", func(t *testing.T) {
		flags := DetectHallucinationRisks("Your notes indicate the server crashed twice.")
		require.Len(t, flags, 1)
		assert.Equal(t, "uncited_attribution", flags[0].Kind)
	})

	t.Run("cited attribution is clean", func(t *testing.T) {
		flags := DetectHallucinationRisks("Your notes indicate the server crashed twice [N1].")
		assert.Empty(t, flags)
	})

	t.Run("uncited figure", func(t *testing.T) {
		flags := DetectHallucinationRisks("The budget was $5,000 for the quarter.")
		require.Len(t, flags, 1)
		assert.Equal(t, "uncited_number", flags[0].Kind)
	})

	t.Run("absolute claim", func(t *testing.T) {
		flags := DetectHallucinationRisks("This approach always works.")
		require.Len(t, flags, 1)
		assert.Equal(t, "absolute_claim", flags[0].Kind)
	})

	t.Run("plain cited prose is clean", func(t *testing.T) {
		flags := DetectHallucinationRisks("The deploy finished on schedule [N1]. It took two tries [N2].")
		assert.Empty(t, flags)
	})
}
