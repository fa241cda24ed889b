package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(n int, prefix string) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		b.WriteString(prefix)
		b.WriteString(string(rune('a' + i - 1)))
		b.WriteString("\n")
	}
	return b.String()
}

func TestEngine_Diff(t *testing.T) {
	tests := []struct {
		name      string
		old, new  string
		additions int
		deletions int
		hunks     int
	}{
		{"identical", "a\nb\n", "a\nb\n", 0, 0, 0},
		{"both empty", "", "", 0, 0, 0},
		{"from empty", "", "x\ny\n", 2, 0, 1},
		{"to empty", "x\ny\n", "", 0, 2, 1},
		{"replace one line", "hello\n", "world\n", 1, 1, 1},
		{"insert in middle", "a\nb\nc\n", "a\nb\nX\nc\n", 1, 0, 1},
		{"missing trailing newline", "a\nb", "a\nb\n", 0, 0, 0},
	}

	engine := NewEngine(3)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patch, err := engine.Diff([]byte(tt.old), []byte(tt.new))
			require.NoError(t, err)

			assert.Equal(t, tt.additions, patch.Stats.Additions)
			assert.Equal(t, tt.deletions, patch.Stats.Deletions)
			assert.Equal(t, tt.additions+tt.deletions, patch.Stats.Changes)
			assert.Len(t, patch.Hunks, tt.hunks)
		})
	}
}

func TestEngine_HunkHeaders(t *testing.T) {
	old := lines(10, "")
	updated := strings.Replace(old, "e\n", "E\n", 1)

	patch, err := NewEngine(2).Diff([]byte(old), []byte(updated))
	require.NoError(t, err)
	require.Len(t, patch.Hunks, 1)

	h := patch.Hunks[0]
	assert.Equal(t, 3, h.OldStart)
	assert.Equal(t, 5, h.OldLines)
	assert.Equal(t, 3, h.NewStart)
	assert.Equal(t, 5, h.NewLines)

	assert.Equal(t, "@@ -3,5 +3,5 @@\n  c\n  d\n- e\n+ E\n  f\n  g\n", patch.Format())
}

func TestEngine_SeparateAndMergedHunks(t *testing.T) {
	old := lines(20, "")

	far := strings.Replace(strings.Replace(old, "b\n", "B\n", 1), "s\n", "S\n", 1)
	patch, err := NewEngine(3).Diff([]byte(old), []byte(far))
	require.NoError(t, err)
	assert.Len(t, patch.Hunks, 2, "distant changes get their own hunks")

	near := strings.Replace(strings.Replace(old, "b\n", "B\n", 1), "f\n", "F\n", 1)
	patch, err = NewEngine(3).Diff([]byte(old), []byte(near))
	require.NoError(t, err)
	assert.Len(t, patch.Hunks, 1, "changes with overlapping context merge")
}

func TestEngine_ZeroContext(t *testing.T) {
	patch, err := NewEngine(0).Diff([]byte("a\nb\nc\n"), []byte("A\nb\nC\n"))
	require.NoError(t, err)
	require.Len(t, patch.Hunks, 2)
	for _, h := range patch.Hunks {
		for _, l := range h.Lines {
			assert.NotEqual(t, Context, l.Type)
		}
	}
}

func TestEngine_PureInsertHeader(t *testing.T) {
	patch, err := NewEngine(0).Diff(nil, []byte("x\n"))
	require.NoError(t, err)
	assert.Equal(t, "@@ -0,0 +1,1 @@\n+ x\n", patch.Format())
}

func TestEngine_Binary(t *testing.T) {
	patch, err := NewEngine(3).Diff([]byte("a\x00b"), []byte("a\x00c"))
	require.NoError(t, err)
	assert.True(t, patch.Binary)
	assert.Empty(t, patch.Hunks)
	assert.Equal(t, "Binary content differs\n", patch.Format())
}
