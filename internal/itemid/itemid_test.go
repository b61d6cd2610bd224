package itemid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinAndSegments(t *testing.T) {
	tests := []struct {
		name     string
		segments []string
	}{
		{"single segment", []string{"suiteA"}},
		{"nested chain", []string{"suiteA", "fileX", "testFoo"}},
		{"segment with separator", []string{"suiteA", "file\x00name"}},
		{"segment with backslash", []string{"suite\\A", "fileX"}},
		{"empty segment", []string{"suiteA", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id ItemID
			for _, seg := range tt.segments {
				id = Join(id, seg)
			}

			decoded, err := id.Segments()
			require.NoError(t, err)
			assert.Equal(t, tt.segments, decoded)
			assert.Equal(t, len(tt.segments), id.Depth())
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain id", "suiteA", false},
		{"nested id", "suiteA\x00fileX", false},
		{"escaped backslash", `suite\\A`, false},
		{"escaped separator", `suite\0A`, false},
		{"unterminated escape", `suiteA\`, true},
		{"unknown escape", `suite\xA`, true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, ItemID(tt.input), id)
		})
	}
}

func TestIDsFromRoot(t *testing.T) {
	id := Join(Join(Join("", "suiteA"), "fileX"), "testFoo")

	var chain []ItemID
	for prefix := range IDsFromRoot(id) {
		chain = append(chain, prefix)
	}

	require.Len(t, chain, 3)
	assert.Equal(t, ItemID("suiteA"), chain[0])
	assert.Equal(t, ItemID("suiteA\x00fileX"), chain[1])
	assert.Equal(t, id, chain[2])

	// Every prefix is itself a valid id.
	for _, prefix := range chain {
		_, err := Parse(string(prefix))
		assert.NoError(t, err)
	}
}

func TestIDsFromRootIsRestartable(t *testing.T) {
	id := Join(Join("", "suiteA"), "fileX")
	seq := IDsFromRoot(id)

	first := 0
	for range seq {
		first++
		break // abandon mid-way
	}
	second := 0
	for range seq {
		second++
	}

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}

func TestIsChild(t *testing.T) {
	root := Join("", "suiteA")
	file := Join(root, "fileX")
	test := Join(file, "testFoo")

	assert.True(t, IsChild(root, file))
	assert.True(t, IsChild(file, test))
	assert.False(t, IsChild(root, test), "grandchild is not a direct child")
	assert.False(t, IsChild(file, root))
	assert.False(t, IsChild("", root))
}

func TestParent(t *testing.T) {
	root := Join("", "suiteA")
	file := Join(root, "fileX")

	assert.Equal(t, root, file.Parent())
	assert.Equal(t, ItemID(""), root.Parent())
}

func TestEscapedSeparatorDoesNotSplit(t *testing.T) {
	// A segment containing a literal NUL must stay one segment.
	id := Join("", "file\x00name")
	assert.Equal(t, 1, id.Depth())

	segments, err := id.Segments()
	require.NoError(t, err)
	assert.Equal(t, []string{"file\x00name"}, segments)
}
