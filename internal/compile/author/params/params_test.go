package params

import (
	"testing"

	"convtex/internal/compile/author/cgen"

	"github.com/stretchr/testify/assert"
)

func TestList(t *testing.T) {
	l := List{
		Image("filters0", cgen.ReadOnly, cgen.Image2D),
		Value("src_size", Int4),
		Value("BATCH_SIZE", Int),
	}
	want := "\n__read_only image2d_t filters0,\nint4 src_size,\nint BATCH_SIZE\n"
	assert.Equal(t, want, cgen.String(l.Decls()))
	assert.Equal(t, []string{"filters0", "src_size", "BATCH_SIZE"}, l.Names())
	assert.Equal(t, []Kind{Memory, Int4, Int}, l.Kinds())
	assert.Equal(t, 1, l.Index("src_size"))
	assert.Equal(t, -1, l.Index("stride"))
}

func TestValuePanicsOnMemory(t *testing.T) {
	assert.PanicsWithValue(t, "bug", func() { Value("x", Memory) })
}
