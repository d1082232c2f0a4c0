package example

import (
	"context"
	"testing"

	"convtex/internal/compile"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames(t *testing.T) {
	names := Names()
	require.Len(t, names, len(menu))
	seen := make(map[string]bool)
	for _, name := range names {
		assert.False(t, seen[name], name)
		seen[name] = true
		assert.NotEmpty(t, Generate(name), name)
	}
	assert.Nil(t, Generate("ResNet50"))
}

func TestEveryExampleCompiles(t *testing.T) {
	want := map[string]struct {
		is1x1, adreno4xx bool
		options          int
	}{
		"Adreno430_TextureArray": {adreno4xx: true},
		"Adreno330_1x1_SIMD":     {is1x1: true, options: 1},
		"MaliG78_1x1_ReLU6":      {is1x1: true},
	}
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			r, err := compile.Compile(context.Background(), Generate(name), nil)
			require.NoError(t, err)
			var m compile.Manifest
			require.NoError(t, json.Unmarshal(r.Manifest, &m))
			w := want[name]
			assert.Equal(t, w.is1x1, m.Is1x1)
			assert.Equal(t, w.adreno4xx, m.Adreno4xx)
			assert.Len(t, m.Options, w.options)
		})
	}
}
