package cl

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKernel struct{ entry string }

func (k *fakeKernel) ID() string                 { return k.entry }
func (k *fakeKernel) ResetBindingCounter()       {}
func (k *fakeKernel) SetMemoryAuto(Memory) error { return nil }
func (k *fakeKernel) SetBytesAuto(any) error     { return nil }
func (k *fakeKernel) MaxWorkGroupTotal() int     { return 256 }

type fakeProgram struct{}

func (fakeProgram) CreateKernel(entry string) (Kernel, error) {
	if entry != "main_function" {
		return nil, errors.Errorf("no entry %q", entry)
	}
	return &fakeKernel{entry: entry}, nil
}

type countingCompiler struct {
	calls atomic.Int32
	fail  bool
}

func (c *countingCompiler) CompileProgram(ctx context.Context, src string, opts []CompilerOption) (Program, error) {
	c.calls.Add(1)
	if c.fail {
		return nil, errors.New("syntax error")
	}
	return fakeProgram{}, nil
}

func TestProgramCacheReuses(t *testing.T) {
	cc := &countingCompiler{}
	cache := NewProgramCache(cc)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k, err := cache.GetOrCreateKernel(ctx, "src", "main_function", nil)
			assert.NoError(t, err)
			assert.NotNil(t, k)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, cc.calls.Load())

	_, err := cache.GetOrCreateKernel(ctx, "src", "main_function", []CompilerOption{AdrenoFullSIMDLine})
	require.NoError(t, err)
	assert.EqualValues(t, 2, cc.calls.Load())
	assert.Equal(t, 2, cache.Len())
	hits, misses := cache.Stats()
	assert.Equal(t, 7, hits)
	assert.Equal(t, 2, misses)

	k1, _ := cache.GetOrCreateKernel(ctx, "src", "main_function", nil)
	k2, _ := cache.GetOrCreateKernel(ctx, "src", "main_function", nil)
	assert.NotSame(t, k1, k2)

	_, err = cache.GetOrCreateKernel(ctx, "src", "other", nil)
	assert.ErrorContains(t, err, `create kernel "other"`)
}

func TestProgramCacheDropsFailures(t *testing.T) {
	cc := &countingCompiler{fail: true}
	cache := NewProgramCache(cc)
	for i := 0; i < 2; i++ {
		_, err := cache.GetOrCreateKernel(context.Background(), "bad", "main_function", nil)
		assert.ErrorContains(t, err, "syntax error")
	}
	assert.EqualValues(t, 2, cc.calls.Load())
	assert.Zero(t, cache.Len())
}

func TestFlags(t *testing.T) {
	assert.Equal(t, []string{"-qcom-accelerate-16-bit", "-cl-fast-relaxed-math"},
		Flags([]CompilerOption{AdrenoFullSIMDLine, ClFastRelaxedMath}))
}
