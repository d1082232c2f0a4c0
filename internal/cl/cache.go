package cl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ProgramCache compiles each distinct (source, options) pair once and
// hands out fresh kernels from the cached program. Concurrent requests
// for one key wait for the first compile.
type ProgramCache struct {
	compiler Compiler
	mu       sync.Mutex
	entries  map[string]*cacheEntry
	hits     int
	misses   int
}

type cacheEntry struct {
	done chan struct{}
	prog Program
	err  error
}

func NewProgramCache(c Compiler) *ProgramCache {
	return &ProgramCache{
		compiler: c,
		entries:  make(map[string]*cacheEntry),
	}
}

func cacheKey(src string, opts []CompilerOption) string {
	h := sha256.New()
	h.Write([]byte(src))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(Flags(opts), " ")))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *ProgramCache) program(ctx context.Context, src string, opts []CompilerOption) (Program, error) {
	key := cacheKey(src, opts)
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		c.hits++
		c.mu.Unlock()
		select {
		case <-e.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return e.prog, e.err
	}
	c.misses++
	e = &cacheEntry{done: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	e.prog, e.err = c.compiler.CompileProgram(ctx, src, opts)
	if e.err != nil {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
	}
	close(e.done)
	return e.prog, e.err
}

func (c *ProgramCache) GetOrCreateKernel(ctx context.Context, src, entry string, opts []CompilerOption) (Kernel, error) {
	prog, err := c.program(ctx, src, opts)
	if err != nil {
		return nil, errors.Wrap(err, "compile program")
	}
	k, err := prog.CreateKernel(entry)
	if err != nil {
		return nil, errors.Wrapf(err, "create kernel %q", entry)
	}
	return k, nil
}

// Stats reports lookups served from the cache and lookups that compiled.
func (c *ProgramCache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *ProgramCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
