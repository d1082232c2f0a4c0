package nmsrc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestName(t *testing.T) {
	s := New()
	assert.Equal(t, "scalar_0", s.Name("scalar"))
	assert.Equal(t, "add_src_0", s.Name("add_src"))
	assert.Equal(t, "scalar_1", s.Name("scalar"))

	copied := s
	assert.Equal(t, "scalar_2", copied.Name("scalar"))
}
