package hostinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampler(t *testing.T) {
	s, err := NewSampler()
	require.NoError(t, err)

	// First call primes the CPU delta; the reading itself is best-effort.
	_ = s.Sample()
	sample := s.Sample()

	assert.Greater(t, sample.ProcRSSBytes, uint64(0), "own RSS should be readable")
	assert.GreaterOrEqual(t, sample.HostMemPercent, 0.0)
	assert.LessOrEqual(t, sample.HostMemPercent, 100.0)
}
