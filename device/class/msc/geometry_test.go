package msc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeCHSSmall(t *testing.T) {
	heads, spt, cylinders := computeCHS(2048)
	assert.Equal(t, uint8(defaultHeadsPerCyl), heads)
	assert.Equal(t, uint8(defaultSectorsPerTrack), spt)
	assert.LessOrEqual(t, cylinders, uint16(maxCylinders))
}

// TestComputeCHSCylinderCeiling sweeps a range of block counts, up to one
// that needs 224 heads, and asserts the spec's invariant: cylinders never
// exceeds 65535.
func TestComputeCHSCylinderCeiling(t *testing.T) {
	blockCounts := []uint32{
		1, 63 * 16, 63*16 + 1,
		63 * 16 * 65535,
		63 * 16 * 65535 + 1,
		63 * 224 * 65535,
	}

	for _, blocks := range blockCounts {
		heads, spt, cylinders := computeCHS(blocks)
		assert.LessOrEqual(t, cylinders, uint16(maxCylinders),
			"blocks=%d heads=%d spt=%d cylinders=%d", blocks, heads, spt, cylinders)
		assert.Equal(t, uint8(defaultSectorsPerTrack), spt)
		assert.Zero(t, uint32(heads)%defaultHeadsPerCyl)
	}
}
