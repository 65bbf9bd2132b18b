package msc

// CHS geometry for the Flexible Disk mode page. Grounded on
// original_source/src/chs.c and include/chs.h: start from the floppy
// defaults (63 sectors/track, 16 heads/cylinder) and grow the head count
// until the cylinder count fits in 16 bits.
const (
	defaultSectorsPerTrack = 63
	defaultHeadsPerCyl     = 16
	maxCylinders           = 65535
)

// computeCHS returns (headsPerCylinder, sectorsPerTrack, cylinders) for a
// LUN of the given block count, sized so that cylinders never exceeds
// maxCylinders.
func computeCHS(lbaCount uint32) (heads uint8, sectorsPerTrack uint8, cylinders uint16) {
	spt := uint32(defaultSectorsPerTrack)
	hpc := uint32(defaultHeadsPerCyl)

	for lbaCount/(hpc*spt) > maxCylinders {
		hpc += defaultHeadsPerCyl
	}

	return uint8(hpc), uint8(spt), uint16(lbaCount / (hpc * spt))
}
