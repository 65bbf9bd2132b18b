package msc

// lun describes a single Logical Unit's addressable block range. Only LUN 0
// is ever instantiated (spec.md §1 Non-goals: no multi-LUN beyond LUN 0).
type lun struct {
	startingLBA uint32
	blockCount  uint32
}

// newLUN0 builds LUN 0 covering [0, blockCount).
func newLUN0(blockCount uint32) lun {
	return lun{startingLBA: 0, blockCount: blockCount}
}

// inRange reports whether [lba, lba+count) fits within the LUN.
func (l lun) inRange(lba, count uint64) bool {
	return lba+count <= uint64(l.blockCount)
}
