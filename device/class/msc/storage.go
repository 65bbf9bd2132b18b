package msc

import (
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ardnew/usbmsc/pkg"
)

// Storage is the block-storage contract the SCSI target drives. It mirrors
// spec.md §6's external block-storage interface (init/max_lba/read_block/
// write_block), narrowed to Go method names and a single-block granularity.
type Storage interface {
	// Init prepares the backing medium. Called once, when the USB stack
	// reaches the Configured state.
	Init() error

	// MaxLBA returns the number of addressable BlockSize-byte blocks.
	MaxLBA() uint32

	// ReadBlock fills dst (exactly BlockSize bytes) from the given LBA.
	ReadBlock(dst []byte, lba uint32) error

	// WriteBlock writes src (exactly BlockSize bytes) to the given LBA.
	WriteBlock(lba uint32, src []byte) error
}

// MemoryStorage is a Storage backed by a process-resident byte slice, used
// for tests and for hosts with no persistent disk image.
type MemoryStorage struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemoryStorage allocates an in-memory medium of blockCount blocks.
func NewMemoryStorage(blockCount uint32) *MemoryStorage {
	return &MemoryStorage{data: make([]byte, uint64(blockCount)*BlockSize)}
}

// Init is a no-op; the backing slice is already allocated.
func (m *MemoryStorage) Init() error { return nil }

// MaxLBA returns the number of addressable blocks.
func (m *MemoryStorage) MaxLBA() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint32(len(m.data) / BlockSize)
}

// ReadBlock fills dst from the given LBA.
func (m *MemoryStorage) ReadBlock(dst []byte, lba uint32) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	offset := uint64(lba) * BlockSize
	if offset+BlockSize > uint64(len(m.data)) {
		return pkg.ErrLBAOutOfRange
	}
	copy(dst[:BlockSize], m.data[offset:offset+BlockSize])
	return nil
}

// WriteBlock writes src to the given LBA.
func (m *MemoryStorage) WriteBlock(lba uint32, src []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	offset := uint64(lba) * BlockSize
	if offset+BlockSize > uint64(len(m.data)) {
		return pkg.ErrLBAOutOfRange
	}
	copy(m.data[offset:offset+BlockSize], src[:BlockSize])
	return nil
}

// volumeSidecarSuffix names the file that records a disk image's volume
// UUID, since the image file itself is a bare block stream with no header
// (LUN 0 maps directly onto file blocks, per spec.md §3).
const volumeSidecarSuffix = ".volume"

// FileStorage is a Storage backed by a flat disk-image file: block N lives
// at byte offset N*BlockSize, so the file size alone determines MaxLBA.
type FileStorage struct {
	mu       sync.RWMutex
	file     *os.File
	size     int64
	volumeID uuid.UUID
}

// OpenFileStorage opens an existing disk image file for block I/O.
func OpenFileStorage(path string) (*FileStorage, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &FileStorage{file: file, size: stat.Size(), volumeID: readVolumeSidecar(path)}, nil
}

// CreateFileStorage creates a new flat disk image of blockCount blocks and
// stamps it with a freshly generated volume UUID recorded in a sidecar
// file next to the image.
func CreateFileStorage(path string, blockCount uint32) (*FileStorage, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	size := int64(blockCount) * BlockSize
	if err := file.Truncate(size); err != nil {
		file.Close()
		return nil, err
	}

	id := uuid.New()
	if err := writeVolumeSidecar(path, id); err != nil {
		pkg.LogWarn(pkg.ComponentStorage, "failed to write volume sidecar",
			"path", path, "error", err)
	}

	pkg.LogInfo(pkg.ComponentStorage, "created disk image",
		"path", path, "blocks", blockCount, "volume", id)

	return &FileStorage{file: file, size: size, volumeID: id}, nil
}

func readVolumeSidecar(path string) uuid.UUID {
	raw, err := os.ReadFile(path + volumeSidecarSuffix)
	if err != nil {
		return uuid.Nil
	}
	id, err := uuid.Parse(strings.TrimSpace(string(raw)))
	if err != nil {
		return uuid.Nil
	}
	return id
}

func writeVolumeSidecar(path string, id uuid.UUID) error {
	return os.WriteFile(path+volumeSidecarSuffix, []byte(id.String()+"\n"), 0o644)
}

// VolumeID returns the disk image's volume UUID, or uuid.Nil if none was
// recorded.
func (f *FileStorage) VolumeID() uuid.UUID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.volumeID
}

// Init logs the storage-ready transition; the file is already open.
func (f *FileStorage) Init() error {
	pkg.LogDebug(pkg.ComponentStorage, "file storage initialized", "volume", f.VolumeID())
	return nil
}

// MaxLBA returns the number of addressable blocks.
func (f *FileStorage) MaxLBA() uint32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return uint32(f.size / BlockSize)
}

// ReadBlock fills dst from the given LBA.
func (f *FileStorage) ReadBlock(dst []byte, lba uint32) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	offset := int64(lba) * BlockSize
	if offset+BlockSize > f.size {
		return pkg.ErrLBAOutOfRange
	}
	_, err := f.file.ReadAt(dst[:BlockSize], offset)
	return err
}

// WriteBlock writes src to the given LBA.
func (f *FileStorage) WriteBlock(lba uint32, src []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	offset := int64(lba) * BlockSize
	if offset+BlockSize > f.size {
		return pkg.ErrLBAOutOfRange
	}
	_, err := f.file.WriteAt(src[:BlockSize], offset)
	return err
}

// Close closes the underlying file.
func (f *FileStorage) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
