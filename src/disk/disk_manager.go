package disk

import (
	"io"
	"os"
	"sync"

	"github.com/ncw/directio"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"toy-db-golang/src/common"
)

// DiskManager is the block device consumed by the buffer pool. Both calls
// are synchronous and blocking; buffers are exactly common.PageSize bytes.
type DiskManager interface {
	ReadPage(pageId common.PageId, data []byte) error
	WritePage(pageId common.PageId, data []byte) error
	Close() error
}

// FileDiskManager stores pages in a single file at offset pageId*PageSize,
// using direct I/O so page writes bypass the OS cache.
type FileDiskManager struct {
	fileName string
	fi       *os.File
	mu       sync.Mutex
}

func NewFileDiskManager(fileName string) *FileDiskManager {
	fi, err := directio.OpenFile(fileName, os.O_CREATE|os.O_RDWR|os.O_SYNC, 0644)
	if err != nil {
		log.WithError(err).Fatalf("Cannot open file.")
	}
	return &FileDiskManager{
		fileName: fileName,
		fi:       fi,
	}
}

func (dm *FileDiskManager) Close() error {
	return dm.fi.Close()
}

// ReadPage reads a page into data. A page that has never been written
// reads back as zeroes, so a freshly allocated id is always readable.
func (dm *FileDiskManager) ReadPage(pageId common.PageId, data []byte) error {
	if pageId < 0 {
		return errors.Errorf("page id %d is negative", pageId)
	}
	if len(data) != common.PageSize {
		return errors.Errorf("buffer length %d is not a page", len(data))
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()

	offset := int64(pageId) * common.PageSize
	size, err := dm.getFileSize()
	if err != nil {
		return err
	}
	if offset >= size {
		for i := range data {
			data[i] = 0
		}
		return nil
	}
	if _, err := dm.fi.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	if n, err := dm.fi.Read(data); err != nil {
		return err
	} else if n < common.PageSize {
		return errors.Errorf("read %d bytes of page %d, less than a page", n, pageId)
	}
	return nil
}

func (dm *FileDiskManager) WritePage(pageId common.PageId, data []byte) error {
	if pageId < 0 {
		return errors.Errorf("page id %d is negative", pageId)
	}
	if len(data) != common.PageSize {
		return errors.Errorf("buffer length %d is not a page", len(data))
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()

	offset := int64(pageId) * common.PageSize
	if _, err := dm.fi.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	if _, err := dm.fi.Write(data); err != nil {
		return errors.Wrapf(err, "write page %d", pageId)
	}
	return nil
}

func (dm *FileDiskManager) getFileSize() (int64, error) {
	stat, err := dm.fi.Stat()
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

// MemoryDiskManager keeps pages in a map. Used by tests.
type MemoryDiskManager struct {
	pages map[common.PageId][]byte
	mu    sync.Mutex
}

func NewMemoryDiskManager() *MemoryDiskManager {
	return &MemoryDiskManager{
		pages: make(map[common.PageId][]byte),
	}
}

func (dm *MemoryDiskManager) ReadPage(pageId common.PageId, data []byte) error {
	if pageId < 0 {
		return errors.Errorf("page id %d is negative", pageId)
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()

	stored, ok := dm.pages[pageId]
	if !ok {
		for i := range data {
			data[i] = 0
		}
		return nil
	}
	copy(data, stored)
	return nil
}

func (dm *MemoryDiskManager) WritePage(pageId common.PageId, data []byte) error {
	if pageId < 0 {
		return errors.Errorf("page id %d is negative", pageId)
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	dm.pages[pageId] = stored
	return nil
}

func (dm *MemoryDiskManager) Close() error { return nil }
