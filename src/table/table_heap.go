package table

import (
	"math"
	"unsafe"

	log "github.com/sirupsen/logrus"

	"toy-db-golang/src/common"
	"toy-db-golang/src/disk"
)

const (
	// The heap directory is the first page a fresh pool allocates.
	heapDirectoryPageId = common.PageId(0)
)

// heapDirectory is the overlay of the heap's first page: one entry per
// data page with the free space the page last reported. Bounded by what
// fits in a single page; a heap that outgrows it needs a directory chain.
type heapDirectory struct {
	entryCount int32
	ptr        struct{}
}

type directoryEntry struct {
	pageId    common.PageId
	freeSpace int32
}

const (
	directoryEntrySize  = int32(unsafe.Sizeof(directoryEntry{}))
	maxDirectoryEntries = (common.PageSize - int32(unsafe.Offsetof(heapDirectory{}.ptr))) / directoryEntrySize
)

func createHeapDirectory(data []byte) *heapDirectory {
	return (*heapDirectory)(unsafe.Pointer(&data[0]))
}

func (dir *heapDirectory) init() {
	dir.entryCount = 0
}

func (dir *heapDirectory) entries() []directoryEntry {
	return (*(*[math.MaxInt32 / 8]directoryEntry)(unsafe.Pointer(&dir.ptr)))[:int(dir.entryCount)]
}

func (dir *heapDirectory) contains(pageId common.PageId) bool {
	for _, entry := range dir.entries() {
		if entry.pageId == pageId {
			return true
		}
	}
	return false
}

func (dir *heapDirectory) updateFreeSpace(pageId common.PageId, freeSpace int32) {
	entries := dir.entries()
	for i := range entries {
		if entries[i].pageId == pageId {
			entries[i].freeSpace = freeSpace
			return
		}
	}
}

func (dir *heapDirectory) addPage(pageId common.PageId, freeSpace int32) {
	if dir.entryCount >= maxDirectoryEntries {
		log.Fatalf("Heap directory is full at %d pages.", dir.entryCount)
	}
	dir.entryCount++
	dir.entries()[dir.entryCount-1] = directoryEntry{pageId: pageId, freeSpace: freeSpace}
}

// TableHeap is an unordered record file: a directory page listing data
// pages and their free space, and slotted record pages holding the
// records. All page access goes through page guards.
type TableHeap struct {
	bufferPoolManager *disk.BufferPoolManager
}

func NewTableHeap(bufferPoolManager *disk.BufferPoolManager, isNew bool) *TableHeap {
	th := &TableHeap{
		bufferPoolManager: bufferPoolManager,
	}
	if isNew {
		guard := bufferPoolManager.NewPageGuarded()
		if !guard.Valid() {
			log.Fatalf("Cannot create heap directory page.")
		}
		if guard.PageId() != heapDirectoryPageId {
			log.Fatalf("Unexpected: heap directory page id is not %d.", heapDirectoryPageId)
		}
		createHeapDirectory(guard.DataMut()).init()
		guard.Drop()
	}
	return th
}

// Insert places the record in the first page whose reported free space
// fits it, allocating a new record page when none does. Retries when a
// page fills up concurrently between the directory lookup and the insert.
func (th *TableHeap) Insert(record []byte) common.RID {
	for {
		if rid, ok := th.tryInsert(record); ok {
			return rid
		}
	}
}

func (th *TableHeap) tryInsert(record []byte) (common.RID, bool) {
	dirGuard := th.bufferPoolManager.FetchPageRead(heapDirectoryPageId)
	if !dirGuard.Valid() {
		log.Fatalf("Cannot fetch heap directory page.")
	}
	for _, entry := range createHeapDirectory(dirGuard.Data()).entries() {
		if int(entry.freeSpace) < len(record) {
			continue
		}
		dirGuard.Drop()
		rid, ok := th.insertIntoPage(record, entry.pageId)
		if !ok {
			log.Warnf("Insert a record of length %d into page %d failed.", len(record), entry.pageId)
		}
		return rid, ok
	}
	dirGuard.Drop()

	// No page fits; start a new one.
	newPageGuard := th.bufferPoolManager.NewPageGuarded()
	if !newPageGuard.Valid() {
		log.Fatalf("Cannot allocate new record page.")
	}
	defer newPageGuard.Drop()

	recordPage := createRecordPage(newPageGuard.DataMut())
	recordPage.init(newPageGuard.PageId())
	rid, _ := recordPage.Insert(record) // must be successful

	writeDirGuard := th.bufferPoolManager.FetchPageWrite(heapDirectoryPageId)
	if !writeDirGuard.Valid() {
		log.Fatalf("Cannot fetch heap directory page.")
	}
	defer writeDirGuard.Drop()
	createHeapDirectory(writeDirGuard.DataMut()).addPage(newPageGuard.PageId(), recordPage.freeSpaceForInsert())
	return rid, true
}

func (th *TableHeap) insertIntoPage(record []byte, pageId common.PageId) (common.RID, bool) {
	pageGuard := th.bufferPoolManager.FetchPageWrite(pageId)
	if !pageGuard.Valid() {
		log.Fatalf("Cannot fetch page %d.", pageId)
	}
	defer pageGuard.Drop()

	recordPage := createRecordPage(pageGuard.Data())
	rid, ok := recordPage.Insert(record)
	if !ok {
		return common.RID{}, false
	}
	pageGuard.MarkDirty()

	dirGuard := th.bufferPoolManager.FetchPageWrite(heapDirectoryPageId)
	if !dirGuard.Valid() {
		log.Fatalf("Cannot fetch heap directory page.")
	}
	defer dirGuard.Drop()
	createHeapDirectory(dirGuard.DataMut()).updateFreeSpace(pageId, recordPage.freeSpaceForInsert())
	return rid, true
}

// Delete tombstones the record. The page keeps its bytes, so the
// directory's free-space entry does not change.
func (th *TableHeap) Delete(rid common.RID) bool {
	dirGuard := th.bufferPoolManager.FetchPageRead(heapDirectoryPageId)
	if !dirGuard.Valid() {
		log.Fatalf("Cannot fetch heap directory page.")
	}
	known := createHeapDirectory(dirGuard.Data()).contains(rid.PageId)
	dirGuard.Drop()
	if !known {
		return false
	}

	pageGuard := th.bufferPoolManager.FetchPageWrite(rid.PageId)
	if !pageGuard.Valid() {
		log.Fatalf("Unexpected page %d not found.", rid.PageId)
	}
	defer pageGuard.Drop()

	if !createRecordPage(pageGuard.Data()).Delete(rid) {
		return false
	}
	pageGuard.MarkDirty()
	return true
}

func (th *TableHeap) Get(rid common.RID) ([]byte, bool) {
	dirGuard := th.bufferPoolManager.FetchPageRead(heapDirectoryPageId)
	if !dirGuard.Valid() {
		log.Fatalf("Cannot fetch heap directory page.")
	}
	known := createHeapDirectory(dirGuard.Data()).contains(rid.PageId)
	dirGuard.Drop()
	if !known {
		return nil, false
	}

	pageGuard := th.bufferPoolManager.FetchPageRead(rid.PageId)
	if !pageGuard.Valid() {
		log.Fatalf("Unexpected page %d not found.", rid.PageId)
	}
	defer pageGuard.Drop()
	return createRecordPage(pageGuard.Data()).Get(rid)
}
