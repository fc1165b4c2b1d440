package disk

import (
	"container/list"
	"sync"

	"github.com/ncw/directio"
	log "github.com/sirupsen/logrus"

	"toy-db-golang/src/common"
)

// BufferPoolManager caches disk pages in a fixed array of frames. A single
// mutex serializes all metadata mutations; page I/O is delegated to the
// disk proxy. Writebacks are only enqueued there, but a fetch of a page the
// proxy holds no bytes for reads the device synchronously while the pool
// mutex is held.
type BufferPoolManager struct {
	size       int
	pages      []Page
	replacer   Replacer
	freeList   list.List
	pageTable  map[common.PageId]int
	diskProxy  *DiskProxy
	nextPageId common.PageId
	mu         sync.Mutex
}

func NewBufferPoolManager(size int, diskManager DiskManager, replacerK int) *BufferPoolManager {
	bpm := &BufferPoolManager{
		size:      size,
		pages:     make([]Page, size),
		replacer:  NewLRUKReplacer(replacerK),
		pageTable: make(map[common.PageId]int),
		diskProxy: NewDiskProxy(diskManager),
	}
	for i := 0; i < size; i++ {
		bpm.pages[i] = Page{
			data:     directio.AlignedBlock(common.PageSize),
			pageId:   common.InvalidPageId,
			pinCount: 0,
			isDirty:  false,
		}
		bpm.freeList.PushBack(i)
	}
	return bpm
}

// Close quiesces the disk proxy. Dirty resident pages are flushed first.
func (bpm *BufferPoolManager) Close() {
	bpm.FlushAllPages()
	bpm.diskProxy.Clear()
}

func (bpm *BufferPoolManager) PoolSize() int { return bpm.size }

// Pages exposes the frame array for tests.
func (bpm *BufferPoolManager) Pages() []Page { return bpm.pages }

func (bpm *BufferPoolManager) NewPage() (*Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameId, found := bpm.findAvailableFrame()
	if !found {
		log.Warnf("Buffer pool is full.")
		return nil, ErrBufferPoolFull
	}
	page := &bpm.pages[frameId]
	newPageId := bpm.allocatePage()

	page.resetMemory()
	page.pageId = newPageId
	page.pinCount = 1
	page.isDirty = false
	bpm.pageTable[newPageId] = frameId

	bpm.replacer.RecordAccess(frameId, AccessUnknown)
	bpm.replacer.SetEvictable(frameId, false)
	return page, nil
}

func (bpm *BufferPoolManager) FetchPage(pageId common.PageId, accessType AccessType) (*Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if frameId, ok := bpm.pageTable[pageId]; ok {
		page := &bpm.pages[frameId]
		page.pinCount++
		bpm.replacer.RecordAccess(frameId, accessType)
		bpm.replacer.SetEvictable(frameId, false)
		pageHits.Inc()
		return page, nil
	}

	frameId, found := bpm.findAvailableFrame()
	if !found {
		log.Warnf("Buffer pool is full.")
		return nil, ErrBufferPoolFull
	}
	page := &bpm.pages[frameId]
	page.resetMemory()
	page.pageId = pageId
	page.pinCount = 1
	page.isDirty = false
	bpm.pageTable[pageId] = frameId

	bpm.diskProxy.ReadFromDisk(pageId, page.data)

	bpm.replacer.RecordAccess(frameId, accessType)
	bpm.replacer.SetEvictable(frameId, false)
	pageMisses.Inc()
	return page, nil
}

// UnpinPage releases one pin. is_dirty=true sets the frame's dirty flag;
// false never clears one set earlier.
func (bpm *BufferPoolManager) UnpinPage(pageId common.PageId, isDirty bool, accessType AccessType) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameId, ok := bpm.pageTable[pageId]
	if !ok {
		log.Warnf("Trying to unpin page %d, but the page is not in the buffer.", pageId)
		return false
	}
	page := &bpm.pages[frameId]
	if page.pinCount <= 0 {
		log.Warnf("Trying to unpin page %d, but page's pin count is zero.", pageId)
		return false
	}
	page.pinCount--
	page.isDirty = page.isDirty || isDirty
	if page.pinCount == 0 {
		bpm.replacer.SetEvictable(frameId, true)
	}
	return true
}

// FlushPage submits a writeback regardless of the dirty flag and clears
// it. The call does not wait for the worker to drain the request.
func (bpm *BufferPoolManager) FlushPage(pageId common.PageId) bool {
	if pageId == common.InvalidPageId {
		log.Fatalf("Flushing the invalid page id.")
	}
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameId, ok := bpm.pageTable[pageId]
	if !ok {
		log.Warnf("Page %d is not in buffer. Cannot flush page.", pageId)
		return false
	}
	page := &bpm.pages[frameId]
	bpm.diskProxy.WriteToDisk(NewWriteRequest(page.pageId, page.data))
	page.isDirty = false
	pageWritebacks.Inc()
	return true
}

func (bpm *BufferPoolManager) FlushAllPages() {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	for _, frameId := range bpm.pageTable {
		page := &bpm.pages[frameId]
		if !page.isDirty {
			continue
		}
		bpm.diskProxy.WriteToDisk(NewWriteRequest(page.pageId, page.data))
		page.isDirty = false
		pageWritebacks.Inc()
	}
}

// DeletePage drops a page from the pool. A page that is not resident is
// already deleted; a pinned page cannot be.
func (bpm *BufferPoolManager) DeletePage(pageId common.PageId) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameId, ok := bpm.pageTable[pageId]
	if !ok {
		return true
	}
	page := &bpm.pages[frameId]
	if page.pinCount > 0 {
		log.Warnf("Page %d is still pinned.", pageId)
		return false
	}
	delete(bpm.pageTable, pageId)
	bpm.replacer.Remove(frameId)
	bpm.freeList.PushBack(frameId)
	page.pageId = common.InvalidPageId
	page.pinCount = 0
	page.isDirty = false
	bpm.deallocatePage(pageId)
	return true
}

func (bpm *BufferPoolManager) FetchPageBasic(pageId common.PageId) BasicPageGuard {
	page, err := bpm.FetchPage(pageId, AccessUnknown)
	if err != nil {
		return BasicPageGuard{}
	}
	return newBasicPageGuard(bpm, page)
}

func (bpm *BufferPoolManager) FetchPageRead(pageId common.PageId) ReadPageGuard {
	page, err := bpm.FetchPage(pageId, AccessUnknown)
	if err != nil {
		return ReadPageGuard{}
	}
	page.RLock()
	return newReadPageGuard(bpm, page)
}

func (bpm *BufferPoolManager) FetchPageWrite(pageId common.PageId) WritePageGuard {
	page, err := bpm.FetchPage(pageId, AccessUnknown)
	if err != nil {
		return WritePageGuard{}
	}
	page.Lock()
	return newWritePageGuard(bpm, page)
}

func (bpm *BufferPoolManager) NewPageGuarded() BasicPageGuard {
	page, err := bpm.NewPage()
	if err != nil {
		return BasicPageGuard{}
	}
	return newBasicPageGuard(bpm, page)
}

// findAvailableFrame picks a frame from the free list first, then from the
// replacer. An evicted frame's dirty page is submitted to the disk proxy
// before the page table entry disappears.
func (bpm *BufferPoolManager) findAvailableFrame() (int, bool) {
	if bpm.freeList.Len() > 0 {
		elem := bpm.freeList.Front()
		bpm.freeList.Remove(elem)
		return elem.Value.(int), true
	}
	frameId, found := bpm.replacer.Evict()
	if !found {
		return 0, false
	}
	page := &bpm.pages[frameId]
	if page.isDirty {
		bpm.diskProxy.WriteToDisk(NewWriteRequest(page.pageId, page.data))
		page.isDirty = false
		pageWritebacks.Inc()
	}
	delete(bpm.pageTable, page.pageId)
	pageEvictions.Inc()
	return frameId, true
}

func (bpm *BufferPoolManager) allocatePage() common.PageId {
	pageId := bpm.nextPageId
	bpm.nextPageId++
	return pageId
}

func (bpm *BufferPoolManager) deallocatePage(pageId common.PageId) {
	// Page ids are assigned monotonically; nothing tracks holes yet.
}
