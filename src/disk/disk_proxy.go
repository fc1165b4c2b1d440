package disk

import (
	"sync"

	"github.com/ncw/directio"
	log "github.com/sirupsen/logrus"

	"toy-db-golang/src/common"
)

// DiskRequest is one unit of work for a page scheduler. The data buffer is
// owned by the request; for writes it is a snapshot of the page taken at
// enqueue time.
type DiskRequest struct {
	isWrite bool
	pageId  common.PageId
	data    []byte
}

func NewWriteRequest(pageId common.PageId, data []byte) *DiskRequest {
	snapshot := directio.AlignedBlock(common.PageSize)
	copy(snapshot, data)
	return &DiskRequest{
		isWrite: true,
		pageId:  pageId,
		data:    snapshot,
	}
}

func NewReadRequest(pageId common.PageId) *DiskRequest {
	return &DiskRequest{
		isWrite: false,
		pageId:  pageId,
		data:    directio.AlignedBlock(common.PageSize),
	}
}

// requestQueue is an unbounded FIFO shared by one producer side and one
// worker. A nil request is the shutdown sentinel. The queue has its own
// lock so the tail can be inspected without waking the worker.
type requestQueue struct {
	mu       sync.Mutex
	nonEmpty *sync.Cond
	items    []*DiskRequest
}

func newRequestQueue() *requestQueue {
	q := &requestQueue{}
	q.nonEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *requestQueue) put(r *DiskRequest) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
	q.nonEmpty.Signal()
}

func (q *requestQueue) get() *DiskRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		q.nonEmpty.Wait()
	}
	r := q.items[0]
	q.items = q.items[1:]
	return r
}

func (q *requestQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// last returns the most recently enqueued request without removing it.
func (q *requestQueue) last() (*DiskRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	r := q.items[len(q.items)-1]
	if r == nil {
		return nil, false
	}
	return r, true
}

// pageScheduler drains the requests of a single page in FIFO order on a
// background goroutine. After draining the last pending request it mirrors
// that request's bytes into its cache, so later reads of the page can be
// served without touching the device.
//
// cacheValid and cacheData are guarded by the owning proxy's mutex, which
// the worker takes only for the brief cache update.
type pageScheduler struct {
	queue       *requestQueue
	cacheValid  bool
	cacheData   []byte
	diskManager DiskManager
	proxyMu     *sync.Mutex
	done        chan struct{}
}

func newPageScheduler(diskManager DiskManager, proxyMu *sync.Mutex) *pageScheduler {
	s := &pageScheduler{
		queue:       newRequestQueue(),
		cacheData:   directio.AlignedBlock(common.PageSize),
		diskManager: diskManager,
		proxyMu:     proxyMu,
		done:        make(chan struct{}),
	}
	go s.backgroundWork()
	return s
}

func (s *pageScheduler) schedule(r *DiskRequest) {
	s.queue.put(r)
}

func (s *pageScheduler) backgroundWork() {
	for {
		request := s.queue.get()
		if request == nil {
			close(s.done)
			return
		}
		if request.isWrite {
			if err := s.diskManager.WritePage(request.pageId, request.data); err != nil {
				log.WithError(err).Fatalf("Cannot write page %d back.", request.pageId)
			}
		} else {
			if err := s.diskManager.ReadPage(request.pageId, request.data); err != nil {
				log.WithError(err).Fatalf("Cannot read page %d from disk.", request.pageId)
			}
		}
		// The emptiness check happens under the proxy lock: writers
		// invalidate the cache and enqueue while holding it, so the
		// cache can never be validated against a superseded request.
		s.proxyMu.Lock()
		if s.queue.size() == 0 {
			copy(s.cacheData, request.data)
			s.cacheValid = true
		}
		s.proxyMu.Unlock()
	}
}

// shutdown posts the sentinel and waits for the worker to exit.
func (s *pageScheduler) shutdown() {
	s.queue.put(nil)
	<-s.done
}

// DiskProxy decouples the buffer pool from the block device. Writes are
// enqueued per page and drained by background workers; reads issued after
// a write of the same page observe the written bytes immediately, either
// from the scheduler cache or from the pending queue tail.
type DiskProxy struct {
	mu          sync.Mutex
	schedulers  map[common.PageId]*pageScheduler
	diskManager DiskManager
}

func NewDiskProxy(diskManager DiskManager) *DiskProxy {
	return &DiskProxy{
		schedulers:  make(map[common.PageId]*pageScheduler),
		diskManager: diskManager,
	}
}

// WriteToDisk enqueues the request and returns immediately. Write order
// per page is the enqueue order.
func (dp *DiskProxy) WriteToDisk(r *DiskRequest) {
	dp.mu.Lock()
	defer dp.mu.Unlock()

	scheduler, ok := dp.schedulers[r.pageId]
	if !ok {
		scheduler = newPageScheduler(dp.diskManager, &dp.mu)
		dp.schedulers[r.pageId] = scheduler
	}
	// The cache mirrors drained requests only; a new write invalidates it.
	// Enqueueing under the proxy lock keeps the invalidation and the
	// worker's cache update mutually ordered.
	scheduler.cacheValid = false
	scheduler.schedule(r)
}

// ReadFromDisk copies the current bytes of the page into data. The most
// recently submitted write wins, even if the worker has not drained it.
func (dp *DiskProxy) ReadFromDisk(pageId common.PageId, data []byte) {
	dp.mu.Lock()
	defer dp.mu.Unlock()

	scheduler, ok := dp.schedulers[pageId]
	if !ok {
		if err := dp.diskManager.ReadPage(pageId, data); err != nil {
			log.WithError(err).Fatalf("Cannot read page %d from disk.", pageId)
		}
		return
	}
	if scheduler.cacheValid {
		copy(data, scheduler.cacheData)
		return
	}
	if last, ok := scheduler.queue.last(); ok {
		copy(data, last.data)
		return
	}
	if err := dp.diskManager.ReadPage(pageId, data); err != nil {
		log.WithError(err).Fatalf("Cannot read page %d from disk.", pageId)
	}
}

// Clear quiesces every scheduler. Pending requests are drained before the
// workers exit.
func (dp *DiskProxy) Clear() {
	dp.mu.Lock()
	schedulers := make([]*pageScheduler, 0, len(dp.schedulers))
	for _, scheduler := range dp.schedulers {
		schedulers = append(schedulers, scheduler)
	}
	dp.schedulers = make(map[common.PageId]*pageScheduler)
	dp.mu.Unlock()

	for _, scheduler := range schedulers {
		scheduler.shutdown()
	}
}
