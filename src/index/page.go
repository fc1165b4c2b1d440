package index

import (
	"math"
	"unsafe"

	log "github.com/sirupsen/logrus"

	"toy-db-golang/src/common"
)

type indexPageType int32

const (
	pageTypeInvalid indexPageType = iota
	pageTypeLeaf
	pageTypeInternal
)

// headerPage stores the root of one named tree so the root can move
// without any coordination outside the buffer pool.
type headerPage struct {
	rootPageId common.PageId
}

func createHeaderPage(data []byte) *headerPage {
	return (*headerPage)(unsafe.Pointer(&data[0]))
}

func (hdr *headerPage) init() {
	hdr.rootPageId = common.InvalidPageId
}

// nodeHeader is the common prefix of internal and leaf pages. The pad
// keeps the slot arrays 8-byte aligned.
type nodeHeader struct {
	pageType indexPageType
	size     int32
	maxSize  int32
	pad      int32
}

func createNodeHeader(data []byte) *nodeHeader {
	return (*nodeHeader)(unsafe.Pointer(&data[0]))
}

func (nh *nodeHeader) isLeaf() bool {
	return nh.pageType == pageTypeLeaf
}

type internalEntry struct {
	key   common.Key
	child common.PageId
	_     int32
}

type leafEntry struct {
	key common.Key
	rid common.RID
}

const (
	internalEntrySize = int(unsafe.Sizeof(internalEntry{}))
	leafEntrySize     = int(unsafe.Sizeof(leafEntry{}))
)

// internalPage holds size pairs (key, child). Slot 0's key is unused: the
// i-th child covers keys in [key_i, key_{i+1}).
type internalPage struct {
	pageType indexPageType
	size     int32
	maxSize  int32
	pad      int32
	ptr      struct{}
}

func createInternalPage(data []byte) *internalPage {
	return (*internalPage)(unsafe.Pointer(&data[0]))
}

func (ip *internalPage) init(maxSize int32) {
	headerSize := int(unsafe.Offsetof(ip.ptr))
	if headerSize+int(maxSize)*internalEntrySize > common.PageSize {
		log.Fatalf("Internal page cannot hold %d entries.", maxSize)
	}
	ip.pageType = pageTypeInternal
	ip.size = 0
	ip.maxSize = maxSize
}

func (ip *internalPage) entrySlice() []internalEntry {
	return (*(*[math.MaxInt32 / 16]internalEntry)(unsafe.Pointer(&ip.ptr)))[:int(ip.maxSize)]
}

func (ip *internalPage) keyAt(i int32) common.Key {
	return ip.entrySlice()[i].key
}

func (ip *internalPage) childAt(i int32) common.PageId {
	return ip.entrySlice()[i].child
}

func (ip *internalPage) setEntryAt(i int32, key common.Key, child common.PageId) {
	entries := ip.entrySlice()
	entries[i].key = key
	entries[i].child = child
}

// childIndexFor locates the child covering key: the slot immediately left
// of the first pivot strictly greater than key.
func (ip *internalPage) childIndexFor(key common.Key, cmp common.KeyComparator) int32 {
	idx := int32(1)
	for ; idx < ip.size; idx++ {
		if cmp(key, ip.keyAt(idx)) < 0 {
			break
		}
	}
	return idx - 1
}

// insertEntry places (key, child) in pivot order. The caller must have
// checked there is room.
func (ip *internalPage) insertEntry(key common.Key, child common.PageId, cmp common.KeyComparator) {
	if ip.size >= ip.maxSize {
		log.Fatalf("Inserting into a full internal page.")
	}
	pos := int32(1)
	for ; pos < ip.size; pos++ {
		if cmp(key, ip.keyAt(pos)) < 0 {
			break
		}
	}
	entries := ip.entrySlice()
	copy(entries[pos+1:ip.size+1], entries[pos:ip.size])
	entries[pos] = internalEntry{key: key, child: child}
	ip.size++
}

// leafPage holds up to maxSize-1 pairs (key, rid) plus the id of the next
// leaf in key order.
type leafPage struct {
	pageType   indexPageType
	size       int32
	maxSize    int32
	nextPageId common.PageId
	ptr        struct{}
}

func createLeafPage(data []byte) *leafPage {
	return (*leafPage)(unsafe.Pointer(&data[0]))
}

func (lp *leafPage) init(maxSize int32) {
	headerSize := int(unsafe.Offsetof(lp.ptr))
	if headerSize+int(maxSize)*leafEntrySize > common.PageSize {
		log.Fatalf("Leaf page cannot hold %d entries.", maxSize)
	}
	lp.pageType = pageTypeLeaf
	lp.size = 0
	lp.maxSize = maxSize
	lp.nextPageId = common.InvalidPageId
}

func (lp *leafPage) entrySlice() []leafEntry {
	return (*(*[math.MaxInt32 / 16]leafEntry)(unsafe.Pointer(&lp.ptr)))[:int(lp.maxSize)]
}

func (lp *leafPage) keyAt(i int32) common.Key {
	return lp.entrySlice()[i].key
}

func (lp *leafPage) ridAt(i int32) common.RID {
	return lp.entrySlice()[i].rid
}

func (lp *leafPage) pushBack(key common.Key, rid common.RID) {
	lp.entrySlice()[lp.size] = leafEntry{key: key, rid: rid}
	lp.size++
}

func (lp *leafPage) contains(key common.Key, cmp common.KeyComparator) bool {
	for i := int32(0); i < lp.size; i++ {
		if cmp(key, lp.keyAt(i)) == 0 {
			return true
		}
	}
	return false
}

// insert places (key, rid) in key order. Returns false on a duplicate key.
// The caller must have checked there is room.
func (lp *leafPage) insert(key common.Key, rid common.RID, cmp common.KeyComparator) bool {
	if lp.size >= lp.maxSize-1 {
		log.Fatalf("Inserting into a full leaf page.")
	}
	pos := int32(0)
	for ; pos < lp.size; pos++ {
		c := cmp(key, lp.keyAt(pos))
		if c == 0 {
			return false
		}
		if c < 0 {
			break
		}
	}
	entries := lp.entrySlice()
	copy(entries[pos+1:lp.size+1], entries[pos:lp.size])
	entries[pos] = leafEntry{key: key, rid: rid}
	lp.size++
	return true
}
