package table

import (
	"math"
	"unsafe"

	"toy-db-golang/src/common"
)

// RecordPage is a slotted data page. The slot directory grows from the
// front, record bytes grow down from the back, and freeEnd marks where the
// record area currently begins. A deleted record leaves a tombstone slot
// (length 0) that later inserts may reclaim; the record bytes themselves
// are not compacted.
type RecordPage struct {
	pageId    common.PageId
	slotCount int32
	freeEnd   int32
	ptr       struct{}
}

type recordSlot struct {
	offset int32
	length int32
}

const (
	recordSlotSize       = int32(unsafe.Sizeof(recordSlot{}))
	recordPageHeaderSize = int32(unsafe.Offsetof(RecordPage{}.ptr))
)

func createRecordPage(data []byte) *RecordPage {
	return (*RecordPage)(unsafe.Pointer(&data[0]))
}

func (rp *RecordPage) init(pageId common.PageId) {
	rp.pageId = pageId
	rp.slotCount = 0
	rp.freeEnd = common.PageSize
}

func (rp *RecordPage) slots() []recordSlot {
	return (*(*[math.MaxInt32 / 8]recordSlot)(unsafe.Pointer(&rp.ptr)))[:int(rp.slotCount)]
}

func (rp *RecordPage) rawBytes() []byte {
	return (*[math.MaxInt32]byte)(unsafe.Pointer(rp))[:common.PageSize]
}

// findTombstone returns the first reusable slot, if any.
func (rp *RecordPage) findTombstone() (int32, bool) {
	for i, slot := range rp.slots() {
		if slot.length == 0 {
			return int32(i), true
		}
	}
	return 0, false
}

// freeSpace is the gap between the slot directory and the record area.
func (rp *RecordPage) freeSpace() int32 {
	return rp.freeEnd - recordPageHeaderSize - rp.slotCount*recordSlotSize
}

// freeSpaceForInsert is the largest record the page is guaranteed to take,
// assuming the insert needs a fresh slot.
func (rp *RecordPage) freeSpaceForInsert() int32 {
	return rp.freeSpace() - recordSlotSize
}

// Insert stores the record and returns its id. A tombstone slot is reused
// when one exists; otherwise the directory grows by one slot.
func (rp *RecordPage) Insert(record []byte) (common.RID, bool) {
	recordLen := int32(len(record))
	slotIdx, reuse := rp.findTombstone()
	needed := recordLen
	if !reuse {
		needed += recordSlotSize
	}
	if rp.freeSpace() < needed {
		return common.RID{}, false
	}

	rp.freeEnd -= recordLen
	copy(rp.rawBytes()[rp.freeEnd:rp.freeEnd+recordLen], record)
	if !reuse {
		slotIdx = rp.slotCount
		rp.slotCount++
	}
	rp.slots()[slotIdx] = recordSlot{offset: rp.freeEnd, length: recordLen}
	return common.RID{PageId: rp.pageId, SlotNum: slotIdx}, true
}

// Delete tombstones the record's slot. The record bytes stay where they
// are until the page is rewritten.
func (rp *RecordPage) Delete(rid common.RID) bool {
	if rid.SlotNum < 0 || rid.SlotNum >= rp.slotCount {
		return false
	}
	slots := rp.slots()
	if slots[rid.SlotNum].length == 0 {
		return false
	}
	slots[rid.SlotNum] = recordSlot{}
	return true
}

func (rp *RecordPage) Get(rid common.RID) ([]byte, bool) {
	if rid.SlotNum < 0 || rid.SlotNum >= rp.slotCount {
		return nil, false
	}
	slot := rp.slots()[rid.SlotNum]
	if slot.length == 0 {
		return nil, false
	}
	record := make([]byte, slot.length)
	copy(record, rp.rawBytes()[slot.offset:slot.offset+slot.length])
	return record, true
}
