package table

import (
	"math/rand"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"toy-db-golang/src/common"
	"toy-db-golang/src/disk"
)

func TestNewTableHeap(t *testing.T) {
	bufferPoolManager := disk.NewBufferPoolManager(8, disk.NewMemoryDiskManager(), 2)
	defer bufferPoolManager.Close()

	NewTableHeap(bufferPoolManager, true)

	dirGuard := bufferPoolManager.FetchPageRead(heapDirectoryPageId)
	require.True(t, dirGuard.Valid())
	require.Equal(t, int32(0), createHeapDirectory(dirGuard.Data()).entryCount)
	dirGuard.Drop()
}

// checkHeapContents asserts the directory's free-space bookkeeping and
// that every surviving record reads back intact.
func checkHeapContents(t *testing.T, heap *TableHeap, allData [][]byte, allRIDs []common.RID) {
	dirGuard := heap.bufferPoolManager.FetchPageRead(heapDirectoryPageId)
	require.True(t, dirGuard.Valid())
	dirEntries := make([]directoryEntry, len(createHeapDirectory(dirGuard.Data()).entries()))
	copy(dirEntries, createHeapDirectory(dirGuard.Data()).entries())
	dirGuard.Drop()

	for _, entry := range dirEntries {
		pageGuard := heap.bufferPoolManager.FetchPageRead(entry.pageId)
		require.True(t, pageGuard.Valid())
		require.Equal(t, entry.freeSpace, createRecordPage(pageGuard.Data()).freeSpaceForInsert())
		pageGuard.Drop()
	}

	for i, rid := range allRIDs {
		data, found := heap.Get(rid)
		require.True(t, found)
		require.Equal(t, allData[i], data)
	}
}

func insertDeleteUtilsFunc(heap *TableHeap, total int, insertProb float64) ([][]byte, []common.RID) {
	allData := make([][]byte, 0)
	allRIDs := make([]common.RID, 0)
	for i := 0; i < total; i++ {
		isInsert := (rand.Float64() <= insertProb) || (len(allRIDs) == 0)
		if isInsert {
			length := rand.Intn(512) + 1
			randStr := make([]byte, length)
			rand.Read(randStr)
			rid := heap.Insert(randStr)
			allData = append(allData, randStr)
			allRIDs = append(allRIDs, rid)
		} else { // is delete
			idx := rand.Intn(len(allRIDs))
			heap.Delete(allRIDs[idx])

			allData = append(allData[:idx], allData[idx+1:]...)
			allRIDs = append(allRIDs[:idx], allRIDs[idx+1:]...)
		}
	}
	return allData, allRIDs
}

func TestTableHeap_Insert(t *testing.T) {
	defer os.Remove("test.db")

	allData := make([][]byte, 0)
	allRIDs := make([]common.RID, 0)

	diskManager := disk.NewFileDiskManager("test.db")
	bufferPoolManager := disk.NewBufferPoolManager(8, diskManager, 2)
	heap := NewTableHeap(bufferPoolManager, true)

	for i := 0; i < 100; i++ {
		length := rand.Intn(512) + 1
		randStr := make([]byte, length)
		rand.Read(randStr)
		rid := heap.Insert(randStr)
		allData = append(allData, randStr)
		allRIDs = append(allRIDs, rid)
	}
	checkHeapContents(t, heap, allData, allRIDs)
	bufferPoolManager.Close()
	require.Nil(t, diskManager.Close())

	// Test durability
	secondDiskManager := disk.NewFileDiskManager("test.db")
	secondBufferPoolManager := disk.NewBufferPoolManager(8, secondDiskManager, 2)
	secondHeap := NewTableHeap(secondBufferPoolManager, false)
	checkHeapContents(t, secondHeap, allData, allRIDs)
	secondBufferPoolManager.Close()
	require.Nil(t, secondDiskManager.Close())
}

func TestTableHeap_DeletedRecordsStayGone(t *testing.T) {
	bufferPoolManager := disk.NewBufferPoolManager(8, disk.NewMemoryDiskManager(), 2)
	defer bufferPoolManager.Close()
	heap := NewTableHeap(bufferPoolManager, true)

	first := heap.Insert([]byte("first"))
	second := heap.Insert([]byte("second"))

	require.True(t, heap.Delete(first))
	_, found := heap.Get(first)
	require.False(t, found)
	require.False(t, heap.Delete(first)) // already tombstoned

	// Pages missing from the directory are rejected without being fetched.
	require.False(t, heap.Delete(common.RID{PageId: common.PageId(99), SlotNum: 0}))
	_, found = heap.Get(common.RID{PageId: common.PageId(99), SlotNum: 0})
	require.False(t, found)

	data, found := heap.Get(second)
	require.True(t, found)
	require.Equal(t, []byte("second"), data)

	// The freed slot is handed to a later insert.
	third := heap.Insert([]byte("third"))
	require.Equal(t, first, third)
}

func TestTableHeap_Insert_Delete_Mixed(t *testing.T) {
	defer os.Remove("test.db")

	diskManager := disk.NewFileDiskManager("test.db")
	bufferPoolManager := disk.NewBufferPoolManager(8, diskManager, 2)
	heap := NewTableHeap(bufferPoolManager, true)
	allData, allRIDs := insertDeleteUtilsFunc(heap, 100, 0.70)

	checkHeapContents(t, heap, allData, allRIDs)
	bufferPoolManager.Close()
	require.Nil(t, diskManager.Close())

	// Test durability
	secondDiskManager := disk.NewFileDiskManager("test.db")
	secondBufferPoolManager := disk.NewBufferPoolManager(8, secondDiskManager, 2)
	secondHeap := NewTableHeap(secondBufferPoolManager, false)
	checkHeapContents(t, secondHeap, allData, allRIDs)
	secondBufferPoolManager.Close()
	require.Nil(t, secondDiskManager.Close())
}

func TestTableHeap_Insert_Delete_Concurrent(t *testing.T) {
	bufferPoolManager := disk.NewBufferPoolManager(16, disk.NewMemoryDiskManager(), 2)
	defer bufferPoolManager.Close()
	heap := NewTableHeap(bufferPoolManager, true)

	allData := make([][]byte, 0)
	allRIDs := make([]common.RID, 0)
	var wg sync.WaitGroup
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			partialData, partialRIDs := insertDeleteUtilsFunc(heap, 100, 0.7)
			mu.Lock()
			allData = append(allData, partialData...)
			allRIDs = append(allRIDs, partialRIDs...)
			mu.Unlock()
			wg.Done()
		}()
	}
	wg.Wait()
	checkHeapContents(t, heap, allData, allRIDs)
}
