package index

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"toy-db-golang/src/common"
	"toy-db-golang/src/disk"
)

func newTestTree(t *testing.T, poolSize int, leafMaxSize, internalMaxSize int32) (*BPlusTree, *disk.BufferPoolManager) {
	bpm := disk.NewBufferPoolManager(poolSize, disk.NewMemoryDiskManager(), 2)
	headerGuard := bpm.NewPageGuarded()
	require.True(t, headerGuard.Valid())
	headerPageId := headerGuard.PageId()
	headerGuard.Drop()
	tree := NewBPlusTree("test_index", headerPageId, bpm, common.IntegerComparator, leafMaxSize, internalMaxSize)
	return tree, bpm
}

func ridForKey(key common.Key) common.RID {
	return common.RID{PageId: common.PageId(key), SlotNum: int32(key)}
}

func TestBPlusTree_Empty(t *testing.T) {
	tree, bpm := newTestTree(t, 16, 4, 4)
	defer bpm.Close()

	require.True(t, tree.IsEmpty())
	require.Equal(t, common.InvalidPageId, tree.GetRootPageId())
	_, found := tree.GetValue(common.Key(1))
	require.False(t, found)
}

func TestBPlusTree_InsertAndGet(t *testing.T) {
	tree, bpm := newTestTree(t, 16, 4, 4)
	defer bpm.Close()

	require.True(t, tree.Insert(common.Key(2), ridForKey(2)))
	require.False(t, tree.IsEmpty())
	require.True(t, tree.Insert(common.Key(1), ridForKey(1)))
	require.True(t, tree.Insert(common.Key(3), ridForKey(3)))

	for k := common.Key(1); k <= 3; k++ {
		rids, found := tree.GetValue(k)
		require.True(t, found)
		require.Equal(t, []common.RID{ridForKey(k)}, rids)
	}
	_, found := tree.GetValue(common.Key(4))
	require.False(t, found)

	// Duplicate keys are rejected without structural change.
	require.False(t, tree.Insert(common.Key(2), ridForKey(2)))
	rootPageId := tree.GetRootPageId()
	require.False(t, tree.Insert(common.Key(3), ridForKey(3)))
	require.Equal(t, rootPageId, tree.GetRootPageId())
}

func TestBPlusTree_LeafSplit(t *testing.T) {
	tree, bpm := newTestTree(t, 16, 4, 4)
	defer bpm.Close()

	for _, k := range []common.Key{10, 20, 30, 40} {
		require.True(t, tree.Insert(k, ridForKey(k)))
	}

	// The root is now an internal page with the single pivot 30.
	rootGuard := bpm.FetchPageBasic(tree.GetRootPageId())
	require.True(t, rootGuard.Valid())
	require.False(t, createNodeHeader(rootGuard.Data()).isLeaf())
	root := createInternalPage(rootGuard.Data())
	require.Equal(t, int32(2), root.size)
	require.Equal(t, common.Key(30), root.keyAt(1))

	leftId, rightId := root.childAt(0), root.childAt(1)
	rootGuard.Drop()

	leftGuard := bpm.FetchPageBasic(leftId)
	left := createLeafPage(leftGuard.Data())
	require.Equal(t, int32(2), left.size)
	require.Equal(t, common.Key(10), left.keyAt(0))
	require.Equal(t, common.Key(20), left.keyAt(1))
	require.Equal(t, rightId, left.nextPageId)
	leftGuard.Drop()

	rightGuard := bpm.FetchPageBasic(rightId)
	right := createLeafPage(rightGuard.Data())
	require.Equal(t, int32(2), right.size)
	require.Equal(t, common.Key(30), right.keyAt(0))
	require.Equal(t, common.Key(40), right.keyAt(1))
	require.Equal(t, common.InvalidPageId, right.nextPageId)
	rightGuard.Drop()

	_, found := tree.GetValue(common.Key(20))
	require.True(t, found)
	_, found = tree.GetValue(common.Key(25))
	require.False(t, found)
	_, found = tree.GetValue(common.Key(40))
	require.True(t, found)
}

func TestBPlusTree_RoundTrip(t *testing.T) {
	tree, bpm := newTestTree(t, 64, 4, 4)
	defer bpm.Close()

	keys := make([]common.Key, 0)
	for k := common.Key(0); k < 200; k++ {
		keys = append(keys, k)
	}
	rand.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

	for _, k := range keys {
		require.True(t, tree.Insert(k, ridForKey(k)), "insert key %d", k)
	}
	for _, k := range keys {
		rids, found := tree.GetValue(k)
		require.True(t, found, "get key %d", k)
		require.Equal(t, []common.RID{ridForKey(k)}, rids)
	}
	_, found := tree.GetValue(common.Key(200))
	require.False(t, found)
}

// leafKeys walks the next-leaf chain from the leftmost leaf and returns
// every key in encounter order.
func leafKeys(t *testing.T, tree *BPlusTree, bpm *disk.BufferPoolManager) []common.Key {
	pageId := tree.GetRootPageId()
	require.NotEqual(t, common.InvalidPageId, pageId)
	for {
		guard := bpm.FetchPageBasic(pageId)
		require.True(t, guard.Valid())
		if createNodeHeader(guard.Data()).isLeaf() {
			guard.Drop()
			break
		}
		next := createInternalPage(guard.Data()).childAt(0)
		guard.Drop()
		pageId = next
	}

	keys := make([]common.Key, 0)
	for pageId != common.InvalidPageId {
		guard := bpm.FetchPageBasic(pageId)
		require.True(t, guard.Valid())
		leaf := createLeafPage(guard.Data())
		for i := int32(0); i < leaf.size; i++ {
			keys = append(keys, leaf.keyAt(i))
		}
		pageId = leaf.nextPageId
		guard.Drop()
	}
	return keys
}

func TestBPlusTree_LeafChain(t *testing.T) {
	tree, bpm := newTestTree(t, 64, 4, 4)
	defer bpm.Close()

	keys := make([]common.Key, 0)
	for k := common.Key(0); k < 100; k++ {
		keys = append(keys, k)
	}
	rand.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	for _, k := range keys {
		require.True(t, tree.Insert(k, ridForKey(k)))
	}

	chained := leafKeys(t, tree, bpm)
	require.Equal(t, 100, len(chained))
	require.True(t, sort.SliceIsSorted(chained, func(i, j int) bool { return chained[i] < chained[j] }))
}

func TestBPlusTree_SmallFanout(t *testing.T) {
	// The smallest workable fanout forces splits on nearly every insert.
	tree, bpm := newTestTree(t, 64, 3, 3)
	defer bpm.Close()

	for k := common.Key(0); k < 50; k++ {
		require.True(t, tree.Insert(k, ridForKey(k)))
	}
	for k := common.Key(0); k < 50; k++ {
		rids, found := tree.GetValue(k)
		require.True(t, found, "get key %d", k)
		require.Equal(t, []common.RID{ridForKey(k)}, rids)
	}
	chained := leafKeys(t, tree, bpm)
	require.Equal(t, 50, len(chained))
	require.True(t, sort.SliceIsSorted(chained, func(i, j int) bool { return chained[i] < chained[j] }))
}

func TestBPlusTree_ConcurrentInsert(t *testing.T) {
	tree, bpm := newTestTree(t, 64, 4, 4)
	defer bpm.Close()

	workers := 4
	perWorker := 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				k := common.Key(base*perWorker + i)
				if !tree.Insert(k, ridForKey(k)) {
					t.Errorf("insert key %d failed", k)
				}
			}
		}(w)
	}
	wg.Wait()

	for k := common.Key(0); k < common.Key(workers*perWorker); k++ {
		rids, found := tree.GetValue(k)
		require.True(t, found, "get key %d", k)
		require.Equal(t, []common.RID{ridForKey(k)}, rids)
	}
}

func TestBPlusTree_InsertFromFile(t *testing.T) {
	tree, bpm := newTestTree(t, 64, 4, 4)
	defer bpm.Close()

	fileName := "tmp-keys"
	defer os.Remove(fileName)
	content := ""
	for k := 0; k < 30; k++ {
		content += fmt.Sprintf("%d\n", k)
	}
	require.Nil(t, os.WriteFile(fileName, []byte(content), 0644))

	tree.InsertFromFile(fileName)
	for k := common.Key(0); k < 30; k++ {
		_, found := tree.GetValue(k)
		require.True(t, found)
	}
}

func TestBPlusTree_PrintAndDraw(t *testing.T) {
	tree, bpm := newTestTree(t, 16, 4, 4)
	defer bpm.Close()

	var empty bytes.Buffer
	tree.Print(&empty)
	require.Contains(t, empty.String(), "Empty tree")

	for _, k := range []common.Key{10, 20, 30, 40} {
		require.True(t, tree.Insert(k, ridForKey(k)))
	}

	var buf bytes.Buffer
	tree.Print(&buf)
	require.Contains(t, buf.String(), "Internal Page")
	require.Contains(t, buf.String(), "Leaf Page")

	outf := "tmp-tree.dot"
	defer os.Remove(outf)
	tree.Draw(outf)
	dot, err := os.ReadFile(outf)
	require.Nil(t, err)
	require.Contains(t, string(dot), "digraph G {")
	require.Contains(t, string(dot), "INT_")
	require.Contains(t, string(dot), "LEAF_")
}
