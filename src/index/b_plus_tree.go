package index

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"

	"toy-db-golang/src/common"
	"toy-db-golang/src/disk"
)

// BPlusTree is an on-disk index with unique keys. All page access goes
// through buffer pool page guards; the root is reachable only through the
// header page so it can change under concurrent inserts.
type BPlusTree struct {
	name            string
	headerPageId    common.PageId
	bpm             *disk.BufferPoolManager
	comparator      common.KeyComparator
	leafMaxSize     int32
	internalMaxSize int32
}

func NewBPlusTree(name string, headerPageId common.PageId, bpm *disk.BufferPoolManager,
	comparator common.KeyComparator, leafMaxSize, internalMaxSize int32) *BPlusTree {
	guard := bpm.FetchPageWrite(headerPageId)
	if !guard.Valid() {
		log.Fatalf("Cannot fetch header page %d of index %q.", headerPageId, name)
	}
	createHeaderPage(guard.DataMut()).init()
	guard.Drop()
	return &BPlusTree{
		name:            name,
		headerPageId:    headerPageId,
		bpm:             bpm,
		comparator:      comparator,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
	}
}

func (t *BPlusTree) IsEmpty() bool {
	return t.GetRootPageId() == common.InvalidPageId
}

func (t *BPlusTree) GetRootPageId() common.PageId {
	guard := t.bpm.FetchPageRead(t.headerPageId)
	defer guard.Drop()
	return createHeaderPage(guard.Data()).rootPageId
}

// GetValue looks up key and appends every matching record id to the
// result. Every read latch taken on the path is held until the lookup
// returns.
func (t *BPlusTree) GetValue(key common.Key) ([]common.RID, bool) {
	rootPageId := t.GetRootPageId()
	if rootPageId == common.InvalidPageId {
		return nil, false
	}

	var readSet []disk.ReadPageGuard
	defer func() {
		for i := range readSet {
			readSet[i].Drop()
		}
	}()

	guard := t.bpm.FetchPageRead(rootPageId)
	if !guard.Valid() {
		return nil, false
	}
	for !createNodeHeader(guard.Data()).isLeaf() {
		internal := createInternalPage(guard.Data())
		child := internal.childAt(internal.childIndexFor(key, t.comparator))
		readSet = append(readSet, guard.Move())
		guard = t.bpm.FetchPageRead(child)
		if !guard.Valid() {
			return nil, false
		}
	}
	defer guard.Drop()

	leaf := createLeafPage(guard.Data())
	var result []common.RID
	for i := int32(0); i < leaf.size; i++ {
		if t.comparator(key, leaf.keyAt(i)) == 0 {
			result = append(result, leaf.ridAt(i))
		}
	}
	return result, len(result) > 0
}

// insertContext carries the write-latched path of one insert. The header
// guard and the ancestor guards are released early once a node that cannot
// split is reached, and unconditionally when the insert finishes.
type insertContext struct {
	headerGuard disk.WritePageGuard
	writeSet    []disk.WritePageGuard
}

func (ctx *insertContext) release() {
	for i := len(ctx.writeSet) - 1; i >= 0; i-- {
		ctx.writeSet[i].Drop()
	}
	ctx.writeSet = ctx.writeSet[:0]
	ctx.headerGuard.Drop()
}

// Insert adds (key, rid) to the tree. Returns false if the key already
// exists or if the buffer pool cannot admit a page.
func (t *BPlusTree) Insert(key common.Key, rid common.RID) bool {
	ctx := &insertContext{}
	defer ctx.release()

	ctx.headerGuard = t.bpm.FetchPageWrite(t.headerPageId)
	if !ctx.headerGuard.Valid() {
		return false
	}
	header := createHeaderPage(ctx.headerGuard.Data())

	if header.rootPageId == common.InvalidPageId {
		rootGuard := t.bpm.NewPageGuarded()
		if !rootGuard.Valid() {
			return false
		}
		defer rootGuard.Drop()
		root := createLeafPage(rootGuard.DataMut())
		root.init(t.leafMaxSize)
		root.insert(key, rid, t.comparator)
		createHeaderPage(ctx.headerGuard.DataMut()).rootPageId = rootGuard.PageId()
		return true
	}

	// Descend, write-latching the path. Once a node with room for a
	// promotion is reached, everything above it is released.
	currGuard := t.bpm.FetchPageWrite(header.rootPageId)
	if !currGuard.Valid() {
		return false
	}
	for !createNodeHeader(currGuard.Data()).isLeaf() {
		internal := createInternalPage(currGuard.Data())
		if internal.size < internal.maxSize {
			ctx.release()
		}
		child := internal.childAt(internal.childIndexFor(key, t.comparator))
		ctx.writeSet = append(ctx.writeSet, currGuard.Move())
		currGuard = t.bpm.FetchPageWrite(child)
		if !currGuard.Valid() {
			return false
		}
	}
	defer currGuard.Drop()

	leaf := createLeafPage(currGuard.Data())
	if leaf.contains(key, t.comparator) {
		return false
	}
	if leaf.size < leaf.maxSize-1 {
		return createLeafPage(currGuard.DataMut()).insert(key, rid, t.comparator)
	}
	return t.insertAndSplitLeaf(ctx, &currGuard, key, rid)
}

// insertAndSplitLeaf splits a full leaf around the new pair and propagates
// the promoted separator upward.
func (t *BPlusTree) insertAndSplitLeaf(ctx *insertContext, leafGuard *disk.WritePageGuard,
	key common.Key, rid common.RID) bool {
	leaf := createLeafPage(leafGuard.Data())
	if leaf.size != leaf.maxSize-1 {
		log.Fatalf("Splitting a leaf that is not full.")
	}

	temp := make([]leafEntry, 0, leaf.maxSize)
	inserted := false
	for i := int32(0); i < leaf.size; i++ {
		entry := leaf.entrySlice()[i]
		if !inserted && t.comparator(key, entry.key) < 0 {
			temp = append(temp, leafEntry{key: key, rid: rid})
			inserted = true
		}
		temp = append(temp, entry)
	}
	if !inserted {
		temp = append(temp, leafEntry{key: key, rid: rid})
	}

	newLeafGuard := t.bpm.NewPageGuarded()
	if !newLeafGuard.Valid() {
		return false
	}
	defer newLeafGuard.Drop()
	newLeaf := createLeafPage(newLeafGuard.DataMut())
	newLeaf.init(t.leafMaxSize)

	oldLeaf := createLeafPage(leafGuard.DataMut())
	half := (oldLeaf.maxSize + 1) / 2
	oldLeaf.size = 0
	for _, entry := range temp[:half] {
		oldLeaf.pushBack(entry.key, entry.rid)
	}
	for _, entry := range temp[half:] {
		newLeaf.pushBack(entry.key, entry.rid)
	}
	newLeaf.nextPageId = oldLeaf.nextPageId
	oldLeaf.nextPageId = newLeafGuard.PageId()

	return t.insertIntoParent(ctx, leafGuard.PageId(), newLeaf.keyAt(0), newLeafGuard.PageId())
}

// insertIntoParent walks the latched ancestors, inserting the promoted
// separator and splitting full internal nodes until one absorbs it. An
// exhausted ancestor stack means the root itself split.
func (t *BPlusTree) insertIntoParent(ctx *insertContext, leftId common.PageId,
	key common.Key, rightId common.PageId) bool {
	for {
		if len(ctx.writeSet) == 0 {
			newRootGuard := t.bpm.NewPageGuarded()
			if !newRootGuard.Valid() {
				log.Errorf("Cannot allocate a new root for index %q.", t.name)
				return false
			}
			defer newRootGuard.Drop()
			newRoot := createInternalPage(newRootGuard.DataMut())
			newRoot.init(t.internalMaxSize)
			newRoot.setEntryAt(0, 0, leftId)
			newRoot.setEntryAt(1, key, rightId)
			newRoot.size = 2
			if !ctx.headerGuard.Valid() {
				log.Fatalf("Root split of index %q without the header latch.", t.name)
			}
			createHeaderPage(ctx.headerGuard.DataMut()).rootPageId = newRootGuard.PageId()
			return true
		}

		parentGuard := ctx.writeSet[len(ctx.writeSet)-1].Move()
		ctx.writeSet = ctx.writeSet[:len(ctx.writeSet)-1]

		parent := createInternalPage(parentGuard.DataMut())
		if parent.size < parent.maxSize {
			parent.insertEntry(key, rightId, t.comparator)
			parentGuard.Drop()
			return true
		}

		// Full parent: collect, split at the midpoint and promote the
		// split-point key one level up.
		temp := make([]internalEntry, 0, parent.maxSize+1)
		temp = append(temp, parent.entrySlice()[0])
		inserted := false
		for i := int32(1); i < parent.size; i++ {
			entry := parent.entrySlice()[i]
			if !inserted && t.comparator(key, entry.key) < 0 {
				temp = append(temp, internalEntry{key: key, child: rightId})
				inserted = true
			}
			temp = append(temp, entry)
		}
		if !inserted {
			temp = append(temp, internalEntry{key: key, child: rightId})
		}

		newInternalGuard := t.bpm.NewPageGuarded()
		if !newInternalGuard.Valid() {
			log.Errorf("Cannot allocate a sibling internal page for index %q.", t.name)
			parentGuard.Drop()
			return false
		}
		newInternal := createInternalPage(newInternalGuard.DataMut())
		newInternal.init(t.internalMaxSize)

		splitIdx := (parent.maxSize + 2) / 2
		parent.size = 0
		for _, entry := range temp[:splitIdx] {
			parent.entrySlice()[parent.size] = entry
			parent.size++
		}
		for _, entry := range temp[splitIdx:] {
			newInternal.entrySlice()[newInternal.size] = entry
			newInternal.size++
		}

		leftId = parentGuard.PageId()
		key = temp[splitIdx].key
		rightId = newInternalGuard.PageId()
		parentGuard.Drop()
		newInternalGuard.Drop()
	}
}

// Remove is intentionally not supported; the index is insert/lookup only.
// A future implementation has to pair deletion with merge or redistribute,
// mirroring the split logic.
func (t *BPlusTree) Remove(key common.Key) {
	log.Warnf("Remove key %d: removal is not supported by index %q.", key, t.name)
}

// InsertFromFile reads integer keys from a file and inserts them one by
// one. Test helper.
func (t *BPlusTree) InsertFromFile(fileName string) {
	fi, err := os.Open(fileName)
	if err != nil {
		log.WithError(err).Fatalf("Cannot open key file %q.", fileName)
	}
	defer fi.Close()

	scanner := bufio.NewScanner(fi)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		v, err := strconv.ParseInt(scanner.Text(), 10, 64)
		if err != nil {
			log.WithError(err).Warnf("Skipping key %q.", scanner.Text())
			continue
		}
		t.Insert(common.Key(v), common.RID{PageId: common.PageId(v >> 32), SlotNum: int32(v)})
	}
}

// RemoveFromFile reads integer keys from a file and removes them one by
// one. Test helper.
func (t *BPlusTree) RemoveFromFile(fileName string) {
	fi, err := os.Open(fileName)
	if err != nil {
		log.WithError(err).Fatalf("Cannot open key file %q.", fileName)
	}
	defer fi.Close()

	scanner := bufio.NewScanner(fi)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		v, err := strconv.ParseInt(scanner.Text(), 10, 64)
		if err != nil {
			log.WithError(err).Warnf("Skipping key %q.", scanner.Text())
			continue
		}
		t.Remove(common.Key(v))
	}
}

// Print writes the tree topology to w, one node per block.
func (t *BPlusTree) Print(w io.Writer) {
	rootPageId := t.GetRootPageId()
	if rootPageId == common.InvalidPageId {
		fmt.Fprintln(w, "Empty tree")
		return
	}
	t.printNode(w, rootPageId)
}

func (t *BPlusTree) printNode(w io.Writer, pageId common.PageId) {
	guard := t.bpm.FetchPageBasic(pageId)
	defer guard.Drop()

	if createNodeHeader(guard.Data()).isLeaf() {
		leaf := createLeafPage(guard.Data())
		fmt.Fprintf(w, "Leaf Page: %d\tNext: %d\nContents: ", pageId, leaf.nextPageId)
		for i := int32(0); i < leaf.size; i++ {
			if i > 0 {
				fmt.Fprint(w, ", ")
			}
			fmt.Fprintf(w, "%d", leaf.keyAt(i))
		}
		fmt.Fprint(w, "\n\n")
		return
	}

	internal := createInternalPage(guard.Data())
	fmt.Fprintf(w, "Internal Page: %d\nContents: ", pageId)
	for i := int32(0); i < internal.size; i++ {
		if i > 0 {
			fmt.Fprint(w, ", ")
		}
		fmt.Fprintf(w, "%d: %d", internal.keyAt(i), internal.childAt(i))
	}
	fmt.Fprint(w, "\n\n")
	for i := int32(0); i < internal.size; i++ {
		t.printNode(w, internal.childAt(i))
	}
}

// Draw writes the tree as a graphviz digraph to outf.
func (t *BPlusTree) Draw(outf string) {
	if t.IsEmpty() {
		log.Warnf("Drawing an empty tree.")
		return
	}
	fi, err := os.Create(outf)
	if err != nil {
		log.WithError(err).Fatalf("Cannot create graph file %q.", outf)
	}
	defer fi.Close()

	fmt.Fprintln(fi, "digraph G {")
	t.drawNode(fi, t.GetRootPageId())
	fmt.Fprintln(fi, "}")
}

func (t *BPlusTree) drawNode(w io.Writer, pageId common.PageId) {
	guard := t.bpm.FetchPageBasic(pageId)
	defer guard.Drop()

	if createNodeHeader(guard.Data()).isLeaf() {
		leaf := createLeafPage(guard.Data())
		fmt.Fprintf(w, "LEAF_%d [shape=record label=\"", pageId)
		for i := int32(0); i < leaf.size; i++ {
			if i > 0 {
				fmt.Fprint(w, "|")
			}
			fmt.Fprintf(w, "%d", leaf.keyAt(i))
		}
		fmt.Fprintln(w, "\"];")
		if leaf.nextPageId != common.InvalidPageId {
			fmt.Fprintf(w, "LEAF_%d -> LEAF_%d;\n", pageId, leaf.nextPageId)
		}
		return
	}

	internal := createInternalPage(guard.Data())
	fmt.Fprintf(w, "INT_%d [shape=record label=\"", pageId)
	for i := int32(0); i < internal.size; i++ {
		if i > 0 {
			fmt.Fprintf(w, "|%d", internal.keyAt(i))
		} else {
			fmt.Fprint(w, " ")
		}
	}
	fmt.Fprintln(w, "\"];")
	for i := int32(0); i < internal.size; i++ {
		child := internal.childAt(i)
		childGuard := t.bpm.FetchPageBasic(child)
		childIsLeaf := createNodeHeader(childGuard.Data()).isLeaf()
		childGuard.Drop()
		if childIsLeaf {
			fmt.Fprintf(w, "INT_%d -> LEAF_%d;\n", pageId, child)
		} else {
			fmt.Fprintf(w, "INT_%d -> INT_%d;\n", pageId, child)
		}
		t.drawNode(w, child)
	}
}
