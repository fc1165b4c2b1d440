package disk

import (
	"toy-db-golang/src/common"
)

// BasicPageGuard owns the pin of one page. Dropping it unpins exactly
// once; a nulled guard drops as a no-op. Guards are transferred with Move,
// never copied.
type BasicPageGuard struct {
	bpm     *BufferPoolManager
	page    *Page
	isDirty bool
}

func newBasicPageGuard(bpm *BufferPoolManager, page *Page) BasicPageGuard {
	return BasicPageGuard{bpm: bpm, page: page}
}

// Valid reports whether the guard still holds a page.
func (g *BasicPageGuard) Valid() bool { return g.page != nil }

func (g *BasicPageGuard) PageId() common.PageId {
	if g.page == nil {
		return common.InvalidPageId
	}
	return g.page.PageId()
}

// Data exposes the page bytes for reading.
func (g *BasicPageGuard) Data() []byte {
	return g.page.Data()
}

// DataMut exposes the page bytes for writing and marks the guard dirty, so
// the dirty flag reaches the frame on Drop.
func (g *BasicPageGuard) DataMut() []byte {
	g.isDirty = true
	return g.page.Data()
}

// MarkDirty records that the page was modified without handing out the
// buffer again.
func (g *BasicPageGuard) MarkDirty() {
	g.isDirty = true
}

// Move transfers ownership out of g, leaving it null. Moving a null guard
// yields a null guard.
func (g *BasicPageGuard) Move() BasicPageGuard {
	moved := *g
	g.bpm = nil
	g.page = nil
	g.isDirty = false
	return moved
}

func (g *BasicPageGuard) Drop() {
	if g.bpm != nil && g.page != nil {
		g.bpm.UnpinPage(g.page.PageId(), g.isDirty, AccessUnknown)
	}
	g.bpm = nil
	g.page = nil
	g.isDirty = false
}

// ReadPageGuard additionally holds the shared page latch, released exactly
// once before the pin.
type ReadPageGuard struct {
	guard BasicPageGuard
}

func newReadPageGuard(bpm *BufferPoolManager, page *Page) ReadPageGuard {
	return ReadPageGuard{guard: newBasicPageGuard(bpm, page)}
}

func (g *ReadPageGuard) Valid() bool { return g.guard.Valid() }

func (g *ReadPageGuard) PageId() common.PageId { return g.guard.PageId() }

func (g *ReadPageGuard) Data() []byte { return g.guard.Data() }

func (g *ReadPageGuard) Move() ReadPageGuard {
	return ReadPageGuard{guard: g.guard.Move()}
}

func (g *ReadPageGuard) Drop() {
	if g.guard.page != nil {
		g.guard.page.RUnlock()
	}
	g.guard.Drop()
}

// WritePageGuard additionally holds the exclusive page latch, released
// exactly once before the pin.
type WritePageGuard struct {
	guard BasicPageGuard
}

func newWritePageGuard(bpm *BufferPoolManager, page *Page) WritePageGuard {
	return WritePageGuard{guard: newBasicPageGuard(bpm, page)}
}

func (g *WritePageGuard) Valid() bool { return g.guard.Valid() }

func (g *WritePageGuard) PageId() common.PageId { return g.guard.PageId() }

func (g *WritePageGuard) Data() []byte { return g.guard.Data() }

func (g *WritePageGuard) DataMut() []byte { return g.guard.DataMut() }

func (g *WritePageGuard) MarkDirty() { g.guard.MarkDirty() }

func (g *WritePageGuard) Move() WritePageGuard {
	return WritePageGuard{guard: g.guard.Move()}
}

func (g *WritePageGuard) Drop() {
	if g.guard.page != nil {
		g.guard.page.Unlock()
	}
	g.guard.Drop()
}
