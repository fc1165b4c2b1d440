package disk

import (
	"sync"

	"toy-db-golang/src/common"
)

// Page is an in-memory frame holding at most one disk page. The embedded
// RWMutex is the page latch; it protects the buffer contents only and is
// always taken after the pin is held.
type Page struct {
	data     []byte
	pageId   common.PageId
	pinCount int
	isDirty  bool
	sync.RWMutex
}

func (p *Page) Data() []byte { return p.data }

func (p *Page) PageId() common.PageId { return p.pageId }

func (p *Page) PinCount() int { return p.pinCount }

func (p *Page) IsDirty() bool { return p.isDirty }

func (p *Page) resetMemory() {
	for i := range p.data {
		p.data[i] = 0
	}
}
