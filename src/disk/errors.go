package disk

import "github.com/pkg/errors"

// ErrBufferPoolFull is returned when every frame is pinned and no victim
// can be evicted.
var ErrBufferPoolFull = errors.New("buffer pool is full")
