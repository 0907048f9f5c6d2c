package pushworker

// BufPool 单线程字节切片池，只在推送循环内使用
type BufPool struct {
	free    [][]byte
	bufSize int
	maxSize int
}

func NewBufPool(preAlloc, maxSize, bufSize int) *BufPool {
	p := &BufPool{
		free:    make([][]byte, 0, maxSize),
		bufSize: bufSize,
		maxSize: maxSize,
	}
	for i := 0; i < min(preAlloc, maxSize); i++ {
		p.free = append(p.free, make([]byte, 0, bufSize))
	}
	return p
}

// Get 池空时新建
func (p *BufPool) Get() []byte {
	n := len(p.free)
	if n == 0 {
		return make([]byte, 0, p.bufSize)
	}
	buf := p.free[n-1]
	p.free[n-1] = nil
	p.free = p.free[:n-1]
	return buf[:0]
}

// Put 超过上限或容量异常膨胀的 buf 直接丢弃
func (p *BufPool) Put(buf []byte) {
	if len(p.free) >= p.maxSize || cap(buf) == 0 || cap(buf) > 16*p.bufSize {
		return
	}
	p.free = append(p.free, buf[:0])
}

func (p *BufPool) Len() int {
	return len(p.free)
}
