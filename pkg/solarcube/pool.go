package solarcube

import (
	"container/list"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Handle is an open file owned by a FilePool. It is valid until the pool
// evicts or releases it; callers must not keep it across Acquire calls.
type Handle struct {
	path string
	f    *os.File
	size int64
	warm bool
}

func (h *Handle) Path() string { return h.path }
func (h *Handle) Size() int64  { return h.size }

func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	if h.f == nil {
		return 0, fmt.Errorf("%w: handle for %s was evicted", ErrClosed, h.path)
	}
	return h.f.ReadAt(p, off)
}

// FilePool keeps at most maxOpen files open, evicting the least recently
// used one before opening another. It is not safe for concurrent use.
type FilePool struct {
	maxOpen int
	lru     *list.List // front is most recently used
	byPath  map[string]*list.Element
	opens   int
}

// NewFilePool creates a pool bounded to maxOpen handles.
func NewFilePool(maxOpen int) (*FilePool, error) {
	if maxOpen <= 0 {
		return nil, &ConfigError{Field: "Config.MaxOpenFiles", Reason: fmt.Sprintf("must be positive, got %d", maxOpen)}
	}
	return &FilePool{
		maxOpen: maxOpen,
		lru:     list.New(),
		byPath:  make(map[string]*list.Element),
	}, nil
}

// Acquire returns the open handle for path, opening it if needed.
func (p *FilePool) Acquire(path string) (*Handle, error) {
	if el, ok := p.byPath[path]; ok {
		p.lru.MoveToFront(el)
		return el.Value.(*Handle), nil
	}

	// make room first so at most maxOpen descriptors are ever held
	for p.lru.Len() >= p.maxOpen {
		p.evictOne()
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: opening %s: %w", ErrIO, path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %w", ErrIO, path, err)
	}
	if st.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is a directory", ErrIO, path)
	}

	h := &Handle{path: path, f: f, size: st.Size()}
	p.byPath[path] = p.lru.PushFront(h)
	p.opens++
	return h, nil
}

// KeepWarm marks path as exempt from eviction while other handles are evictable.
// It opens the file if it is not open yet.
func (p *FilePool) KeepWarm(path string, warm bool) error {
	h, err := p.Acquire(path)
	if err != nil {
		return err
	}
	h.warm = warm
	return nil
}

// evictOne closes the least recently used cold handle, or the least recently
// used warm one if every handle is warm.
func (p *FilePool) evictOne() {
	for el := p.lru.Back(); el != nil; el = el.Prev() {
		if !el.Value.(*Handle).warm {
			p.remove(el)
			return
		}
	}
	if el := p.lru.Back(); el != nil {
		Logf("[pool] all %d open files are kept warm, closing %s", p.lru.Len(), el.Value.(*Handle).path)
		p.remove(el)
	}
}

func (p *FilePool) remove(el *list.Element) {
	h := el.Value.(*Handle)
	p.lru.Remove(el)
	delete(p.byPath, h.path)
	if h.f != nil {
		if err := h.f.Close(); err != nil {
			Logf("[pool] closing %s: %v", h.path, err)
		}
		h.f = nil
	}
}

// Return ends one access to path. A cold handle is closed, a warm one stays
// open for the next access.
func (p *FilePool) Return(path string) {
	if el, ok := p.byPath[path]; ok && !el.Value.(*Handle).warm {
		p.remove(el)
	}
}

// Release closes path if it is open.
func (p *FilePool) Release(path string) {
	if el, ok := p.byPath[path]; ok {
		p.remove(el)
	}
}

// CloseAll closes every open handle.
func (p *FilePool) CloseAll() {
	for el := p.lru.Back(); el != nil; el = p.lru.Back() {
		p.remove(el)
	}
}

// Len returns the number of open handles.
func (p *FilePool) Len() int { return p.lru.Len() }

// Opens returns how many times a file was opened since the pool was created.
func (p *FilePool) Opens() int { return p.opens }

// OpenPaths lists the open files from least to most recently used.
func (p *FilePool) OpenPaths() []string {
	paths := make([]string, 0, p.lru.Len())
	for el := p.lru.Back(); el != nil; el = el.Prev() {
		paths = append(paths, el.Value.(*Handle).path)
	}
	return paths
}
