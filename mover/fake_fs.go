package mover

import (
	"sort"
	"sync"
	"time"
)

// fakeFS is an in-memory FileSystem for hermetic mover tests.
type fakeFS struct {
	mu     sync.Mutex
	files  map[string]fakeFile
	cached []cachedWrite
}

type fakeFile struct {
	createdAt time.Time
	size      int64
}

// cached records WriteCache calls for tests to assert against; it is not
// part of the FileSystem contract.
type cachedWrite struct {
	path string
	data []byte
}

func newFakeFS() *fakeFS {
	return &fakeFS{files: make(map[string]fakeFile)}
}

func (f *fakeFS) put(path string, createdAt time.Time, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = fakeFile{createdAt: createdAt, size: size}
}

func (f *fakeFS) Stat(path string) (time.Time, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ff, ok := f.files[path]
	if !ok {
		return time.Time{}, 0, errFatal("fakeFS: no such file " + path)
	}
	return ff.createdAt, ff.size, nil
}

func (f *fakeFS) Remove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
	return nil
}

func (f *fakeFS) WriteCache(path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cached = append(f.cached, cachedWrite{path: path, data: append([]byte(nil), data...)})
	return nil
}

func (f *fakeFS) ListParquet(_ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	paths := make([]string, 0, len(f.files))
	for p := range f.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}
