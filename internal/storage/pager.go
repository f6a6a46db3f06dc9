// Package storage - Pager component
//
// EDUCATIONAL NOTES:
// ------------------
// The Pager is responsible for managing the database file and reading/writing pages.
// It acts as a layer between the B-tree and the file system.
//
// Key responsibilities:
// 1. Opening/closing the database file
// 2. Reading pages from disk into memory on first use
// 3. Writing pages back to disk on flush
// 4. Handing out page numbers for new pages
// 5. Keeping every loaded page in a cache keyed by page number
//
// Pages stay cached for the lifetime of the pager; there is no eviction.
// The cache is bounded by Layout.MaxPages, which is a hard ceiling: asking
// for a page beyond it is an error, not a reason to grow.

package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/cabewaldrop/pagedb/internal/logging"
)

// Pager manages reading and writing pages to the database file.
type Pager struct {
	file     *os.File
	filePath string
	layout   *Layout

	// fileLength is the size of the file when it was opened.
	fileLength int64

	// numPages is one past the highest page number loaded or on disk.
	numPages uint32

	// cache holds every page loaded so far.
	cache map[uint32]*Page

	// mu protects concurrent access to the pager.
	mu sync.Mutex

	log *slog.Logger
}

// OpenPager opens the database file at filePath, creating it if needed.
// A file whose length is not a whole number of pages is rejected with
// ErrCorruptFile.
func OpenPager(filePath string, layout *Layout) (*Pager, error) {
	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, newError("open", ErrIO, NoPage, err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, newError("open", ErrIO, NoPage, err)
	}

	fileLength := stat.Size()
	if fileLength%int64(layout.PageSize) != 0 {
		file.Close()
		return nil, newError("open", ErrCorruptFile, NoPage,
			fmt.Errorf("length %d is not a multiple of page size %d", fileLength, layout.PageSize))
	}

	p := &Pager{
		file:       file,
		filePath:   filePath,
		layout:     layout,
		fileLength: fileLength,
		numPages:   uint32(fileLength / int64(layout.PageSize)),
		cache:      make(map[uint32]*Page),
		log:        logging.WithComponent("pager"),
	}
	p.log.Debug("opened database file", "path", filePath, "pages", p.numPages)

	return p, nil
}

// Layout returns the geometry the pager was opened with.
func (p *Pager) Layout() *Layout {
	return p.layout
}

// GetPage returns the page with the given number, loading it on a cache miss.
//
// EDUCATIONAL NOTE:
// -----------------
// A cache miss allocates a zeroed buffer and, if the page lies within the
// part of the file that was on disk at open time, fills it from the file.
// Pages past the end of the file simply start out as zeros; they reach the
// disk the first time they are flushed.
func (p *Pager) GetPage(pageNum uint32) (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pageNum >= p.layout.MaxPages {
		return nil, newError("get page", ErrPageBoundsExceeded, pageNum,
			fmt.Errorf("limit is %d pages", p.layout.MaxPages))
	}

	// Check cache first (cache hit)
	if page, ok := p.cache[pageNum]; ok {
		return page, nil
	}

	page := newPage(pageNum, p.layout.PageSize)

	pageSize := int64(p.layout.PageSize)
	onDisk := p.fileLength / pageSize
	// A partial page at the end of the file still counts.
	if p.fileLength%pageSize != 0 {
		onDisk++
	}

	if int64(pageNum) < onDisk {
		_, err := p.file.ReadAt(page.data, int64(pageNum)*pageSize)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, newError("get page", ErrIO, pageNum, err)
		}
		p.log.Debug("loaded page from disk", "page", pageNum)
	}

	p.cache[pageNum] = page
	if pageNum >= p.numPages {
		p.numPages = pageNum + 1
	}

	return page, nil
}

// UnusedPageNum returns the next page number that has never been used.
// Until free pages are recycled, new pages always go onto the end of the file.
func (p *Pager) UnusedPageNum() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numPages
}

// NumPages returns the number of pages in use.
func (p *Pager) NumPages() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numPages
}

// Flush writes one loaded page to disk.
func (p *Pager) Flush(pageNum uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked(pageNum)
}

// FlushAll writes every loaded page to disk in page order and syncs the file.
func (p *Pager) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushAllLocked()
}

// Close flushes all loaded pages and closes the database file.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.flushAllLocked(); err != nil {
		p.file.Close()
		return err
	}

	if err := p.file.Close(); err != nil {
		return newError("close", ErrIO, NoPage, err)
	}
	p.log.Debug("closed database file", "path", p.filePath, "pages", p.numPages)
	return nil
}

func (p *Pager) flushAllLocked() error {
	nums := make([]uint32, 0, len(p.cache))
	for num := range p.cache {
		nums = append(nums, num)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })

	for _, num := range nums {
		if err := p.flushLocked(num); err != nil {
			return err
		}
	}

	if err := p.file.Sync(); err != nil {
		return newError("sync", ErrIO, NoPage, err)
	}
	return nil
}

// flushLocked writes a page to disk. Caller must hold the lock.
func (p *Pager) flushLocked(pageNum uint32) error {
	page, ok := p.cache[pageNum]
	if !ok {
		return newError("flush", ErrFlushUnloadedPage, pageNum, nil)
	}

	offset := int64(pageNum) * int64(p.layout.PageSize)
	n, err := p.file.WriteAt(page.data, offset)
	if err != nil {
		return newError("flush", ErrIO, pageNum, err)
	}
	if n != len(page.data) {
		return newError("flush", ErrIO, pageNum, io.ErrShortWrite)
	}

	if end := offset + int64(n); end > p.fileLength {
		p.fileLength = end
	}
	p.log.Debug("flushed page", "page", pageNum)
	return nil
}
