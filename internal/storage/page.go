package storage

// Page is a fixed-size block of storage, the unit of disk I/O and caching.
//
// A Page is owned by the Pager that loaded it. The same page number always
// resolves to the same *Page for the life of the pager, so writes made through
// one holder are seen by every other holder.
type Page struct {
	// num is the page's position in the file.
	num uint32

	// data holds the raw page bytes; len(data) == Layout.PageSize.
	data []byte
}

func newPage(num uint32, size uint32) *Page {
	return &Page{
		num:  num,
		data: make([]byte, size),
	}
}

// Num returns the page number.
func (p *Page) Num() uint32 {
	return p.num
}

// Data returns direct access to the page bytes. Writes are visible to every
// holder of the page and are persisted on the next flush.
func (p *Page) Data() []byte {
	return p.data
}
