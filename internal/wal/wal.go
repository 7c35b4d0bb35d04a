package go_wal

import go_fs "github.com/nogodb/lsmdb/internal/fs"

// Writer appends records to a single WAL or manifest file.
type Writer struct {
	page    *Page
	handle  go_fs.Writable
	syncCfg bool
}

// CreateWriter creates a new file of the given type/number in storage
// and returns a Writer over it.
func CreateWriter(storage go_fs.Storage, objType go_fs.ObjectType, num int64) (*Writer, error) {
	w, _, err := storage.Create(objType, num)
	if err != nil {
		return nil, err
	}
	return &Writer{page: &Page{Id: PageID(num), writer: w}, handle: w}, nil
}

// AddRecord appends payload as one logical record, returning its
// position. The callers in this module (the DB write path and the
// version set) discard it; replay just reads sequentially.
func (w *Writer) AddRecord(payload []byte) (Record, error) {
	return w.page.Write(payload)
}

// Sync flushes the file to stable storage. Durability of any prior
// AddRecord is only guaranteed once Sync returns nil.
func (w *Writer) Sync() error {
	return w.handle.Sync()
}

// Close finishes the underlying storage object, making it durable and
// immutable for callers that later reopen it for reading.
func (w *Writer) Close() error {
	return w.handle.Finish()
}

// OpenReader opens an existing file of the given type/number for
// sequential replay.
func OpenReader(storage go_fs.Storage, objType go_fs.ObjectType, num int64, report Reporter) (*Reader, go_fs.Readable, error) {
	r, _, err := storage.Open(objType, num, 0)
	if err != nil {
		return nil, nil, err
	}
	return NewReader(r, report), r, nil
}
