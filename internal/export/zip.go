package export

import (
	"archive/zip"
	"bytes"
	"fmt"
	"time"
)

type zipEntry struct {
	name string
	data []byte
}

// zipAssembler buffers entries and writes the archive on Finish. A repeated name replaces the
// earlier entry's content in place, so the archive never holds duplicate names.
type zipAssembler struct {
	entries []zipEntry
	index   map[string]int
	modTime time.Time
}

func newZIPAssembler(modTime time.Time) *zipAssembler {
	return &zipAssembler{index: make(map[string]int), modTime: modTime}
}

func (a *zipAssembler) Add(_ int, name string, jpeg []byte) error {
	if i, ok := a.index[name]; ok {
		a.entries[i].data = jpeg
		return nil
	}
	a.index[name] = len(a.entries)
	a.entries = append(a.entries, zipEntry{name: name, data: jpeg})
	return nil
}

func (a *zipAssembler) Finish() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range a.entries {
		// JPEG does not deflate further.
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: zip.Store, Modified: a.modTime})
		if err != nil {
			return nil, fmt.Errorf("zip entry %s: %w", e.name, err)
		}
		if _, err := w.Write(e.data); err != nil {
			return nil, fmt.Errorf("zip write %s: %w", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (a *zipAssembler) Discard() {
	a.entries = nil
	a.index = nil
}

func (a *zipAssembler) Pages() int { return 0 }
