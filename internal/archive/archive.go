// Package archive packs resolved files into the audit zip and stores it.
package archive

import (
	"bytes"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/zeebo/errs"

	"github.com/chmdznr/template-file-migrator/pkg/models"
)

// Error is the class of archive errors.
var Error = errs.Class("archive")

// Build returns a zip with one entry per item, in item order, named by the
// item's filename. Every entry carries modTime, so equal input yields equal
// bytes.
func Build(items []models.TransferItem, modTime time.Time) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, item := range items {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     item.Filename,
			Method:   zip.Deflate,
			Modified: modTime,
		})
		if err != nil {
			return nil, Error.New("add %s: %v", item.Filename, err)
		}
		if _, err := w.Write(item.Payload); err != nil {
			return nil, Error.New("write %s: %v", item.Filename, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, Error.Wrap(err)
	}
	return buf.Bytes(), nil
}
