package testutil

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

// ZipEntry is one file to place in an archive built by BuildZip.
type ZipEntry struct {
	Name  string
	Data  []byte
	Store bool // store uncompressed instead of deflating
}

// BuildZip returns the bytes of a zip archive holding entries in order.
func BuildZip(t *testing.T, entries ...ZipEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		method := zip.Deflate
		if e.Store {
			method = zip.Store
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: method})
		require.NoError(t, err)
		_, err = w.Write(e.Data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// PNGBytes returns a minimal byte slice starting with the PNG signature.
func PNGBytes(extra string) []byte {
	return append([]byte("\x89PNG\r\n\x1a\n"), extra...)
}

// MP4Bytes returns a minimal byte slice with an ISO BMFF ftyp box header.
func MP4Bytes(extra string) []byte {
	return append([]byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom"), extra...)
}
