package transport

import (
	"bytes"
	"io"
)

type bufferedSource struct {
	reader *bytes.Reader
}

var _ Copyable = (*bufferedSource)(nil)

// Buffer drains r fully into memory and returns a Copyable over the
// buffered bytes. It is the upload fallback for local sources that cannot
// report their size up front.
func Buffer(r io.Reader) (Copyable, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	return &bufferedSource{reader: bytes.NewReader(data)}, nil
}

func bufferSource(r io.Reader) (Copyable, error) {
	return Buffer(r)
}

func (b *bufferedSource) Read(p []byte) (int, error) {
	return b.reader.Read(p)
}

func (b *bufferedSource) Seek(offset int64, whence int) (int64, error) {
	return b.reader.Seek(offset, whence)
}

func (b *bufferedSource) Size() int64 {
	return b.reader.Size()
}

func (b *bufferedSource) Close() error {
	b.reader.Reset(nil)
	return nil
}
