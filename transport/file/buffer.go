package file

import (
	"bytes"
	"io"

	it "github.com/vikas-lamba/twopence/transport"
)

// NewBuffered drains r fully into memory and returns a Copyable over the
// buffered bytes. The file transfer protocol announces the length before
// the payload, so sources that cannot report a size up front are buffered
// and forwarded from the copy.
func NewBuffered(r io.Reader) (it.Copyable, error) {
	return it.Buffer(r)
}

// NewBytes wraps an in-memory byte slice in a Copyable.
func NewBytes(data []byte) it.Copyable {
	c, _ := it.Buffer(bytes.NewReader(data))
	return c
}
