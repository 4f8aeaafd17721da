package file

import (
	"strings"

	it "github.com/vikas-lamba/twopence/transport"
)

type stringCopyable struct {
	reader *strings.Reader
}

var _ it.Copyable = (*stringCopyable)(nil)

// NewReader wraps a string in a Copyable, handy for small in-memory uploads.
func NewReader(content string) it.Copyable {
	s := &stringCopyable{}
	s.reader = strings.NewReader(content)

	return s
}

func (s *stringCopyable) Read(b []byte) (int, error) {
	return s.reader.Read(b)
}

func (s *stringCopyable) Seek(offset int64, whence int) (int64, error) {
	return s.reader.Seek(offset, whence)
}

func (s *stringCopyable) Size() int64 {
	return s.reader.Size()
}

func (s *stringCopyable) Close() error {
	s.reader.Reset("")
	return nil
}
