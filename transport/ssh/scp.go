package ssh

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strconv"
	"strings"

	xssh "golang.org/x/crypto/ssh"

	it "github.com/vikas-lamba/twopence/transport"
)

// scpError is a non-zero status message from the remote scp, carrying the
// status byte that lands in Status.Major.
type scpError struct {
	code byte
	msg  string
}

func (e *scpError) Error() string {
	return fmt.Sprintf("remote scp status %d: %s", e.code, e.msg)
}

// readAck consumes one scp status byte. A non-zero byte is followed by a
// message line.
func readAck(r *bufio.Reader) error {
	code, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("reading scp status: %w", err)
	}
	if code == 0 {
		return nil
	}

	msg, _ := r.ReadString('\n')

	return &scpError{code: code, msg: strings.TrimSpace(msg)}
}

// statusByte extracts the remote scp status byte from an error chain.
func statusByte(err error) int {
	var se *scpError
	if errors.As(err, &se) {
		return int(se.code)
	}

	return 0
}

// scpSession is one scp exchange: an SSH session wrapping the remote scp in
// source or sink mode, with both half-duplex pipes bound.
type scpSession struct {
	session *xssh.Session
	cleanup func() error
	stdin   io.WriteCloser
	stdout  *bufio.Reader
}

func (t *transport) openSCP(ctx context.Context, user, command string) (*scpSession, error) {
	session, cleanup, err := t.client.newSession(ctx, user)
	if err != nil {
		return nil, err
	}

	s := &scpSession{session: session, cleanup: cleanup}

	stdin, err := session.StdinPipe()
	if err != nil {
		_ = cleanup()
		return nil, fmt.Errorf("creating SSH STDIN pipe: %w", err)
	}
	s.stdin = stdin

	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = cleanup()
		return nil, fmt.Errorf("creating SSH STDOUT pipe: %w", err)
	}
	s.stdout = bufio.NewReader(stdout)

	if err := session.Start(command); err != nil {
		_ = cleanup()
		return nil, fmt.Errorf("starting %q: %w", command, err)
	}

	return s, nil
}

// finish closes our side and reaps the remote scp. A non-zero remote exit
// code is reported so callers can remap it to a remote file error.
func (s *scpSession) finish() (int, error) {
	_ = s.stdin.Close()

	err := s.session.Wait()
	if err != nil {
		var exitErr *xssh.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitStatus(), nil
		}

		return 0, err
	}

	return 0, nil
}

func (s *scpSession) close() {
	if s.cleanup != nil {
		_ = s.cleanup()
	}
}

// checkRemoteDir proves that dir exists on the SUT by opening a recursive
// source-mode scp against it and requiring a directory record. Some servers
// would otherwise silently create a regular file with the directory's name.
func (t *transport) checkRemoteDir(ctx context.Context, user, dir string) (it.Status, error) {
	var status it.Status

	s, err := t.openSCP(ctx, user, fmt.Sprintf("scp -rf %s", dir))
	if err != nil {
		return status, it.ErrSendFile.Wrap(err)
	}
	defer s.close()

	if _, err := s.stdin.Write([]byte{0}); err != nil {
		return status, it.ErrSendFile.Wrap(err)
	}

	code, err := s.stdout.ReadByte()
	if err != nil {
		return status, it.ErrSendFile.Wrapf("no scp response for %q: %v", dir, err)
	}

	switch code {
	case 'D':
		return status, nil
	case 1, 2:
		msg, _ := s.stdout.ReadString('\n')
		status.Major = int(code)

		return status, it.ErrSendFile.Wrap(&scpError{code: code, msg: strings.TrimSpace(msg)})
	default:
		return status, it.ErrSendFile.Wrapf("%q is not a directory on the SUT", dir)
	}
}

// Inject uploads src to the remote path dst with the given mode. The file
// length is announced up front, so src must know its size; non-seekable
// sources are buffered by the caller first.
func (t *transport) Inject(ctx context.Context, user string, src it.Copyable, dst string, mode fs.FileMode) (it.Status, error) {
	var status it.Status

	select {
	case <-ctx.Done():
		return status, it.ErrSendFile.Wrap(ctx.Err())
	default:
	}

	dir, base := path.Split(dst)
	if base == "" {
		return status, it.ErrParameter.Wrapf("destination %q has no file name", dst)
	}
	if dir == "" {
		dir = "."
	} else if dir != "/" {
		dir = strings.TrimSuffix(dir, "/")
	}

	if status, err := t.checkRemoteDir(ctx, user, dir); err != nil {
		return status, err
	}

	s, err := t.openSCP(ctx, user, fmt.Sprintf("scp -t %s", dir))
	if err != nil {
		return status, it.ErrSendFile.Wrap(err)
	}
	defer s.close()

	if err := readAck(s.stdout); err != nil {
		status.Major = statusByte(err)
		return status, it.ErrSendFile.Wrap(err)
	}

	size := src.Size()
	if _, err := fmt.Fprintf(s.stdin, "C%04o %d %s\n", mode.Perm(), size, base); err != nil {
		return status, it.ErrSendFile.Wrapf("writing file header: %v", err)
	}
	if err := readAck(s.stdout); err != nil {
		status.Major = statusByte(err)
		return status, it.ErrSendFile.Wrap(err)
	}

	sink := t.currentSink()
	buf := make([]byte, chunkSize)
	for remaining := size; remaining > 0; {
		n := chunkSize
		if remaining < int64(n) {
			n = int(remaining)
		}
		if _, err := io.ReadFull(src, buf[:n]); err != nil {
			return status, it.ErrLocalFile.Wrapf("short read from local source: %v", err)
		}
		if _, err := s.stdin.Write(buf[:n]); err != nil {
			return status, it.ErrSendFile.Wrapf("writing file data: %v", err)
		}
		sink.Write(false, []byte{'.'})
		remaining -= int64(n)
	}

	if _, err := s.stdin.Write([]byte{0}); err != nil {
		return status, it.ErrSendFile.Wrapf("writing end of file: %v", err)
	}
	if err := readAck(s.stdout); err != nil {
		status.Major = statusByte(err)
		return status, it.ErrSendFile.Wrap(err)
	}
	sink.Write(false, []byte{'\n'})

	exit, err := s.finish()
	if err != nil {
		return status, it.ErrSendFile.Wrap(err)
	}
	status.Minor = exit

	if !status.Zero() {
		return status, it.ErrRemoteFile.Wrapf("remote scp exited with %d", exit)
	}

	return status, nil
}

// Extract downloads the remote path src into dst.
func (t *transport) Extract(ctx context.Context, user string, src string, dst io.Writer) (it.Status, error) {
	var status it.Status

	select {
	case <-ctx.Done():
		return status, it.ErrReceiveFile.Wrap(ctx.Err())
	default:
	}

	s, err := t.openSCP(ctx, user, fmt.Sprintf("scp -f %s", src))
	if err != nil {
		return status, it.ErrReceiveFile.Wrap(err)
	}
	defer s.close()

	if _, err := s.stdin.Write([]byte{0}); err != nil {
		return status, it.ErrReceiveFile.Wrap(err)
	}

	code, err := s.stdout.ReadByte()
	if err != nil {
		return status, it.ErrReceiveFile.Wrapf("no scp response for %q: %v", src, err)
	}

	switch code {
	case 'C':
	case 1, 2:
		msg, _ := s.stdout.ReadString('\n')
		status.Major = int(code)

		return status, it.ErrReceiveFile.Wrap(&scpError{code: code, msg: strings.TrimSpace(msg)})
	case 'D':
		return status, it.ErrReceiveFile.Wrapf("%q is a directory on the SUT", src)
	default:
		return status, it.ErrReceiveFile.Wrapf("unexpected scp record %q", code)
	}

	header, err := s.stdout.ReadString('\n')
	if err != nil {
		return status, it.ErrReceiveFile.Wrapf("truncated file header: %v", err)
	}
	fields := strings.Fields(header)
	if len(fields) < 3 {
		return status, it.ErrReceiveFile.Wrapf("malformed file header %q", header)
	}
	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || size < 0 {
		return status, it.ErrReceiveFile.Wrapf("malformed file size in header %q", header)
	}

	if _, err := s.stdin.Write([]byte{0}); err != nil {
		return status, it.ErrReceiveFile.Wrap(err)
	}

	sink := t.currentSink()
	buf := make([]byte, chunkSize)
	for remaining := size; remaining > 0; {
		n := chunkSize
		if remaining < int64(n) {
			n = int(remaining)
		}
		if _, err := io.ReadFull(s.stdout, buf[:n]); err != nil {
			return status, it.ErrReceiveFile.Wrapf("short read from the SUT: %v", err)
		}
		if w, err := dst.Write(buf[:n]); err != nil || w != n {
			return status, it.ErrLocalFile.Wrapf("writing local file: %v", err)
		}
		sink.Write(false, []byte{'.'})
		remaining -= int64(n)
	}

	// The source terminates the file with its own status byte.
	if err := readAck(s.stdout); err != nil {
		status.Major = statusByte(err)
		return status, it.ErrReceiveFile.Wrap(err)
	}
	if _, err := s.stdin.Write([]byte{0}); err != nil {
		return status, it.ErrReceiveFile.Wrap(err)
	}
	sink.Write(false, []byte{'\n'})

	exit, err := s.finish()
	if err != nil {
		return status, it.ErrReceiveFile.Wrap(err)
	}
	status.Minor = exit

	if !status.Zero() {
		return status, it.ErrRemoteFile.Wrapf("remote scp exited with %d", exit)
	}

	return status, nil
}
