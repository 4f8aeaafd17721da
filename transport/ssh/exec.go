package ssh

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	xssh "golang.org/x/crypto/ssh"

	it "github.com/vikas-lamba/twopence/transport"
)

// Control bytes delivered over the channel when a PTY was granted.
const (
	ctrlC = 0x03
	ctrlD = 0x04
)

// execSession is the per-command transaction. It owns one session and its
// stdin pipe and is registered as the target's single foreground
// transaction for the duration of the command.
type execSession struct {
	session *xssh.Session
	cleanup func() error

	mu      sync.Mutex // serializes stdin writes and the eofSent flag
	stdin   io.WriteCloser
	eofSent bool

	useTTY      bool
	interrupted atomic.Bool
}

// sendEOF forwards the logical end-of-file to the channel: a literal Ctrl-D
// first when a PTY was granted, then the half-close. All successfully
// forwarded stdin bytes precede it.
func (x *execSession) sendEOF() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.eofSent || x.stdin == nil {
		return nil
	}
	x.eofSent = true

	if x.useTTY {
		if _, err := x.stdin.Write([]byte{ctrlD}); err != nil {
			_ = x.stdin.Close()
			return err
		}
	}

	return x.stdin.Close()
}

func (x *execSession) close() error {
	if x.cleanup == nil {
		return nil
	}

	return x.cleanup()
}

// errSlot latches the first error stored into it, mirroring the
// transaction's one-shot exception slot.
type errSlot struct {
	mu  sync.Mutex
	err error
}

func (s *errSlot) set(err error) {
	if err == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err == nil {
		s.err = err
	}
}

func (s *errSlot) get() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// lockedWriter serializes writes from the stdout and stderr drains, which
// may share one sink buffer.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.w.Write(p)
}

// Run executes cmd as the target's foreground command and captures its exit
// status. A failed run returns a zero status alongside the error; teardown
// runs on every path.
func (t *transport) Run(ctx context.Context, cmd it.Command) (it.Status, error) {
	var status it.Status

	if cmd == nil || cmd.Cmd() == "" {
		return status, it.ErrParameter.Wrapf("empty command")
	}

	fg := &execSession{useTTY: cmd.RequestPTY()}

	// Single foreground transaction per target. A second concurrent Run is
	// rejected at the API boundary.
	t.mu.Lock()
	if t.fg != nil {
		t.mu.Unlock()
		return status, it.ErrOpenSession.Wrapf("a foreground command is already running")
	}
	t.fg = fg
	sink := t.sink
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		if t.fg == fg {
			t.fg = nil
		}
		t.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, cmd.Timeout())
	defer cancel()

	session, cleanup, err := t.client.newSession(ctx, cmd.User())
	if err != nil {
		return status, it.ErrOpenSession.Wrap(err)
	}
	fg.session = session
	fg.cleanup = cleanup
	defer func() {
		if err := fg.close(); err != nil {
			t.log.Debugw("session teardown", "err", err)
		}
	}()

	if cmd.RequestPTY() {
		modes := xssh.TerminalModes{
			xssh.ECHO:          0,
			xssh.TTY_OP_ISPEED: 14400,
			xssh.TTY_OP_OSPEED: 14400,
		}
		if err := session.RequestPty("xterm", 24, 80, modes); err != nil {
			return status, it.ErrOpenSession.Wrap(err)
		}
	}

	// Remote stdout and stderr drain to the bound writers in the order the
	// channel reports them; a shared sink buffer is serialized.
	var sinkMu sync.Mutex
	stdout := cmd.Stdout()
	if stdout == nil {
		stdout = &lockedWriter{mu: &sinkMu, w: sink.Stdout()}
	}
	stderr := cmd.Stderr()
	if stderr == nil {
		stderr = &lockedWriter{mu: &sinkMu, w: sink.Stderr()}
	}
	session.Stdout = stdout
	session.Stderr = stderr

	stdinPipe, err := session.StdinPipe()
	if err != nil {
		return status, it.ErrOpenSession.Wrap(err)
	}
	fg.mu.Lock()
	fg.stdin = stdinPipe
	fg.mu.Unlock()

	if err := session.Start(cmd.Cmd()); err != nil {
		return status, it.ErrSendCommand.Wrap(err)
	}

	// First error wins; a stored error overrides the captured status.
	slot := &errSlot{}

	go t.forwardStdin(fg, cmd.Stdin(), slot)

	waitC := make(chan error, 1)
	go func() { waitC <- session.Wait() }()

	select {
	case err = <-waitC:
	case <-ctx.Done():
		_ = session.Close()
		<-waitC
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return status, it.ErrCommandTimeout
		}

		return status, it.ErrReceiveResults.Wrap(ctx.Err())
	}

	if e := slot.get(); e != nil {
		return it.Status{}, e
	}

	return captureStatus(err)
}

// forwardStdin pumps the local stdin source to the channel in bounded
// chunks and forwards the logical EOF once the source is exhausted. An
// unbound source forwards EOF immediately.
func (t *transport) forwardStdin(fg *execSession, in io.Reader, slot *errSlot) {
	if in != nil {
		buf := make([]byte, chunkSize)
		for {
			n, rerr := in.Read(buf)
			if n > 0 {
				fg.mu.Lock()
				var werr error
				if fg.eofSent {
					werr = io.ErrClosedPipe
				} else {
					_, werr = fg.stdin.Write(buf[:n])
				}
				fg.mu.Unlock()
				if werr != nil {
					slot.set(it.ErrForwardInput.Wrap(werr))
					return
				}
			}
			if rerr != nil {
				if rerr != io.EOF {
					slot.set(it.ErrForwardInput.Wrap(rerr))
					return
				}
				break
			}
		}
	}

	if err := fg.sendEOF(); err != nil {
		slot.set(it.ErrForwardInput.Wrap(err))
	}
}

// captureStatus translates the session's exit report. A numeric code lands
// in Minor; death by signal is reported as {MajorSignalled, signal number};
// a vanished status is a receive error.
func captureStatus(err error) (it.Status, error) {
	if err == nil {
		return it.Status{}, nil
	}

	var exitErr *xssh.ExitError
	if errors.As(err, &exitErr) {
		if sig := exitErr.Signal(); sig != "" {
			return it.Status{Major: it.MajorSignalled, Minor: signalNumber(sig)}, nil
		}

		return it.Status{Minor: exitErr.ExitStatus()}, nil
	}

	// anything else, including a vanished exit status, is a receive failure
	return it.Status{}, it.ErrReceiveResults.Wrap(err)
}

// Interrupt forwards a controller interrupt to the foreground command.
// With a PTY the interrupt travels as a literal Ctrl-C byte on the channel;
// without one the transaction is only flagged, as the peer implementation
// does not reliably deliver cross-channel signals.
func (t *transport) Interrupt() error {
	t.mu.Lock()
	fg := t.fg
	t.mu.Unlock()

	if fg == nil {
		return it.ErrOpenSession.Wrapf("no foreground command")
	}

	fg.mu.Lock()
	defer fg.mu.Unlock()

	if fg.stdin == nil {
		return it.ErrOpenSession.Wrapf("no open channel")
	}

	if !fg.useTTY {
		fg.interrupted.Store(true)
		return nil
	}

	if fg.eofSent {
		return it.ErrInterrupt.Wrapf("input channel already half-closed")
	}

	n, err := fg.stdin.Write([]byte{ctrlC})
	if err != nil || n != 1 {
		return it.ErrInterrupt.Wrap(err)
	}

	return nil
}
