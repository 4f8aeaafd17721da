package transport

import (
	"context"
	"io"
	"io/fs"
	"sync"
)

// Target is a handle bound to one backend instance addressing one SUT.
// All remote operations flow through it. A Target is not safe for
// concurrent foreground commands; the backend enforces the single
// foreground transaction invariant.
type Target struct {
	backend Backend
	sink    *Sink

	closeOnce sync.Once
	closeErr  error
}

func newTarget(backend Backend) *Target {
	t := &Target{
		backend: backend,
		sink:    NewSink(SinkDiscard, 0),
	}
	backend.SetSink(t.sink)

	return t
}

// Type returns the scheme of the bound backend.
func (t *Target) Type() TransportType {
	return t.backend.Type()
}

// SetSink rebinds where remote stdout/stderr bytes are delivered for
// subsequent operations.
func (t *Target) SetSink(sink *Sink) {
	if sink == nil {
		sink = NewSink(SinkDiscard, 0)
	}
	t.sink = sink
	t.backend.SetSink(sink)
}

// Sink returns the current output sink.
func (t *Target) Sink() *Sink {
	return t.sink
}

// Run executes a foreground command on the SUT and returns its status.
func (t *Target) Run(ctx context.Context, cmd Command) (Status, error) {
	if cmd == nil || cmd.Cmd() == "" {
		return Status{}, ErrParameter.Wrapf("empty command")
	}

	return t.backend.Run(ctx, cmd)
}

// Inject uploads a local byte source to a remote path.
func (t *Target) Inject(ctx context.Context, user string, src Copyable, dst string, mode fs.FileMode) (Status, error) {
	if src == nil || dst == "" {
		return Status{}, ErrParameter.Wrapf("missing source or destination")
	}

	return t.backend.Inject(ctx, user, src, dst, mode)
}

// Extract downloads a remote path into a local writer.
func (t *Target) Extract(ctx context.Context, user string, src string, dst io.Writer) (Status, error) {
	if src == "" || dst == nil {
		return Status{}, ErrParameter.Wrapf("missing source or destination")
	}

	return t.backend.Extract(ctx, user, src, dst)
}

// InjectReader uploads from an arbitrary reader. The transfer protocol
// announces the file length up front, so the reader is drained into memory
// first; a source that fails to buffer reports a local file error.
func (t *Target) InjectReader(ctx context.Context, user string, src io.Reader, dst string, mode fs.FileMode) (Status, error) {
	if src == nil {
		return Status{}, ErrParameter.Wrapf("missing source")
	}

	buffered, err := bufferSource(src)
	if err != nil {
		return Status{}, ErrLocalFile.Wrap(err)
	}
	defer buffered.Close()

	return t.Inject(ctx, user, buffered, dst, mode)
}

// Interrupt forwards a controller interrupt to the foreground command.
func (t *Target) Interrupt() error {
	return t.backend.Interrupt()
}

// ExitRemote asks the SUT side to shut down. Backends without a wire
// representation for this return ErrNotSupported.
func (t *Target) ExitRemote() error {
	return t.backend.ExitRemote()
}

// Close releases the backend. It is idempotent and the sole releaser of the
// backend's resources.
func (t *Target) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.backend.Close()
	})

	return t.closeErr
}
