package mock

import (
	"context"
	"io"
	"io/fs"
	"sync"

	it "github.com/vikas-lamba/twopence/transport"
)

func init() {
	it.Register("mock", func(spec string) (it.Backend, error) {
		return New(WithSpec(spec)), nil
	})
}

// Call records one operation invoked on the mock.
type Call struct {
	Op   string
	Cmd  string
	User string
	Path string
}

// Mock is a scripted backend, useful for dispatch-level tests.
type Mock struct {
	it.Unsupported

	mu     sync.Mutex
	spec   string
	sink   *it.Sink
	calls  []Call
	status it.Status
	stdout string
	stderr string
	runErr error
	files  map[string][]byte
}

var _ it.Backend = (*Mock)(nil)

// Opt is a functional option.
type Opt func(*Mock)

// New creates a new mock backend.
func New(opts ...Opt) *Mock {
	m := &Mock{
		sink:  it.NewSink(it.SinkDiscard, 0),
		files: map[string][]byte{},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// WithSpec records the backend spec the mock was initialized from.
func WithSpec(spec string) func(*Mock) {
	return func(m *Mock) {
		m.spec = spec
	}
}

// WithRunResult scripts the status and output of every Run.
func WithRunResult(status it.Status, stdout, stderr string) func(*Mock) {
	return func(m *Mock) {
		m.status = status
		m.stdout = stdout
		m.stderr = stderr
	}
}

// WithRunError scripts a Run failure.
func WithRunError(err error) func(*Mock) {
	return func(m *Mock) {
		m.runErr = err
	}
}

// Spec returns the backend spec the mock was initialized from.
func (m *Mock) Spec() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.spec
}

// Calls returns the operations invoked so far.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Call{}, m.calls...)
}

// Files exposes the mock's remote file store.
func (m *Mock) Files() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	files := map[string][]byte{}
	for k, v := range m.files {
		files[k] = append([]byte{}, v...)
	}

	return files
}

func (m *Mock) Type() it.TransportType {
	return it.TransportType("mock")
}

func (m *Mock) SetSink(sink *it.Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sink != nil {
		m.sink = sink
	}
}

func (m *Mock) Run(ctx context.Context, cmd it.Command) (it.Status, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Op: "run", Cmd: cmd.Cmd(), User: cmd.User()})
	sink := m.sink
	status, stdout, stderr, runErr := m.status, m.stdout, m.stderr, m.runErr
	m.mu.Unlock()

	if runErr != nil {
		return it.Status{}, runErr
	}

	out := cmd.Stdout()
	if out == nil {
		out = sink.Stdout()
	}
	errw := cmd.Stderr()
	if errw == nil {
		errw = sink.Stderr()
	}

	if stdout != "" {
		_, _ = io.WriteString(out, stdout)
	}
	if stderr != "" {
		_, _ = io.WriteString(errw, stderr)
	}

	return status, nil
}

func (m *Mock) Inject(ctx context.Context, user string, src it.Copyable, dst string, mode fs.FileMode) (it.Status, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return it.Status{}, it.ErrLocalFile.Wrap(err)
	}

	m.mu.Lock()
	m.calls = append(m.calls, Call{Op: "inject", User: user, Path: dst})
	m.files[dst] = data
	m.mu.Unlock()

	return it.Status{}, nil
}

func (m *Mock) Extract(ctx context.Context, user string, src string, dst io.Writer) (it.Status, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Op: "extract", User: user, Path: src})
	data, ok := m.files[src]
	m.mu.Unlock()

	if !ok {
		return it.Status{Major: 1}, it.ErrRemoteFile.Wrapf("no such file %q", src)
	}

	if _, err := dst.Write(data); err != nil {
		return it.Status{}, it.ErrLocalFile.Wrap(err)
	}

	return it.Status{}, nil
}

func (m *Mock) Interrupt() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: "interrupt"})

	return nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: "close"})

	return nil
}
