package ssh

import (
	"strconv"
	"strings"
	"sync"

	"github.com/asaskevich/govalidator"
	"go.uber.org/zap"
	xssh "golang.org/x/crypto/ssh"

	it "github.com/vikas-lamba/twopence/transport"
)

// DefaultPort is used when the target spec carries no port suffix.
const DefaultPort = "22"

// chunkSize is the unit of all stream forwarding and file transfer reads.
const chunkSize = 16 * 1024

func init() {
	it.Register("ssh", func(spec string) (it.Backend, error) {
		return NewFromSpec(spec)
	})
}

// Opt is a functional option for the SSH backend.
type Opt func(*transport)

type transport struct {
	it.Unsupported

	client *client
	log    *zap.SugaredLogger

	mu   sync.Mutex
	sink *it.Sink
	fg   *execSession
}

var _ it.Backend = (*transport)(nil)

// NewFromSpec builds an SSH backend from the backend part of a target spec,
// "HOST[:PORT]" with an optionally bracketed IPv6 host.
func NewFromSpec(spec string) (it.Backend, error) {
	host, port, err := parseSpec(spec)
	if err != nil {
		return nil, err
	}

	return New(WithHost(host), WithPort(port))
}

// New takes zero or more functional options and returns a new SSH backend.
func New(opts ...Opt) (it.Backend, error) {
	t := &transport{
		client: &client{
			clientConfig: &xssh.ClientConfig{},
			transportCfg: &transportCfg{
				port: DefaultPort,
			},
		},
		log:  zap.NewNop().Sugar(),
		sink: it.NewSink(it.SinkDiscard, 0),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.client.log = t.log

	if err := t.client.init(); err != nil {
		return nil, it.ErrInvalidTarget.Wrap(err)
	}

	return t, nil
}

// WithHost sets the host.
func WithHost(h string) func(*transport) {
	return func(t *transport) {
		t.client.transportCfg.host = h
	}
}

// WithPort sets the port.
func WithPort(p string) func(*transport) {
	return func(t *transport) {
		t.client.transportCfg.port = p
	}
}

// WithUser sets the default remote user.
func WithUser(u string) func(*transport) {
	return func(t *transport) {
		t.client.transportCfg.user = u
	}
}

// WithKey sets the private key.
func WithKey(k string) func(*transport) {
	return func(t *transport) {
		t.client.transportCfg.key = k
	}
}

// WithKeyPath sets the private key path.
func WithKeyPath(p string) func(*transport) {
	return func(t *transport) {
		t.client.transportCfg.keyPath = p
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.SugaredLogger) func(*transport) {
	return func(t *transport) {
		if log != nil {
			t.log = log
		}
	}
}

// parseSpec splits "HOST[:PORT]" into host and port. IPv6 hosts use the
// bracket form "[addr]"; otherwise the rightmost ':' separates the port
// from the host. The port must be a decimal in (0, 65535).
func parseSpec(spec string) (string, string, error) {
	host := spec
	port := ""
	hasPort := false

	if strings.HasPrefix(spec, "[") {
		end := strings.IndexByte(spec, ']')
		if end < 0 {
			return "", "", it.ErrInvalidTarget.Wrapf("unterminated address bracket in %q", spec)
		}
		host = spec[1:end]
		rest := spec[end+1:]
		switch {
		case rest == "":
		case strings.HasPrefix(rest, ":"):
			port = rest[1:]
			hasPort = true
		default:
			return "", "", it.ErrInvalidTarget.Wrapf("trailing garbage after address in %q", spec)
		}
	} else if i := strings.LastIndexByte(spec, ':'); i >= 0 {
		host = spec[:i]
		port = spec[i+1:]
		hasPort = true
	}

	if host == "" || !govalidator.IsHost(host) {
		return "", "", it.ErrInvalidTarget.Wrapf("invalid host in %q", spec)
	}

	if !hasPort {
		return host, DefaultPort, nil
	}

	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n >= 65535 {
		return "", "", it.ErrInvalidTarget.Wrapf("invalid port in %q", spec)
	}

	return host, port, nil
}

// Type returns the backend's scheme name.
func (t *transport) Type() it.TransportType {
	return it.TransportType("ssh")
}

// SetSink rebinds the destination for remote output and transfer progress.
func (t *transport) SetSink(sink *it.Sink) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sink != nil {
		t.sink = sink
	}
}

func (t *transport) currentSink() *it.Sink {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.sink
}

// Close tears down any live foreground transaction. The backend dials per
// transaction, so there is no long-lived connection to release.
func (t *transport) Close() error {
	t.mu.Lock()
	fg := t.fg
	t.fg = nil
	t.mu.Unlock()

	if fg != nil {
		return fg.close()
	}

	return nil
}
