package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	xssh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/vikas-lamba/twopence/internal/retry"
)

// DefaultUser is the remote account used when a command names none.
const DefaultUser = "root"

// client holds the immutable per-target session template. Every command or
// file transfer clones the template, overrides the user, dials and opens a
// fresh session, and releases both again on teardown.
type client struct {
	clientConfig *xssh.ClientConfig
	transportCfg *transportCfg
	log          *zap.SugaredLogger
}

type transportCfg struct {
	user    string
	host    string
	key     string
	keyPath string
	port    string
}

// defaultKeyPaths are the standard locations probed for key material when
// none was configured explicitly.
var defaultKeyPaths = []string{".ssh/id_ed25519", ".ssh/id_rsa"}

func (c *client) parseKey(key string) (xssh.AuthMethod, error) {
	signer, err := xssh.ParsePrivateKey([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	return xssh.PublicKeys(signer), nil
}

func (c *client) readFile(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	handle, err := os.Open(abs)
	if err != nil {
		return "", err
	}
	defer handle.Close()

	buf := bytes.Buffer{}
	if _, err = buf.ReadFrom(handle); err != nil {
		return "", err
	}

	return strings.TrimSpace(buf.String()), nil
}

// init builds the session template from the transport configuration.
// Authentication is public key only: an explicit key when one is
// configured, otherwise keys found in the user's standard locations.
// newSession adds any reachable SSH agent per session.
func (c *client) init() error {
	c.clientConfig = &xssh.ClientConfig{
		Config: xssh.Config{},
		User:   c.transportCfg.user,
		//nolint:gosec// it's okay to ignore our host key
		HostKeyCallback: xssh.InsecureIgnoreHostKey(),
		Auth:            []xssh.AuthMethod{},
	}

	c.clientConfig.SetDefaults() // Use the default ciphers and key exchanges

	key := c.transportCfg.key
	if c.transportCfg.keyPath != "" {
		var err error
		key, err = c.readFile(c.transportCfg.keyPath)
		if err != nil {
			return err
		}
	}

	if key != "" {
		auth, err := c.parseKey(key)
		if err != nil {
			return err
		}
		c.clientConfig.Auth = append(c.clientConfig.Auth, auth)

		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	for _, rel := range defaultKeyPaths {
		key, err := c.readFile(filepath.Join(home, rel))
		if err != nil {
			continue
		}
		auth, err := c.parseKey(key)
		if err != nil {
			continue
		}
		c.clientConfig.Auth = append(c.clientConfig.Auth, auth)
	}

	return nil
}

// newSession clones the template, overrides the user, dials the target and
// opens a session. The returned cleanup releases the session, the client
// connection and any agent connection, and is safe to run on every exit
// path.
func (c *client) newSession(ctx context.Context, user string) (*xssh.Session, func() error, error) {
	if user == "" {
		user = c.transportCfg.user
	}
	if user == "" {
		user = DefaultUser
	}

	config := *c.clientConfig
	config.User = user
	config.Auth = append([]xssh.AuthMethod{}, c.clientConfig.Auth...)
	config.Timeout = 5 * time.Second

	var agentConn net.Conn
	if conn, auth, ok := c.connectSSHAgent(ctx); ok {
		config.Auth = append(config.Auth, auth)
		agentConn = conn
	}

	addr := net.JoinHostPort(c.transportCfg.host, c.transportCfg.port)

	// sshd on a freshly booted SUT may not accept connections yet, so the
	// dial is retried on short intervals within the caller's deadline.
	dial, err := retry.NewRetrier(
		retry.WithMaxRetries(5),
		retry.WithIntervalFunc(retry.IntervalDuration(2*time.Second)),
		retry.WithRetrierFunc(func(ctx context.Context) (any, error) {
			return xssh.Dial("tcp", addr, &config)
		}),
	)
	if err != nil {
		closeQuiet(agentConn)
		return nil, nil, err
	}

	res, err := retry.Retry(ctx, dial)
	if err != nil {
		closeQuiet(agentConn)
		return nil, nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	conn := res.(*xssh.Client)

	session, err := conn.NewSession()
	if err != nil {
		closeQuiet(agentConn)
		closeQuiet(conn)
		return nil, nil, fmt.Errorf("creating SSH session: %w", err)
	}

	c.log.Debugw("opened session", "addr", addr, "user", user)

	cleanup := func() error {
		merr := &multierror.Error{}

		if err := session.Close(); err != nil && !errors.Is(err, io.EOF) {
			merr = multierror.Append(merr, err)
		}
		if err := conn.Close(); err != nil && !errors.Is(err, io.EOF) {
			merr = multierror.Append(merr, err)
		}
		if agentConn != nil {
			if err := agentConn.Close(); err != nil && !errors.Is(err, io.EOF) {
				merr = multierror.Append(merr, err)
			}
		}

		return merr.ErrorOrNil()
	}

	return session, cleanup, nil
}

func (c *client) connectSSHAgent(ctx context.Context) (net.Conn, xssh.AuthMethod, bool) {
	var auth xssh.AuthMethod

	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, auth, false
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "unix", sock)
	if err != nil {
		return nil, auth, false
	}

	return conn, xssh.PublicKeysCallback(agent.NewClient(conn).Signers), true
}

func closeQuiet(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
