package command

import (
	"fmt"
	"io"
	"maps"
	"strings"
	"time"

	it "github.com/vikas-lamba/twopence/transport"
)

// DefaultUser is the remote account commands run as unless overridden.
const DefaultUser = "root"

// DefaultTimeout bounds a command's wall-clock run time unless overridden.
const DefaultTimeout = 60 * time.Second

type cmd struct {
	env     map[string]string
	cmd     string
	user    string
	timeout time.Duration
	tty     bool
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}

var _ it.Command = (*cmd)(nil)

// Opt is a functional option.
type Opt func(*cmd)

// New takes a command line and zero or more functional options and returns
// a new command.
func New(command string, opts ...Opt) it.Command {
	c := &cmd{
		cmd:     command,
		env:     map[string]string{},
		user:    DefaultUser,
		timeout: DefaultTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithUser sets the remote user the command runs as.
func WithUser(user string) func(*cmd) {
	return func(c *cmd) {
		if user != "" {
			c.user = user
		}
	}
}

// WithTimeout sets the command deadline.
func WithTimeout(d time.Duration) func(*cmd) {
	return func(c *cmd) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithPTY requests a pseudo-terminal for the command.
func WithPTY() func(*cmd) {
	return func(c *cmd) {
		c.tty = true
	}
}

// WithStdin binds the local source forwarded to the remote command.
func WithStdin(r io.Reader) func(*cmd) {
	return func(c *cmd) {
		c.stdin = r
	}
}

// WithStdout overrides the target sink for remote stdout.
func WithStdout(w io.Writer) func(*cmd) {
	return func(c *cmd) {
		c.stdout = w
	}
}

// WithStderr overrides the target sink for remote stderr.
func WithStderr(w io.Writer) func(*cmd) {
	return func(c *cmd) {
		c.stderr = w
	}
}

// WithEnvVars sets the environment variables.
func WithEnvVars(vars map[string]string) func(*cmd) {
	return func(c *cmd) {
		maps.Copy(c.env, vars)
	}
}

// WithEnvVar sets the environment variable.
func WithEnvVar(key, value string) func(*cmd) {
	return func(c *cmd) {
		c.env[key] = value
	}
}

func (c *cmd) Cmd() string {
	out := strings.Builder{}

	for key, val := range c.env {
		out.WriteString(fmt.Sprintf("%s='%s' ", key, val))
	}

	out.WriteString(c.cmd)

	return out.String()
}

func (c *cmd) User() string {
	return c.user
}

func (c *cmd) Timeout() time.Duration {
	return c.timeout
}

func (c *cmd) RequestPTY() bool {
	return c.tty
}

func (c *cmd) Stdin() io.Reader {
	return c.stdin
}

func (c *cmd) Stdout() io.Writer {
	return c.stdout
}

func (c *cmd) Stderr() io.Writer {
	return c.stderr
}
