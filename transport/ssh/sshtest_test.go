package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"path"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	xssh "golang.org/x/crypto/ssh"
)

// testServer is a minimal in-process SSH server scripting the SUT side of
// the protocol: exec with canned behaviors, exit-status and exit-signal
// reports, and an scp responder over an in-memory file store.
type testServer struct {
	t        *testing.T
	listener net.Listener
	config   *xssh.ServerConfig
	wg       sync.WaitGroup

	mu    sync.Mutex
	dirs  map[string]bool
	files map[string][]byte
}

type exitSignalMsg struct {
	Signal     string
	CoreDumped bool
	Error      string
	Lang       string
}

type exitStatusMsg struct {
	Status uint32
}

// newTestKey generates a client key pair, returning the PEM form of the
// private key for the transport options.
func newTestKey(t *testing.T) string {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)

	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := xssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	config := &xssh.ServerConfig{
		PublicKeyCallback: func(xssh.ConnMetadata, xssh.PublicKey) (*xssh.Permissions, error) {
			return &xssh.Permissions{}, nil
		},
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &testServer{
		t:        t,
		listener: listener,
		config:   config,
		dirs:     map[string]bool{"/tmp": true, ".": true},
		files:    map[string][]byte{},
	}

	s.wg.Add(1)
	go s.serve()

	t.Cleanup(func() {
		listener.Close()
		s.wg.Wait()
	})

	return s
}

// Addr returns the host and port the server listens on.
func (s *testServer) Addr() (string, string) {
	host, port, err := net.SplitHostPort(s.listener.Addr().String())
	require.NoError(s.t, err)

	return host, port
}

func (s *testServer) file(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.files[name]

	return data, ok
}

func (s *testServer) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *testServer) handleConn(conn net.Conn) {
	sshConn, chans, reqs, err := xssh.NewServerConn(conn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go xssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(xssh.UnknownChannelType, "unknown channel type")
			continue
		}

		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleSession(ch, chReqs)
		}()
	}
}

func (s *testServer) handleSession(ch xssh.Channel, reqs <-chan *xssh.Request) {
	defer ch.Close()

	for req := range reqs {
		switch req.Type {
		case "pty-req", "env":
			req.Reply(true, nil)
		case "exec":
			var msg struct{ Command string }
			if err := xssh.Unmarshal(req.Payload, &msg); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			s.runCommand(ch, msg.Command)

			return
		default:
			req.Reply(false, nil)
		}
	}
}

func (s *testServer) exit(ch xssh.Channel, code uint32) {
	ch.CloseWrite()
	ch.SendRequest("exit-status", false, xssh.Marshal(exitStatusMsg{Status: code}))
}

func (s *testServer) exitSignal(ch xssh.Channel, name string) {
	ch.CloseWrite()
	ch.SendRequest("exit-signal", false, xssh.Marshal(exitSignalMsg{Signal: name}))
}

func (s *testServer) runCommand(ch xssh.Channel, cmdline string) {
	if strings.HasPrefix(cmdline, "scp ") {
		s.runSCP(ch, cmdline)
		return
	}

	switch {
	case cmdline == "/bin/echo hello":
		fmt.Fprintln(ch, "hello")
		s.exit(ch, 0)
	case cmdline == "errout":
		fmt.Fprintln(ch.Stderr(), "oops")
		s.exit(ch, 0)
	case cmdline == "both":
		fmt.Fprint(ch, "out")
		fmt.Fprint(ch.Stderr(), "err")
		s.exit(ch, 0)
	case strings.HasPrefix(cmdline, "exit "):
		var code uint32
		fmt.Sscanf(cmdline, "exit %d", &code)
		s.exit(ch, code)
	case strings.HasPrefix(cmdline, "die "):
		s.exitSignal(ch, strings.TrimPrefix(cmdline, "die "))
	case cmdline == "cat":
		io.Copy(ch, ch)
		s.exit(ch, 0)
	case cmdline == "waitint":
		buf := make([]byte, 1)
		for {
			if _, err := ch.Read(buf); err != nil {
				s.exit(ch, 0)
				return
			}
			if buf[0] == 0x03 {
				s.exitSignal(ch, "INT")
				return
			}
		}
	case cmdline == "sleep":
		io.Copy(io.Discard, ch)
		// never reports an exit status; the client tears the channel down
	default:
		fmt.Fprintf(ch.Stderr(), "unknown command %q\n", cmdline)
		s.exit(ch, 127)
	}
}

// runSCP scripts the remote scp in source and sink modes against the
// in-memory store.
func (s *testServer) runSCP(ch xssh.Channel, cmdline string) {
	fields := strings.Fields(cmdline)
	mode := fields[1]
	target := fields[len(fields)-1]

	switch mode {
	case "-rf":
		s.scpSourceDir(ch, target)
	case "-f":
		s.scpSourceFile(ch, target)
	case "-t":
		s.scpSink(ch, target)
	default:
		fmt.Fprintf(ch.Stderr(), "unsupported scp invocation %q\n", cmdline)
		s.exit(ch, 1)
	}
}

func readByte(ch xssh.Channel) (byte, error) {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(ch, buf); err != nil {
		return 0, err
	}

	return buf[0], nil
}

func (s *testServer) scpError(ch xssh.Channel, format string, args ...any) {
	fmt.Fprintf(ch, "\x01scp: "+format+"\n", args...)
	s.exit(ch, 1)
}

func (s *testServer) scpSourceDir(ch xssh.Channel, dir string) {
	if _, err := readByte(ch); err != nil {
		return
	}

	s.mu.Lock()
	isDir := s.dirs[dir]
	data, isFile := s.files[dir]
	s.mu.Unlock()

	switch {
	case isDir:
		fmt.Fprintf(ch, "D0755 0 %s\n", path.Base(dir))
		// the client aborts here once it has seen the directory record
		readByte(ch)
		s.exit(ch, 0)
	case isFile:
		fmt.Fprintf(ch, "C0644 %d %s\n", len(data), path.Base(dir))
		readByte(ch)
		s.exit(ch, 1)
	default:
		s.scpError(ch, "%s: No such file or directory", dir)
	}
}

func (s *testServer) scpSourceFile(ch xssh.Channel, name string) {
	if _, err := readByte(ch); err != nil {
		return
	}

	data, ok := s.file(name)
	if !ok {
		s.scpError(ch, "%s: No such file or directory", name)
		return
	}

	fmt.Fprintf(ch, "C0644 %d %s\n", len(data), path.Base(name))
	if b, err := readByte(ch); err != nil || b != 0 {
		s.exit(ch, 1)
		return
	}
	ch.Write(data)
	ch.Write([]byte{0})
	readByte(ch)
	s.exit(ch, 0)
}

func (s *testServer) scpSink(ch xssh.Channel, dir string) {
	s.mu.Lock()
	isDir := s.dirs[dir]
	s.mu.Unlock()

	if !isDir {
		s.scpError(ch, "%s: No such file or directory", dir)
		return
	}

	ch.Write([]byte{0})

	header, err := readLine(ch)
	if err != nil {
		return
	}
	var perm uint32
	var size int64
	var name string
	if _, err := fmt.Sscanf(header, "C%04o %d %s", &perm, &size, &name); err != nil {
		s.scpError(ch, "protocol error: %v", err)
		return
	}
	ch.Write([]byte{0})

	data := make([]byte, size)
	if _, err := io.ReadFull(ch, data); err != nil {
		return
	}
	if b, err := readByte(ch); err != nil || b != 0 {
		s.scpError(ch, "protocol error: missing trailer")
		return
	}
	ch.Write([]byte{0})

	s.mu.Lock()
	s.files[path.Join(dir, name)] = data
	s.mu.Unlock()

	// drain until the client closes its side
	io.Copy(io.Discard, ch)
	s.exit(ch, 0)
}

func readLine(ch xssh.Channel) (string, error) {
	var line []byte
	buf := make([]byte, 1)
	for {
		if _, err := io.ReadFull(ch, buf); err != nil {
			return "", err
		}
		if buf[0] == '\n' {
			return string(line), nil
		}
		line = append(line, buf[0])
	}
}
