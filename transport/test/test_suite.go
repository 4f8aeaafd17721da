package test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	it "github.com/vikas-lamba/twopence/transport"
	"github.com/vikas-lamba/twopence/transport/command"
	"github.com/vikas-lamba/twopence/transport/file"
)

// TargetTestSuite exercises the public operation vector against any
// backend. Backends plug in a factory returning a ready target.
type TargetTestSuite struct {
	suite.Suite
	targetFn func(t *testing.T) *it.Target
}

func NewTargetTestSuite(targetFn func(t *testing.T) *it.Target) *TargetTestSuite {
	s := new(TargetTestSuite)
	s.targetFn = targetFn

	return s
}

func (s *TargetTestSuite) TestRun() {
	t := s.T()
	target := s.targetFn(t)
	t.Cleanup(func() { require.NoError(t, target.Close()) })

	tests := []struct {
		name       string
		cmd        it.Command
		wantStatus it.Status
		wantStdout string
		wantStderr string
	}{
		{
			name:       "clean_exit",
			cmd:        command.New("/bin/echo hello"),
			wantStatus: it.Status{},
			wantStdout: "hello\n",
		},
		{
			name:       "non_zero_exit",
			cmd:        command.New("/bin/sh -c 'exit 42'"),
			wantStatus: it.Status{Minor: 42},
		},
		{
			name:       "stderr_only",
			cmd:        command.New(">&2 /bin/echo oops"),
			wantStatus: it.Status{},
			wantStderr: "oops\n",
		},
	}
	for _, tt := range tests {
		tt := tt
		s.Run(tt.name, func() {
			sink := it.NewSink(it.SinkSplitBuffer, 1<<20)
			target.SetSink(sink)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			status, err := target.Run(ctx, tt.cmd)
			s.Require().NoError(err)
			s.Equal(tt.wantStatus, status)
			s.Equal(tt.wantStdout, string(sink.StdoutBytes()))
			s.Equal(tt.wantStderr, string(sink.StderrBytes()))
		})
	}
}

func (s *TargetTestSuite) TestFileRoundtrip() {
	t := s.T()
	target := s.targetFn(t)
	t.Cleanup(func() { require.NoError(t, target.Close()) })

	payload := bytes.Repeat([]byte("roundtrip data\n"), 7000)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	status, err := target.Inject(ctx, "root", file.NewBytes(payload), "/tmp/twopence_roundtrip", 0o644)
	s.Require().NoError(err)
	s.True(status.Zero())

	got := &bytes.Buffer{}
	status, err = target.Extract(ctx, "root", "/tmp/twopence_roundtrip", got)
	s.Require().NoError(err)
	s.True(status.Zero())
	s.Equal(payload, got.Bytes())
}

func (s *TargetTestSuite) TestExitRemoteUnsupported() {
	t := s.T()
	target := s.targetFn(t)
	t.Cleanup(func() { require.NoError(t, target.Close()) })

	s.ErrorIs(target.ExitRemote(), it.ErrNotSupported)
}
