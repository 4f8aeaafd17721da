package ssh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	it "github.com/vikas-lamba/twopence/transport"
)

func TestParseSpec(t *testing.T) {
	t.Parallel()

	tests := []struct {
		spec     string
		wantHost string
		wantPort string
		wantErr  bool
	}{
		{spec: "sut.example.com", wantHost: "sut.example.com", wantPort: "22"},
		{spec: "sut.example.com:2222", wantHost: "sut.example.com", wantPort: "2222"},
		{spec: "10.0.0.7", wantHost: "10.0.0.7", wantPort: "22"},
		{spec: "10.0.0.7:8022", wantHost: "10.0.0.7", wantPort: "8022"},
		{spec: "[::1]", wantHost: "::1", wantPort: "22"},
		{spec: "[::1]:2222", wantHost: "::1", wantPort: "2222"},
		{spec: "[fe80::42]:1", wantHost: "fe80::42", wantPort: "1"},
		{spec: "", wantErr: true},
		{spec: ":22", wantErr: true},
		{spec: "host:", wantErr: true},
		{spec: "host:0", wantErr: true},
		{spec: "host:-1", wantErr: true},
		{spec: "host:65535", wantErr: true},
		{spec: "host:65536", wantErr: true},
		{spec: "host:22x", wantErr: true},
		{spec: "host:22:extra", wantErr: true},
		{spec: "[::1", wantErr: true},
		{spec: "[::1]garbage", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.spec, func(t *testing.T) {
			host, port, err := parseSpec(tt.spec)
			if tt.wantErr {
				require.ErrorIs(t, err, it.ErrInvalidTarget)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPort, port)
		})
	}
}

func TestParseSpecPortUpperBoundIsStrict(t *testing.T) {
	t.Parallel()

	_, _, err := parseSpec("host:65534")
	require.NoError(t, err)

	_, _, err = parseSpec("host:65535")
	require.ErrorIs(t, err, it.ErrInvalidTarget)
}

func TestNewFromSpecInvalid(t *testing.T) {
	t.Parallel()

	_, err := NewFromSpec("not a hostname:22")
	require.ErrorIs(t, err, it.ErrInvalidTarget)
}
