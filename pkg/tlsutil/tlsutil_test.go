package tlsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientConfig_TrustsCAFile(t *testing.T) {
	_, certPEM, err := SelfSigned("localhost", "127.0.0.1")
	require.NoError(t, err)

	ca := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(ca, certPEM, 0o600))

	cfg, err := ClientConfig("localhost", ca, false)
	require.NoError(t, err)
	assert.NotNil(t, cfg.RootCAs)
	assert.False(t, cfg.InsecureSkipVerify)
}

func TestClientConfig_BadCAFile(t *testing.T) {
	ca := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(ca, []byte("nope"), 0o600))
	_, err := ClientConfig("", ca, false)
	assert.Error(t, err)

	_, err = ServerConfig("missing.crt", "missing.key")
	assert.Error(t, err)
}
