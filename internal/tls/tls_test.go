package tls

import (
	"crypto/tls"
	"path/filepath"
	"testing"

	"github.com/loykin/invigil/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_Disabled(t *testing.T) {
	c, err := Setup(nil)
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = Setup(&config.TLSConfig{Enabled: false, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestSetup_AutoGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tls")
	c, err := Setup(&config.TLSConfig{Enabled: true, Dir: dir, AutoGenerate: true, MinVersion: "1.2"})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, uint16(tls.VersionTLS12), c.MinVersion)

	cert, err := c.GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	require.NotEmpty(t, cert.Certificate)
	assert.FileExists(t, filepath.Join(dir, certName))
	assert.FileExists(t, filepath.Join(dir, keyName))
}

func TestSetup_ExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	cp, kp := filepath.Join(dir, "a.crt"), filepath.Join(dir, "a.key")
	require.NoError(t, GenerateSelfSigned(CertConfig{CommonName: "exam.local", CertPath: cp, KeyPath: kp}))

	c, err := Setup(&config.TLSConfig{Enabled: true, CertFile: cp, KeyFile: kp})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), c.MinVersion)
}

func TestSetup_MissingFiles(t *testing.T) {
	_, err := Setup(&config.TLSConfig{Enabled: true, Dir: t.TempDir()})
	require.Error(t, err)

	_, err = Setup(&config.TLSConfig{Enabled: true})
	require.Error(t, err)
}
