package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeCertPair writes a throwaway self-signed certificate and key
func writeCertPair(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o600))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))
	return certFile, keyFile
}

func TestClientConfigDefaults(t *testing.T) {
	cfg, err := ClientConfig("", "", "", false)
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.False(t, cfg.InsecureSkipVerify)
	assert.Empty(t, cfg.Certificates)
	assert.Nil(t, cfg.RootCAs)
}

func TestClientConfigWithCertPair(t *testing.T) {
	certFile, keyFile := writeCertPair(t)
	cfg, err := ClientConfig(certFile, keyFile, "", false)
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
}

func TestClientConfigWithCABundle(t *testing.T) {
	certFile, _ := writeCertPair(t)
	cfg, err := ClientConfig("", "", certFile, false)
	require.NoError(t, err)
	assert.NotNil(t, cfg.RootCAs)
}

func TestClientConfigSkipVerify(t *testing.T) {
	cfg, err := ClientConfig("", "", "", true)
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)
}

func TestClientConfigErrors(t *testing.T) {
	_, err := ClientConfig("missing.pem", "missing-key.pem", "", false)
	assert.Error(t, err)

	badCA := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(badCA, []byte("not pem"), 0o600))
	_, err = ClientConfig("", "", badCA, false)
	assert.Error(t, err)
}
