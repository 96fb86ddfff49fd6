package selfsigned

import (
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCertificate(t *testing.T) {
	cert, err := Certificate("example.local", "10.0.0.1")
	require.NoError(t, err)
	require.NotEmpty(t, cert.Certificate)

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	require.NoError(t, leaf.VerifyHostname("localhost"))
	require.NoError(t, leaf.VerifyHostname("127.0.0.1"))
	require.NoError(t, leaf.VerifyHostname("example.local"))
	require.NoError(t, leaf.VerifyHostname("10.0.0.1"))
	require.Error(t, leaf.VerifyHostname("example.com"))
}
