package reactor

import (
	"crypto/tls"
	"log"
	"os"
	"path/filepath"
	"runtime"

	"github.com/indigo-web/reactor/internal/selfsigned"
	"golang.org/x/crypto/acme/autocert"
)

func homeDir() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("HOMEDRIVE") + os.Getenv("HOMEPATH")
	}
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return "/"
}

func cacheDir() string {
	const base = "golang-autocert"
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Caches", base)
	case "windows":
		for _, ev := range []string{"APPDATA", "CSIDL_APPDATA", "TEMP", "TMP"} {
			if v := os.Getenv(ev); v != "" {
				return filepath.Join(v, base)
			}
		}
		return filepath.Join(homeDir(), base)
	}
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, base)
	}
	return filepath.Join(homeDir(), ".cache", base)
}

func tlsFromFiles(cert, key string) (*tls.Config, error) {
	certificate, err := tls.LoadX509KeyPair(cert, key)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{certificate},
	}, nil
}

func autoTLSConfig(domains ...string) *tls.Config {
	m := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
	}

	if len(domains) > 0 {
		m.HostPolicy = autocert.HostWhitelist(domains...)
	}

	cache := cacheDir()
	if err := mkdirIfNotExists(cache); err != nil {
		log.Printf("WARNING: auto HTTPS: not using a cache: %s", err)
	} else {
		m.Cache = autocert.DirCache(cache)
	}

	return &tls.Config{
		GetCertificate: m.GetCertificate,
	}
}

// generateSelfSignedCert returns the paths of a cached self-signed localhost
// certificate, issuing it first if necessary.
func generateSelfSignedCert() (cert, key string, err error) {
	var (
		cache        = cacheDir()
		certFilename = filepath.Join(cache, "localhost.crt")
		keyFilename  = filepath.Join(cache, "localhost.key")
	)

	if certExists(certFilename, keyFilename) {
		return certFilename, keyFilename, nil
	}

	if err = mkdirIfNotExists(cache); err != nil {
		return "", "", err
	}

	certPEM, keyPEM, err := selfsigned.Generate()
	if err != nil {
		return "", "", err
	}

	if err = os.WriteFile(certFilename, certPEM, 0600); err != nil {
		return "", "", err
	}

	if err = os.WriteFile(keyFilename, keyPEM, 0600); err != nil {
		return "", "", err
	}

	return certFilename, keyFilename, nil
}

func mkdirIfNotExists(dir string) error {
	if stat, err := os.Stat(dir); err == nil && stat.IsDir() {
		return nil
	}

	return os.MkdirAll(dir, 0700)
}

func certExists(cert, key string) bool {
	return fileExists(cert) && fileExists(key)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
