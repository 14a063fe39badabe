package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"net/http"
	"time"
)

// Options configures the shared HTTP client used for API calls and
// thumbnail downloads.
type Options struct {
	// CACertPEM is an optional PEM-encoded CA certificate appended to the
	// system pool. NAS devices commonly serve self-signed certificates.
	CACertPEM []byte

	// Insecure disables TLS verification entirely. Takes precedence over
	// CACertPEM.
	Insecure bool

	Timeout time.Duration
}

// New creates an http.Client configured with an optional custom CA
// certificate on top of the system CAs. With zero options it returns a
// client with only the timeout applied.
func New(opts Options, log *slog.Logger) *http.Client {
	if log == nil {
		log = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	tlsCfg := &tls.Config{}
	if opts.Insecure {
		log.Warn("TLS verification disabled")
		tlsCfg.InsecureSkipVerify = true
	} else if len(opts.CACertPEM) > 0 {
		rootCAs, err := x509.SystemCertPool()
		if err != nil || rootCAs == nil {
			rootCAs = x509.NewCertPool()
		}
		if !rootCAs.AppendCertsFromPEM(opts.CACertPEM) {
			log.Error("Failed to parse custom CA certificate")
		}
		tlsCfg.RootCAs = rootCAs
	}

	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: tlsCfg,
		},
		Timeout: opts.Timeout,
	}
}
