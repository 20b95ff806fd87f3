// Package tls generates (or loads) a self-signed TLS certificate for
// cmd/server's listener, adapted from the teacher's cmd/webui/tls
// generator: an RSA-4096 self-signed cert valid for the configured
// hostnames plus loopback, cached on disk and regenerated only when
// missing, expired, or missing a requested hostname.
package tls

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// CertificateGenerator creates or loads a self-signed certificate under
// a directory on disk.
type CertificateGenerator struct {
	certDir string
}

// NewCertificateGenerator builds a CertificateGenerator rooted at certDir.
func NewCertificateGenerator(certDir string) *CertificateGenerator {
	return &CertificateGenerator{certDir: certDir}
}

// GenerateSelfSignedCertificate creates a fresh certificate covering
// hostnames (plus loopback) and writes it under the generator's directory.
func (g *CertificateGenerator) GenerateSelfSignedCertificate(hostnames []string) (certFile, keyFile string, err error) {
	if err := os.MkdirAll(g.certDir, 0700); err != nil {
		return "", "", fmt.Errorf("create certificate directory: %w", err)
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		return "", "", fmt.Errorf("generate private key: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"assppweb"},
			Country:      []string{"US"},
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(3 * 365 * 24 * time.Hour),
		KeyUsage:    x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	for _, hostname := range hostnames {
		if ip := net.ParseIP(hostname); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, hostname)
		}
	}
	template.IPAddresses = append(template.IPAddresses, net.IPv4(127, 0, 0, 1), net.IPv6loopback)

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return "", "", fmt.Errorf("create certificate: %w", err)
	}

	certFile = filepath.Join(g.certDir, "server.crt")
	keyFile = filepath.Join(g.certDir, "server.key")

	certOut, err := os.Create(certFile)
	if err != nil {
		return "", "", fmt.Errorf("create certificate file: %w", err)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: certDER}); err != nil {
		return "", "", fmt.Errorf("write certificate: %w", err)
	}

	keyOut, err := os.Create(keyFile)
	if err != nil {
		return "", "", fmt.Errorf("create key file: %w", err)
	}
	defer keyOut.Close()
	privateKeyDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return "", "", fmt.Errorf("marshal private key: %w", err)
	}
	if err := pem.Encode(keyOut, &pem.Block{Type: "PRIVATE KEY", Bytes: privateKeyDER}); err != nil {
		return "", "", fmt.Errorf("write private key: %w", err)
	}
	if err := os.Chmod(keyFile, 0600); err != nil {
		return "", "", fmt.Errorf("set key file permissions: %w", err)
	}

	return certFile, keyFile, nil
}

// LoadOrGenerateCertificate reuses an existing valid certificate under
// the generator's directory, or generates a new one.
func (g *CertificateGenerator) LoadOrGenerateCertificate(hostnames []string) (certFile, keyFile string, err error) {
	certFile = filepath.Join(g.certDir, "server.crt")
	keyFile = filepath.Join(g.certDir, "server.key")

	if g.certificateExists(certFile, keyFile) && g.certificateValid(certFile, keyFile, hostnames) {
		return certFile, keyFile, nil
	}
	return g.GenerateSelfSignedCertificate(hostnames)
}

func (g *CertificateGenerator) certificateExists(certFile, keyFile string) bool {
	_, certErr := os.Stat(certFile)
	_, keyErr := os.Stat(keyFile)
	return certErr == nil && keyErr == nil
}

func (g *CertificateGenerator) certificateValid(certFile, keyFile string, hostnames []string) bool {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return false
	}
	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return false
	}
	if time.Now().After(x509Cert.NotAfter) {
		return false
	}
	for _, hostname := range hostnames {
		if ip := net.ParseIP(hostname); ip != nil {
			if !containsIP(x509Cert.IPAddresses, ip) {
				return false
			}
		} else if !containsString(x509Cert.DNSNames, hostname) {
			return false
		}
	}
	return true
}

func containsIP(ips []net.IP, target net.IP) bool {
	for _, ip := range ips {
		if ip.Equal(target) {
			return true
		}
	}
	return false
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

// GetDefaultCertificateDir returns ~/.assppweb/certs, the default
// location LoadOrGenerateCertificate reads and writes.
func GetDefaultCertificateDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".assppweb", "certs"), nil
}
