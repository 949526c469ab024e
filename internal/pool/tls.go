package pool

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// TLSConfig builds the client TLS configuration for opts, loading the client
// certificate and (optionally passphrase-protected) key from disk.
func TLSConfig(opts Options) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // backends commonly run self-signed certificates
	}

	if opts.AuthCert == "" {
		return cfg, nil
	}
	if opts.AuthKey == "" {
		return nil, errors.New("client certificate configured without a key")
	}

	certPEM, err := os.ReadFile(opts.AuthCert)
	if err != nil {
		return nil, fmt.Errorf("read client certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(opts.AuthKey)
	if err != nil {
		return nil, fmt.Errorf("read client key: %w", err)
	}

	keyPEM, err = decryptKey(keyPEM, opts.AuthKeyPassword)
	if err != nil {
		return nil, err
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("load client key pair: %w", err)
	}
	cfg.Certificates = []tls.Certificate{cert}
	return cfg, nil
}

// decryptKey returns keyPEM unchanged unless it holds a legacy encrypted PEM
// block, in which case password is used to decrypt it.
func decryptKey(keyPEM []byte, password string) ([]byte, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("client key is not PEM encoded")
	}
	//lint:ignore SA1019 legacy RFC 1423 keys are what the backends issue
	if !x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
		return keyPEM, nil
	}
	if password == "" {
		return nil, errors.New("client key is encrypted but no password was supplied")
	}
	//lint:ignore SA1019 see above
	der, err := x509.DecryptPEMBlock(block, []byte(password)) //nolint:staticcheck
	if err != nil {
		return nil, fmt.Errorf("decrypt client key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
}
