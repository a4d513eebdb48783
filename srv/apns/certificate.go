package apns

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

func isPKCS12(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".p12", ".pfx":
		return true
	}
	return false
}

// LoadCertificate reads the client certificate described by the config.
// PEM certificate and key files are the norm; an encrypted PEM key is decrypted with the passphrase.
// A .p12/.pfx certificate path is read as a PKCS#12 bundle holding both, and the key path is ignored.
func LoadCertificate(c *Config) (tls.Certificate, error) {
	if isPKCS12(c.CertificatePath) {
		return loadPKCS12(c.CertificatePath, c.Passphrase)
	}
	certPEM, err := os.ReadFile(c.CertificatePath)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM, err = decryptKey(keyPEM, c.Passphrase)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.X509KeyPair(certPEM, keyPEM)
}

func loadPKCS12(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, err
	}
	privateKey, x509Cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{x509Cert.Raw},
		PrivateKey:  privateKey,
		Leaf:        x509Cert,
	}, nil
}

// decryptKey returns keyPEM unchanged unless it holds a legacy encrypted PEM block.
func decryptKey(keyPEM []byte, passphrase string) ([]byte, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("no PEM data found in private key file")
	}
	//lint:ignore SA1019 APNS keys exported by Keychain Access still use this format.
	if !x509.IsEncryptedPEMBlock(block) {
		return keyPEM, nil
	}
	if passphrase == "" {
		return nil, errors.New("private key is encrypted and no passphrase was given")
	}
	//lint:ignore SA1019 see above.
	der, err := x509.DecryptPEMBlock(block, []byte(passphrase))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
}
