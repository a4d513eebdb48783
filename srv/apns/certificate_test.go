package apns

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/uniqush/uniqush-apns/testutil"
)

// writeTestCertificate writes a self-signed certificate for 127.0.0.1 and its key.
// If passphrase is set the key is written as an encrypted PEM block.
func writeTestCertificate(t *testing.T, passphrase string) (certPath, keyPath string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "Apple Development IOS Push Services: test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	keyBlock := &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}
	if passphrase != "" {
		//lint:ignore SA1019 the format being tested.
		keyBlock, err = x509.EncryptPEMBlock(rand.Reader, keyBlock.Type, keyDER, []byte(passphrase), x509.PEMCipherAES256)
		if err != nil {
			t.Fatal(err)
		}
	}

	dir := t.TempDir()
	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(keyBlock), 0600); err != nil {
		t.Fatal(err)
	}
	return certPath, keyPath
}

func TestLoadCertificate(t *testing.T) {
	certPath, keyPath := writeTestCertificate(t, "")
	cert, err := LoadCertificate(&Config{CertificatePath: certPath, PrivateKeyPath: keyPath})
	if err != nil {
		t.Fatal(err)
	}
	testutil.ExpectEquals(t, 1, len(cert.Certificate), "certificate chain")
}

func TestLoadEncryptedKey(t *testing.T) {
	certPath, keyPath := writeTestCertificate(t, "s3cret")

	if _, err := LoadCertificate(&Config{CertificatePath: certPath, PrivateKeyPath: keyPath}); err == nil {
		t.Error("Expected an error without a passphrase")
	}
	if _, err := LoadCertificate(&Config{CertificatePath: certPath, PrivateKeyPath: keyPath, Passphrase: "wrong"}); err == nil {
		t.Error("Expected an error for a wrong passphrase")
	}
	if _, err := LoadCertificate(&Config{CertificatePath: certPath, PrivateKeyPath: keyPath, Passphrase: "s3cret"}); err != nil {
		t.Errorf("Unexpected error %v", err)
	}
}

func TestLoadPKCS12Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.p12")
	if err := os.WriteFile(path, []byte("not a pkcs12 file"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCertificate(&Config{CertificatePath: path, Passphrase: "x"}); err == nil {
		t.Error("Expected an error for a corrupt PKCS#12 bundle")
	}
}

func TestTLSConnManager(t *testing.T) {
	certPath, keyPath := writeTestCertificate(t, "")
	serverCert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		t.Fatal(err)
	}
	listener, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		ClientAuth:   tls.RequireAnyClientCert,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				io.Copy(io.Discard, conn)
			}()
		}
	}()

	cfg := &Config{
		CertificatePath: certPath,
		PrivateKeyPath:  keyPath,
		GatewayAddr:     listener.Addr().String(),
		SkipVerify:      true,
		IOTimeout:       5 * time.Second,
	}
	manager, err := NewTLSConnManager(cfg)
	if err != nil {
		t.Fatal(err)
	}
	conn, err := manager.NewConn(context.Background(), cfg.Gateway())
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}
	defer conn.Close()
	state := conn.(*tls.Conn).ConnectionState()
	if !state.HandshakeComplete {
		t.Error("Expected a completed handshake")
	}
}

func TestTLSConnManagerProxy(t *testing.T) {
	certPath, keyPath := writeTestCertificate(t, "")
	_, err := NewTLSConnManager(&Config{CertificatePath: certPath, PrivateKeyPath: keyPath, Proxy: "socks5://127.0.0.1:1080"})
	if err != nil {
		t.Errorf("Unexpected error for a socks5 proxy: %v", err)
	}
	_, err = NewTLSConnManager(&Config{CertificatePath: certPath, PrivateKeyPath: keyPath, Proxy: "gopher://127.0.0.1:70"})
	var configErr *ConfigError
	testutil.ExpectErrorAs(t, err, &configErr, "unsupported proxy")
}
