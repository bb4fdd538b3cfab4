package dtls

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"strings"
	"time"

	"github.com/pion/dtls/v2/pkg/crypto/fingerprint"
	"github.com/pion/randutil"
)

// Fingerprint is a certificate hash as carried in an a=fingerprint line.
type Fingerprint struct {
	Algorithm string
	Value     string
}

// GenerateCertificate creates a self-signed P-256 certificate valid from notBefore for one month.
func GenerateCertificate(notBefore time.Time) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := randutil.CryptoUint64()
	if err != nil {
		return tls.Certificate{}, err
	}
	name, err := randutil.GenerateCryptoRandomString(16, "abcdefghijklmnopqrstuvwxyz")
	if err != nil {
		return tls.Certificate{}, err
	}
	tpl := &x509.Certificate{
		SerialNumber:       new(big.Int).SetUint64(serial >> 1),
		Subject:            pkix.Name{CommonName: name},
		NotBefore:          notBefore.Add(-time.Hour),
		NotAfter:           notBefore.AddDate(0, 1, 0),
		SignatureAlgorithm: x509.ECDSAWithSHA256,
		KeyUsage:           x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}

// CertificateFingerprint returns the sha-256 fingerprint of the leaf certificate.
func CertificateFingerprint(cert tls.Certificate) (Fingerprint, error) {
	if len(cert.Certificate) == 0 {
		return Fingerprint{}, errInvalidCertificate
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return Fingerprint{}, err
	}
	value, err := fingerprint.Fingerprint(leaf, crypto.SHA256)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{Algorithm: "sha-256", Value: value}, nil
}

// matchFingerprint checks the peer leaf against the configured fingerprints
// and returns the one that matched.
func matchFingerprint(leaf *x509.Certificate, expected []Fingerprint) (Fingerprint, error) {
	for _, fp := range expected {
		h, err := fingerprint.HashFromString(strings.ToLower(fp.Algorithm))
		if err != nil {
			continue
		}
		actual, err := fingerprint.Fingerprint(leaf, h)
		if err != nil {
			continue
		}
		if strings.EqualFold(actual, fp.Value) {
			return Fingerprint{Algorithm: strings.ToLower(fp.Algorithm), Value: actual}, nil
		}
	}
	return Fingerprint{}, ErrFingerprintMismatch
}
