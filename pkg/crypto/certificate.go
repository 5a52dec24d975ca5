/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"flag"
	"math/big"
	"net"
	"os"
	"time"
)

var (
	certFile     = flag.String("cert-file", "", "Certificate of the HTTP endpoints")
	keyFile      = flag.String("key-file", "", "Private key of the HTTP endpoints")
	generateCert = flag.Bool("generate-cert", false, "Serves the HTTP endpoints over https with a generated certificate")
)

const certificateLifetime = 365 * 24 * time.Hour

// GenerateCertificate creates a self-signed certificate for hosts, which may
// hold host names and IP addresses.
func GenerateCertificate(hosts ...string) (tls.Certificate, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Juice Technologies, Inc."},
			CommonName:   "annserver",
		},

		NotBefore: now.Add(-time.Minute),
		NotAfter:  now.Add(certificateLifetime),

		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return tls.Certificate{}, err
	}

	certBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: derBytes,
	})

	pkcs8Key, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return tls.Certificate{}, err
	}

	keyBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: pkcs8Key,
	})

	return tls.X509KeyPair(certBytes, keyBytes)
}

// TLSConfigFromFlags returns the TLS configuration selected with --cert-file
// and --key-file, or --generate-cert. It is nil when none was given.
func TLSConfigFromFlags() (*tls.Config, error) {
	var certificate tls.Certificate
	var err error

	switch {
	case *certFile != "" && *keyFile != "":
		certificate, err = tls.LoadX509KeyPair(*certFile, *keyFile)

	case *generateCert:
		hostname, _ := os.Hostname()
		certificate, err = GenerateCertificate("localhost", "127.0.0.1", hostname)

	default:
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{certificate},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
