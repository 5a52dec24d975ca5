/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package crypto

import (
	"crypto/x509"
	"testing"
	"time"
)

func TestGenerateCertificate(t *testing.T) {
	certificate, err := GenerateCertificate("localhost", "127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := x509.ParseCertificate(certificate.Certificate[0])
	if err != nil {
		t.Fatal(err)
	}

	if parsed.NotAfter.Before(time.Now().Add(300 * 24 * time.Hour)) {
		t.Errorf("certificate expires too soon, %v", parsed.NotAfter)
	}

	err = parsed.VerifyHostname("localhost")
	if err != nil {
		t.Error(err)
	}
	err = parsed.VerifyHostname("127.0.0.1")
	if err != nil {
		t.Error(err)
	}
}

func TestTLSConfigWithoutFlags(t *testing.T) {
	config, err := TLSConfigFromFlags()
	if err != nil || config != nil {
		t.Errorf("expected no TLS configuration, got %v, %v", config, err)
	}
}
