package ingest

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

func signHex(payload []byte, secret string, algo string) string {
	var mac []byte
	switch algo {
	case "sha1":
		h := hmac.New(sha1.New, []byte(secret))
		h.Write(payload)
		mac = h.Sum(nil)
	default:
		h := hmac.New(sha256.New, []byte(secret))
		h.Write(payload)
		mac = h.Sum(nil)
	}
	return hex.EncodeToString(mac)
}

func TestVerifyWebhookSignature(t *testing.T) {
	payload := []byte(`{"provider":"cloudpay","status":"successful","amount":"990.00"}`)
	secret := "wh-secret-1"

	if !VerifyWebhookSignature(payload, signHex(payload, secret, "sha256"), secret) {
		t.Error("valid SHA256 signature rejected")
	}
	if !VerifyWebhookSignature(payload, signHex(payload, secret, "sha1"), secret) {
		t.Error("valid SHA1 signature rejected")
	}
	// Uppercase hex is accepted.
	upper := strings.ToUpper(signHex(payload, secret, "sha256"))
	if !VerifyWebhookSignature(payload, upper, secret) {
		t.Error("uppercase hex signature rejected")
	}
}

func TestVerifyWebhookSignatureRejects(t *testing.T) {
	payload := []byte(`{"amount":"990.00"}`)
	secret := "wh-secret-1"

	tests := []struct {
		name      string
		payload   []byte
		signature string
		secret    string
	}{
		{"wrong secret", payload, signHex(payload, "other", "sha256"), secret},
		{"tampered payload", []byte(`{"amount":"1990.00"}`), signHex(payload, secret, "sha256"), secret},
		{"empty signature", payload, "", secret},
		{"empty secret", payload, signHex(payload, secret, "sha256"), ""},
		{"not hex", payload, "zzzz", secret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if VerifyWebhookSignature(tt.payload, tt.signature, tt.secret) {
				t.Error("invalid signature accepted")
			}
		})
	}
}

func TestIngestInputValidation(t *testing.T) {
	svc := NewService(nil)

	tests := []struct {
		name  string
		input EventInput
	}{
		{"missing provider", EventInput{Status: "successful", Amount: "990.00"}},
		{"missing status", EventInput{Provider: "cloudpay", Amount: "990.00"}},
		{"missing amount", EventInput{Provider: "cloudpay", Status: "successful"}},
		{"bad amount", EventInput{Provider: "cloudpay", Status: "successful", Amount: "abc"}},
		{"negative amount", EventInput{Provider: "cloudpay", Status: "successful", Amount: "-10"}},
		{"bad email", EventInput{Provider: "cloudpay", Status: "successful", Amount: "990.00", Email: "nope"}},
		{"bad last4", EventInput{Provider: "cloudpay", Status: "successful", Amount: "990.00", CardLast4: "12x4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := svc.IngestEvent(tt.input, "webhook", ""); err == nil {
				t.Error("invalid input accepted")
			}
		})
	}
}
