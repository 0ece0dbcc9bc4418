package main

import (
	"bufio"
	"strings"
	"testing"
)

func TestReadCredentialLines(t *testing.T) {
	id, secret, err := readCredentialLines(bufio.NewScanner(strings.NewReader("AKIAEXAMPLE\n  s3cr3t  \n")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "AKIAEXAMPLE" {
		t.Errorf("access key id = %q, want AKIAEXAMPLE", id)
	}
	if secret != "s3cr3t" {
		t.Errorf("secret = %q, want s3cr3t", secret)
	}
}

func TestReadCredentialLinesMissingSecret(t *testing.T) {
	_, _, err := readCredentialLines(bufio.NewScanner(strings.NewReader("AKIAEXAMPLE\n")))
	if err == nil || !strings.Contains(err.Error(), "secret_access_key") {
		t.Fatalf("expected missing secret_access_key error, got %v", err)
	}
}

func TestReadCredentialLinesRejectsEmpty(t *testing.T) {
	_, _, err := readCredentialLines(bufio.NewScanner(strings.NewReader("\nsecret\n")))
	if err == nil || !strings.Contains(err.Error(), "must not be empty") {
		t.Fatalf("expected empty value error, got %v", err)
	}
}
