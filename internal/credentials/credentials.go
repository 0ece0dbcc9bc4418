// Package credentials maps stored records to the credential process
// document read by the AWS CLI and SDKs.
//
// See https://docs.aws.amazon.com/cli/latest/userguide/cli-configure-sourcing-external.html
package credentials

import (
	"bytes"
	"encoding/json"

	"github.com/benaskins/credlock/internal/keychain"
)

// Version is the only credential process document version.
const Version = 1

// Credentials is the credential process document. Optional fields are
// omitted from the JSON when nil, never emitted as null.
type Credentials struct {
	Version         int     `json:"Version"`
	AccessKeyID     string  `json:"AccessKeyId"`
	SecretAccessKey string  `json:"SecretAccessKey"`
	SessionToken    *string `json:"SessionToken,omitempty"`
	Expiration      *string `json:"Expiration,omitempty"`
}

// Decode builds a document from a record's attribute mapping. Missing
// attributes become empty strings; it never fails.
func Decode(attrs map[string]string) Credentials {
	return Credentials{
		Version:         Version,
		AccessKeyID:     attrs[keychain.AttrAccount],
		SecretAccessKey: attrs[keychain.AttrSecretData],
	}
}

// FromRecord decodes a stored record.
func FromRecord(r keychain.Record) Credentials {
	return Decode(r.Attributes())
}

// Encode renders the document as indented JSON without a trailing
// newline.
func Encode(c Credentials) ([]byte, error) {
	return encode(c, "  ")
}

// EncodeCompact renders the document on a single line.
func EncodeCompact(c Credentials) ([]byte, error) {
	return encode(c, "")
}

// encode leaves <, > and & unescaped so secrets come out byte for byte.
func encode(c Credentials, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
