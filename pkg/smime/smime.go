// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of macos-security-libs.
//
// macos-security-libs is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package smime frames CMS messages as application/pkcs7-mime entities.
package smime

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"strings"
)

const lineLength = 76

// Kind is the smime-type parameter.
type Kind string

const (
	SignedData    Kind = "signed-data"
	EnvelopedData Kind = "enveloped-data"
	CertsOnly     Kind = "certs-only"
)

var (
	ErrUnknownKind = errors.New("smime: unknown smime-type")

	// ErrNotPKCS7 is returned for entities that are not application/pkcs7-mime.
	ErrNotPKCS7 = errors.New("smime: not a pkcs7-mime entity")

	ErrBadEncoding = errors.New("smime: unsupported transfer encoding")
)

func (k Kind) valid() bool {
	switch k {
	case SignedData, EnvelopedData, CertsOnly:
		return true
	}
	return false
}

func (k Kind) filename() string {
	if k == CertsOnly {
		return "smime.p7c"
	}
	return "smime.p7m"
}

// Message is a decoded pkcs7-mime entity.
type Message struct {
	Kind    Kind
	Data    []byte
	Headers mail.Header
}

// Encode writes der as a base64 pkcs7-mime entity. extra headers such as
// From, To and Subject are written first, in the order given.
func Encode(w io.Writer, der []byte, kind Kind, extra ...[2]string) error {
	if !kind.valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	bw := bufio.NewWriter(w)
	for _, h := range extra {
		fmt.Fprintf(bw, "%s: %s\r\n", h[0], mime.QEncoding.Encode("utf-8", h[1]))
	}
	name := kind.filename()
	fmt.Fprintf(bw, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(bw, "Content-Type: %s\r\n",
		mime.FormatMediaType("application/pkcs7-mime", map[string]string{"smime-type": string(kind), "name": name}))
	fmt.Fprintf(bw, "Content-Transfer-Encoding: base64\r\n")
	fmt.Fprintf(bw, "Content-Disposition: %s\r\n\r\n",
		mime.FormatMediaType("attachment", map[string]string{"filename": name}))

	encoded := base64.StdEncoding.EncodeToString(der)
	for len(encoded) > lineLength {
		bw.WriteString(encoded[:lineLength])
		bw.WriteString("\r\n")
		encoded = encoded[lineLength:]
	}
	if len(encoded) > 0 {
		bw.WriteString(encoded)
		bw.WriteString("\r\n")
	}
	return bw.Flush()
}

// Marshal is Encode into a byte slice.
func Marshal(der []byte, kind Kind, extra ...[2]string) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, der, kind, extra...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a pkcs7-mime entity. A missing smime-type parameter is
// reported as SignedData when the file name ends in .p7m and CertsOnly for
// .p7c.
func Decode(r io.Reader) (*Message, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return nil, fmt.Errorf("smime: failed to read entity: %w", err)
	}
	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("smime: invalid content type: %w", err)
	}
	switch mediaType {
	case "application/pkcs7-mime", "application/x-pkcs7-mime":
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotPKCS7, mediaType)
	}

	kind := Kind(strings.ToLower(params["smime-type"]))
	if kind == "" {
		if strings.HasSuffix(strings.ToLower(params["name"]), ".p7c") {
			kind = CertsOnly
		} else {
			kind = SignedData
		}
	}
	if !kind.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("smime: failed to read body: %w", err)
	}
	var data []byte
	switch strings.ToLower(strings.TrimSpace(msg.Header.Get("Content-Transfer-Encoding"))) {
	case "base64":
		data, err = base64.StdEncoding.DecodeString(stripSpace(string(body)))
		if err != nil {
			return nil, fmt.Errorf("smime: invalid base64 body: %w", err)
		}
	case "binary", "":
		data = body
	default:
		return nil, fmt.Errorf("%w: %s", ErrBadEncoding, msg.Header.Get("Content-Transfer-Encoding"))
	}
	return &Message{Kind: kind, Data: data, Headers: msg.Header}, nil
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}
