package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Volcengine request signing (HMAC-SHA256 over a canonical request). The
// credential scope is date/region/service/request and the signing key is
// derived by chained HMACs over those components.

var ignoredSignHeaders = map[string]bool{
	"authorization":     true,
	"content-type":      true,
	"content-length":    true,
	"user-agent":        true,
	"presigned-expires": true,
	"expect":            true,
}

type signInput struct {
	Headers         map[string]string
	Query           url.Values
	Region          string
	Service         string
	Method          string
	PathName        string
	AccessKeyID     string
	SecretAccessKey string
	BodySha         string
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func hashSHA256(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// signDateTime formats now the way the signature expects: an ISO timestamp
// with separators and sub-second precision stripped, e.g. 20250820T123456Z.
func signDateTime(now time.Time) string {
	return now.UTC().Format("20060102T150405Z")
}

func canonicalQueryString(query url.Values) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		escapedKey := uriEscape(k)
		if escapedKey == "" {
			continue
		}
		values := append([]string(nil), query[k]...)
		escaped := make([]string, 0, len(values))
		for _, v := range values {
			escaped = append(escaped, uriEscape(v))
		}
		sort.Strings(escaped)
		for _, v := range escaped {
			parts = append(parts, escapedKey+"="+v)
		}
	}
	return strings.Join(parts, "&")
}

// uriEscape follows the AWS-style escaping rules the vendor expects:
// unreserved characters pass through, '*' is percent-encoded, spaces become
// %20.
func uriEscape(s string) string {
	escaped := url.QueryEscape(s)
	escaped = strings.ReplaceAll(escaped, "+", "%20")
	escaped = strings.ReplaceAll(escaped, "*", "%2A")
	escaped = strings.ReplaceAll(escaped, "%7E", "~")
	return escaped
}

func canonicalHeaders(headers map[string]string) (signedHeaderKeys, canonical string) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		lower := strings.ToLower(k)
		if ignoredSignHeaders[lower] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return strings.ToLower(keys[i]) < strings.ToLower(keys[j])
	})

	lowered := make([]string, 0, len(keys))
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lower := strings.ToLower(k)
		lowered = append(lowered, lower)
		value := strings.Join(strings.Fields(strings.TrimSpace(headers[k])), " ")
		lines = append(lines, lower+":"+value)
	}
	return strings.Join(lowered, ";"), strings.Join(lines, "\n")
}

// sign produces the Authorization header value for a volcengine request.
func sign(in signInput, datetime string) string {
	date := datetime[:8]
	signedHeaders, canonicalHdrs := canonicalHeaders(in.Headers)

	bodySha := in.BodySha
	if bodySha == "" {
		bodySha = hashSHA256("")
	}

	canonicalRequest := strings.Join([]string{
		strings.ToUpper(in.Method),
		in.PathName,
		canonicalQueryString(in.Query),
		canonicalHdrs + "\n",
		signedHeaders,
		bodySha,
	}, "\n")

	credentialScope := strings.Join([]string{date, in.Region, in.Service, "request"}, "/")
	stringToSign := strings.Join([]string{
		"HMAC-SHA256",
		datetime,
		credentialScope,
		hashSHA256(canonicalRequest),
	}, "\n")

	kDate := hmacSHA256([]byte(in.SecretAccessKey), date)
	kRegion := hmacSHA256(kDate, in.Region)
	kService := hmacSHA256(kRegion, in.Service)
	kSigning := hmacSHA256(kService, "request")
	signature := hex.EncodeToString(hmacSHA256(kSigning, stringToSign))

	return strings.Join([]string{
		"HMAC-SHA256",
		"Credential=" + in.AccessKeyID + "/" + credentialScope + ",",
		"SignedHeaders=" + signedHeaders + ",",
		"Signature=" + signature,
	}, " ")
}
