// Package cqrauth implements the CQR request-signing scheme shared with the
// provider: an HMAC over the canonical request (method, path, custom X-
// headers, body), with a selectable digest. The same construction covers
// outbound API calls, inbound callbacks and per-user identity claims.
package cqrauth

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Custom header names carried on signed requests.
const (
	HeaderDate  = "X-CQR-Date"
	HeaderNonce = "X-CQR-Nonce"
)

// MaxClockDrift bounds how far a signed timestamp may sit from local time.
const MaxClockDrift = time.Hour

// AcceptedHashMethod normalises a hash method name: empty selects sha1,
// anything unknown yields "".
func AcceptedHashMethod(h string) string {
	if h == "" {
		return "sha1"
	}
	switch h {
	case "md5", "sha1", "sha256", "sha512":
		return h
	}
	return ""
}

func hashFor(method string) (func() hash.Hash, error) {
	switch AcceptedHashMethod(method) {
	case "md5":
		return md5.New, nil
	case "sha1":
		return sha1.New, nil
	case "sha256":
		return sha256.New, nil
	case "sha512":
		return sha512.New, nil
	}
	return nil, fmt.Errorf("unsupported hash method %q", method)
}

// canonical builds the string under signature: the method and path, the
// sorted lowercase X- headers, and the body, newline-separated.
func canonical(method, path string, xheaders map[string]string, body string) string {
	var lines []string
	for k, v := range xheaders {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "x-") {
			lines = append(lines, lk+":"+strings.TrimSpace(v))
		}
	}
	sort.Strings(lines)
	return strings.ToUpper(method) + "\n" + path + "\n" + strings.Join(lines, "\n") + "\n" + body
}

func digest(secret, method, path string, xheaders map[string]string, body, hashMethod string) (string, error) {
	hf, err := hashFor(hashMethod)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, []byte(secret))
	mac.Write([]byte(canonical(method, path, xheaders, body)))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Headers produces the signed header set for an outbound provider request:
// the date and nonce headers plus `Authorization: CQR <customer>:<sig>`.
// The body must be the urlencoded form of params (url.Values.Encode sorts
// keys, so both sides canonicalise identically).
func Headers(customerID, secret, method, path string, params url.Values, hashMethod string) (map[string]string, error) {
	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	hdrs := map[string]string{
		HeaderDate:  strconv.FormatInt(time.Now().Unix(), 10),
		HeaderNonce: hex.EncodeToString(nonce),
	}
	sig, err := digest(secret, method, path, hdrs, params.Encode(), hashMethod)
	if err != nil {
		return nil, err
	}
	hdrs["Authorization"] = "CQR " + customerID + ":" + sig
	return hdrs, nil
}

// Verify checks an inbound signed request against our own credentials.
// All failures are reported as false, never as process errors.
func Verify(customerID, secret, method, path string, xheaders map[string]string, body, authorization, hashMethod string, now time.Time) bool {
	scheme, rest, found := strings.Cut(authorization, " ")
	if !found || scheme != "CQR" {
		return false
	}
	cust, sig, found := strings.Cut(rest, ":")
	if !found || cust != customerID {
		return false
	}
	ts, err := strconv.ParseInt(xheaders[HeaderDate], 10, 64)
	if err != nil && xheaders[HeaderDate] != "" {
		return false
	}
	if xheaders[HeaderDate] != "" && !TimestampValid(ts, now) {
		return false
	}
	want, err := digest(secret, method, path, xheaders, body, hashMethod)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(want))
}

// TimestampValid checks that a claimed timestamp has not drifted more than
// MaxClockDrift from local time, in either direction.
func TimestampValid(ts int64, now time.Time) bool {
	drift := now.Unix() - ts
	if drift < 0 {
		drift = -drift
	}
	return drift <= int64(MaxClockDrift/time.Second)
}

// SignClaim computes the signature a mobile client puts on an identity
// claim: an HMAC over "user\ntimestamp\nnonce" with the user's secret.
func SignClaim(user string, timestamp int64, nonce, secret, hashMethod string) (string, error) {
	hf, err := hashFor(hashMethod)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, []byte(secret))
	fmt.Fprintf(mac, "%s\n%d\n%s", user, timestamp, nonce)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyClaim recomputes a claim signature and compares in constant time.
func VerifyClaim(user string, timestamp int64, nonce, signature, secret, hashMethod string) bool {
	want, err := SignClaim(user, timestamp, nonce, secret, hashMethod)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(want))
}
