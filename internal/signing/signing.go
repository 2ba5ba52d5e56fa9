// Package signing implements the canonicalization and HMAC verification
// shared by the affiliate-link and S2S postback tiers.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Reserved tracking parameter namespace shared with the link-generation
// system. The signature parameter is always excluded from the canonical
// string it signs.
const (
	ParamOpportunity = "lw_opp"
	ParamPublisher   = "lw_pub"
	ParamMerchant    = "lw_mid"
	ParamTimestamp   = "lw_ts"
	ParamClickID     = "lw_click"
	ParamCampaign    = "lw_campaign"
	ParamSource      = "lw_source"
	SignatureKey     = "lw_sig"
)

// ParamPrefix marks every key in the reserved namespace.
const ParamPrefix = "lw_"

// Signer signs and verifies canonical payloads with a shared secret.
type Signer struct {
	secret []byte
}

// New creates a Signer with the given shared secret.
func New(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// CanonicalParams builds the canonical representation of a parameter map:
// keys sorted alphabetically, joined as key=value pairs with '&', with the
// signature parameter itself excluded.
func CanonicalParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == SignatureKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	return strings.Join(pairs, "&")
}

// SignParams computes the hex HMAC-SHA256 signature of a parameter map.
func (s *Signer) SignParams(params map[string]string) string {
	return s.sign([]byte(CanonicalParams(params)))
}

// VerifyParams checks the embedded signature of a parameter map in constant
// time. It returns false when the signature parameter is absent.
func (s *Signer) VerifyParams(params map[string]string) bool {
	sig, ok := params[SignatureKey]
	if !ok || sig == "" {
		return false
	}
	return s.verify([]byte(CanonicalParams(params)), sig)
}

// CanonicalJSON renders a payload as canonical JSON: an object with keys in
// sorted order and no insignificant whitespace. encoding/json already sorts
// map keys, so marshaling a map is sufficient.
func CanonicalJSON(payload map[string]any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "signing: marshal canonical payload")
	}
	return b, nil
}

// SignJSON computes the hex HMAC-SHA256 signature of the canonical JSON of
// a payload.
func (s *Signer) SignJSON(payload map[string]any) (string, error) {
	b, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	return s.sign(b), nil
}

// VerifyJSON checks a detached signature against the canonical JSON of a
// payload in constant time.
func (s *Signer) VerifyJSON(payload map[string]any, sig string) bool {
	if sig == "" {
		return false
	}
	b, err := CanonicalJSON(payload)
	if err != nil {
		return false
	}
	return s.verify(b, sig)
}

// VerificationToken computes the keyed hash the merchant S2S endpoint
// expects: HMAC-SHA256 over "order_id:amount:shared_secret" framing.
func (s *Signer) VerificationToken(orderID string, amount float64) string {
	msg := fmt.Sprintf("%s:%.2f", orderID, amount)
	return s.sign([]byte(msg))
}

func (s *Signer) sign(msg []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Signer) verify(msg []byte, sigHex string) bool {
	want, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(msg)
	return hmac.Equal(mac.Sum(nil), want)
}
