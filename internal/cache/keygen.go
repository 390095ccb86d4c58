package cache

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// KeyParams are the request fields that identify a cached response.
type KeyParams struct {
	UserProfile   string
	JobMarketData string
	// SystemPrompt is nil when the caller did not set one. Nil and "" produce the same key.
	SystemPrompt *string
}

// Key returns the SHA-256 hex digest of the canonical JSON encoding of params.
// Fields are encoded as a map so keys are sorted and naming order never
// affects the digest. JSON encoding replaces invalid UTF-8 with U+FFFD, so
// when any field is not valid UTF-8 every value is base64 encoded and an
// "encoding" entry marks the form; valid text never carries that entry.
func Key(params KeyParams) string {
	system := ""
	if params.SystemPrompt != nil {
		system = *params.SystemPrompt
	}

	canonical := map[string]string{
		"user_profile":    params.UserProfile,
		"job_market_data": params.JobMarketData,
		"system_prompt":   system,
	}
	if !utf8.ValidString(params.UserProfile) || !utf8.ValidString(params.JobMarketData) || !utf8.ValidString(system) {
		for k, v := range canonical {
			canonical[k] = base64.StdEncoding.EncodeToString([]byte(v))
		}
		canonical["encoding"] = "base64"
	}
	data, err := json.Marshal(canonical)
	if err != nil {
		// map[string]string always encodes; fall back to a plain join just in case.
		data = []byte(params.UserProfile + "\x00" + params.JobMarketData + "\x00" + system)
	}

	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
