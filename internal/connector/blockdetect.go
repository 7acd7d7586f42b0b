package connector

import (
	"strings"
)

// BlockType describes the kind of anti-bot page detected.
type BlockType string

// Block types.
const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockChallenge  BlockType = "challenge"
	BlockEmpty      BlockType = "empty"
)

var challengeSignatures = []string{
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"just a moment",
	"attention required",
}

// DetectBlock inspects fetched page content for signs of a blocked crawl.
func DetectBlock(content string) (bool, BlockType) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return true, BlockEmpty
	}
	lower := strings.ToLower(trimmed)

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge") {
		return true, BlockCloudflare
	}

	if strings.Contains(lower, "captcha") {
		return true, BlockCaptcha
	}

	// Challenge markers only count on short pages; long pages may mention
	// them in passing.
	if len(trimmed) < 1000 {
		for _, sig := range challengeSignatures {
			if strings.Contains(lower, sig) {
				return true, BlockChallenge
			}
		}
	}
	return false, BlockNone
}
