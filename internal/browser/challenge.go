package browser

import (
	"net/http"
	"strings"
)

// challengeMarkers are lower-cased phrases served as visible text by
// browser-verification interstitials instead of the requested page.
var challengeMarkers = []string{
	"just a moment",
	"checking your browser",
	"verify you are human",
	"verifying you are human",
	"attention required",
	"ddos-guard",
	"access denied",
	"перевірка браузера",
	"підтвердіть, що ви людина",
}

// challengeMarkup are element ids and classes only an interstitial renders.
// Cloudflare's challenge-platform script path is left out: it is injected
// into ordinary pages too.
var challengeMarkup = []string{
	"cf-browser-verification",
	"cf-challenge",
	`id="challenge-form"`,
}

// DetectChallenge reports whether a freshly navigated page is an anti-bot
// interstitial rather than content, judging by its title, visible text and
// HTTP status.
func DetectChallenge(title, snippet string, status *int) bool {
	if status != nil && *status == http.StatusForbidden {
		return true
	}

	return containsAny(strings.ToLower(title+"\n"+snippet), challengeMarkers)
}

// DetectChallengeMarkup reports whether raw page HTML carries interstitial
// markup.
func DetectChallengeMarkup(content string) bool {
	return containsAny(strings.ToLower(content), challengeMarkup)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
