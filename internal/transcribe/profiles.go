package transcribe

import (
	"fmt"
	"sort"
	"strings"

	"flowtrack/internal/services"
)

// DefaultProfile is used when callers do not name a quality profile.
const DefaultProfile = "default"

var profileModels = map[string]string{
	DefaultProfile: "medium.en",
	"tiny":         "tiny",
	"tiny.en":      "tiny.en",
	"base":         "base",
	"base.en":      "base.en",
	"small":        "small",
	"small.en":     "small.en",
	"medium":       "medium",
	"medium.en":    "medium.en",
	"large":        "large",
	"large-v2":     "large-v2",
}

// ModelForProfile maps a quality profile to the whisper model name. An empty
// profile selects DefaultProfile.
func ModelForProfile(profile string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(profile))
	if key == "" {
		key = DefaultProfile
	}
	model, ok := profileModels[key]
	if !ok {
		return "", services.Wrap(services.ErrValidation, "transcribe", "resolve profile",
			fmt.Sprintf("%q is not a valid quality profile (want one of %s)", profile, strings.Join(Profiles(), ", ")), nil)
	}
	return model, nil
}

// Profiles lists the accepted quality profiles.
func Profiles() []string {
	out := make([]string, 0, len(profileModels))
	for name := range profileModels {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
