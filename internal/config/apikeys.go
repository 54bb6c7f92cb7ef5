package config

import "regexp"

// ProviderKey names one of the API keys the core can read from the
// environment.
type ProviderKey string

const (
	KeyOpenAI      ProviderKey = "OPENAI_API_KEY"
	KeyDeepgram    ProviderKey = "DEEPGRAM_API_KEY"
	KeyElevenLabs  ProviderKey = "ELEVENLABS_API_KEY"
	KeyGroq        ProviderKey = "GROQ_API_KEY"
	KeyPerplexity  ProviderKey = "PERPLEXITY_API_KEY"
	KeyAnthropic   ProviderKey = "ANTHROPIC_API_KEY"
	KeyGrok        ProviderKey = "GROK_API_KEY"
)

// shapePatterns captures each provider's known key prefix and a minimum
// length. This is a fast reject only: a passing shape never proves the key
// is valid, it only filters out obviously-wrong values before a network
// round trip is spent finding that out.
var shapePatterns = map[ProviderKey]*regexp.Regexp{
	KeyOpenAI:     regexp.MustCompile(`^sk-[A-Za-z0-9_-]{20,}$`),
	KeyDeepgram:   regexp.MustCompile(`^[A-Za-z0-9]{32,}$`),
	KeyElevenLabs: regexp.MustCompile(`^sk_[A-Za-z0-9]{20,}$`),
	KeyGroq:       regexp.MustCompile(`^gsk_[A-Za-z0-9]{20,}$`),
	KeyPerplexity: regexp.MustCompile(`^pplx-[A-Za-z0-9]{20,}$`),
	KeyAnthropic:  regexp.MustCompile(`^sk-ant-[A-Za-z0-9_-]{20,}$`),
	KeyGrok:       regexp.MustCompile(`^xai-[A-Za-z0-9]{20,}$`),
}

// APIKeys resolves provider keys from the environment.
type APIKeys struct {
	lookup func(string) (string, bool)
}

// NewAPIKeys builds a resolver over os.LookupEnv. Tests supply a fake
// lookup func instead of mutating process environment.
func NewAPIKeys(lookup func(string) (string, bool)) *APIKeys {
	return &APIKeys{lookup: lookup}
}

// Get returns the raw key value and whether it passed shape validation.
// A missing env var returns ("", false) without consulting the pattern.
func (k *APIKeys) Get(key ProviderKey) (value string, shapeValid bool) {
	raw, ok := k.lookup(string(key))
	if !ok || raw == "" {
		return "", false
	}
	pattern, known := shapePatterns[key]
	if !known {
		return raw, true
	}
	return raw, pattern.MatchString(raw)
}
