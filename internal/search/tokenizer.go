package search

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/syntrise/dropcore/internal/dropcore"
	"github.com/syntrise/dropcore/internal/record"
)

// Config bounds the token pipeline.
type Config struct {
	MinWordLen int // words shorter than this are dropped
	MaxWordLen int // words longer than this are dropped
	NGramMin   int // shortest n-gram emitted
	NGramMax   int // longest n-gram emitted
	NGramFrom  int // minimum word length to expand into n-grams
	MaxTokens  int // hard cap on tokens per record or query

	// TokenBytes is how many HMAC bytes survive truncation. Shorter
	// truncation raises the collision rate, which weakens what the
	// backend can learn from rare-word tokens but also admits false
	// candidates the client must discard after decryption. 8 bytes
	// keeps accidental collisions negligible at personal-corpus scale.
	TokenBytes int
}

func DefaultConfig() Config {
	return Config{
		MinWordLen: 2,
		MaxWordLen: 24,
		NGramMin:   3,
		NGramMax:   4,
		NGramFrom:  4,
		MaxTokens:  64,
		TokenBytes: 8,
	}
}

// Tokenizer converts text into capped sets of opaque hex tokens under a
// search key. A nil key means the tokenizer is not ready: it refuses to
// operate rather than fall back to plaintext.
type Tokenizer struct {
	key []byte
	cfg Config
}

func NewTokenizer(searchKey []byte, cfg Config) *Tokenizer {
	return &Tokenizer{key: searchKey, cfg: cfg}
}

func (t *Tokenizer) Ready() bool { return len(t.key) > 0 }

// Normalize lowercases, strips everything but letters, digits, and
// whitespace, collapses runs of whitespace, and splits into words.
// Pure and key-independent.
func Normalize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

// words applies length bounds and stop-word filtering, then expands
// long-enough words into n-grams for partial matching.
func (t *Tokenizer) words(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(w string) {
		if _, dup := seen[w]; dup || len(out) >= t.cfg.MaxTokens {
			return
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}

	kept := make([]string, 0, 16)
	for _, w := range Normalize(text) {
		n := len([]rune(w))
		if n < t.cfg.MinWordLen || n > t.cfg.MaxWordLen || isStopWord(w) {
			continue
		}
		kept = append(kept, w)
		add(w)
	}
	// Whole words first so the cap never starves exact matching.
	for _, w := range kept {
		runes := []rune(w)
		if len(runes) < t.cfg.NGramFrom {
			continue
		}
		for size := t.cfg.NGramMin; size <= t.cfg.NGramMax && size <= len(runes); size++ {
			for i := 0; i+size <= len(runes); i++ {
				add(string(runes[i : i+size]))
			}
		}
	}
	return out
}

// Token is the deterministic one-way mapping from a word to its opaque
// form: HMAC-SHA256 under the search key, truncated, hex-encoded.
func (t *Tokenizer) Token(word string) (string, error) {
	if !t.Ready() {
		return "", fmt.Errorf("%w: search key not initialized", dropcore.ErrNotReady)
	}
	mac := hmac.New(sha256.New, t.key)
	mac.Write([]byte(strings.ToLower(word)))
	return hex.EncodeToString(mac.Sum(nil)[:t.cfg.TokenBytes]), nil
}

// TokensForText runs the full pipeline over free text.
func (t *Tokenizer) TokensForText(text string) ([]string, error) {
	if !t.Ready() {
		return nil, fmt.Errorf("%w: search key not initialized", dropcore.ErrNotReady)
	}
	words := t.words(text)
	out := make([]string, 0, len(words))
	for _, w := range words {
		tok, err := t.Token(w)
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, nil
}

// RecordTokens tokenizes a record's searchable surface: sensitive text,
// note, category, and tags. Regenerate whenever sensitive text changes.
func (t *Tokenizer) RecordTokens(d record.Drop) ([]string, error) {
	return t.TokensForText(d.SearchableText())
}

// QueryTokens applies the identical pipeline to a query string. The
// query text never leaves the device; only these tokens do.
func (t *Tokenizer) QueryTokens(query string) ([]string, error) {
	return t.TokensForText(query)
}
