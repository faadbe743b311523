package secrets

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

var (
	// ErrInvalidTOML is returned for an allowlist file that does not parse.
	ErrInvalidTOML = errors.New("invalid allowlist TOML")

	// ErrInvalidRegex is returned for an allowlist pattern that does not
	// compile.
	ErrInvalidRegex = errors.New("invalid allowlist pattern")
)

// LoadAllowlist reads content patterns from a gitleaks-style TOML file:
//
//	[allowlist]
//	regexes = ['''example\.com''', '''DEMO_[A-Z_]+''']
//
// A missing file yields no patterns.
func LoadAllowlist(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	var doc struct {
		Allowlist struct {
			Regexes []string `toml:"regexes"`
		} `toml:"allowlist"`
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}
	if _, err := compileAll(doc.Allowlist.Regexes); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc.Allowlist.Regexes, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidRegex, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
