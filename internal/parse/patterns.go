package parse

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrInvalidPatterns indicates a patterns file could not be parsed or
// contains an unusable entry.
var ErrInvalidPatterns = errors.New("invalid patterns file")

// LoadPatterns reads extra usage-limit vocabulary from a TOML file:
//
//	[ratelimit]
//	patterns = ["quota exceeded", "credit balance too low"]
//
// A missing file is not an error and yields no patterns, so operators
// opt in simply by creating the file.
func LoadPatterns(path string) ([]string, error) {
	var file struct {
		RateLimit struct {
			Patterns []string `toml:"patterns"`
		} `toml:"ratelimit"`
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPatterns, path, err)
	}

	patterns := make([]string, 0, len(file.RateLimit.Patterns))
	for _, p := range file.RateLimit.Patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("%w: empty pattern in %s", ErrInvalidPatterns, path)
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}
