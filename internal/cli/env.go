package cli

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// EnvFileVar names a .env file that takes precedence over the --env flag.
// The systemd unit leaves it unset; it is meant for one-off overrides.
const EnvFileVar = "MEDIATRENDS_ENV_FILE"

// EnvLoader resolves the --env flag of one subcommand.
type EnvLoader struct {
	path     *string
	fallback string
}

// AddEnvFlag registers --env on fs (flag.CommandLine when nil).
func AddEnvFlag(fs *flag.FlagSet, defaultPath, usage string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if usage == "" {
		usage = "Path to the .env file"
	}
	return &EnvLoader{
		path:     fs.String("env", defaultPath, usage),
		fallback: defaultPath,
	}
}

// Load overlays the first loadable candidate onto the process environment and
// returns its path. Candidates, in order: $MEDIATRENDS_ENV_FILE, the flag
// value, the flag value's base name in the working directory, the default.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}
	log.SetOutput(os.Stderr)

	candidates := l.candidates()
	for _, candidate := range candidates {
		if err := godotenv.Overload(candidate.path); err != nil {
			if candidate.explicit {
				log.Printf("Warning: failed to load %s=%s: %v", EnvFileVar, candidate.path, err)
			}
			continue
		}
		log.Printf("Loaded environment from %s", candidate.path)
		return candidate.path, nil
	}

	requested := l.fallback
	if l.path != nil && strings.TrimSpace(*l.path) != "" {
		requested = strings.TrimSpace(*l.path)
	}
	return "", fmt.Errorf("failed to load env file from %s", requested)
}

type envCandidate struct {
	path     string
	explicit bool
}

func (l *EnvLoader) candidates() []envCandidate {
	out := make([]envCandidate, 0, 4)
	seen := make(map[string]struct{}, 4)
	add := func(path string, explicit bool) {
		path = strings.TrimSpace(path)
		if path == "" {
			return
		}
		if _, dup := seen[path]; dup {
			return
		}
		seen[path] = struct{}{}
		out = append(out, envCandidate{path: path, explicit: explicit})
	}

	add(os.Getenv(EnvFileVar), true)
	requested := l.fallback
	if l.path != nil && strings.TrimSpace(*l.path) != "" {
		requested = *l.path
	}
	add(requested, false)
	add(filepath.Base(strings.TrimSpace(requested)), false)
	add(l.fallback, false)
	return out
}
