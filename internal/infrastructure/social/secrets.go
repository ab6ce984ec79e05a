package social

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gocloud.dev/runtimevar"
	_ "gocloud.dev/runtimevar/constantvar"
	_ "gocloud.dev/runtimevar/filevar"
)

// Secret is an access token plus the optional server URL stored alongside it
// (second line of a Mastodon.py style secret file).
type Secret struct {
	Token  string
	Server string
}

// ReadSecret resolves a gocloud.dev/runtimevar URI (file://, constant://, ...)
// or a plain file path into a Secret.
func ReadSecret(ctx context.Context, uri string) (Secret, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return Secret{}, fmt.Errorf("secret location is empty")
	}

	if !strings.Contains(uri, "://") {
		abs, err := filepath.Abs(uri)
		if err != nil {
			return Secret{}, fmt.Errorf("resolve secret path: %w", err)
		}
		if _, err := os.Stat(abs); err != nil {
			return Secret{}, fmt.Errorf("secret file: %w", err)
		}
		uri = (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: "decoder=string"}).String()
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	v, err := runtimevar.OpenVariable(ctx, uri)
	if err != nil {
		return Secret{}, fmt.Errorf("open secret: %w", err)
	}
	defer v.Close()

	snapshot, err := v.Latest(ctx)
	if err != nil {
		return Secret{}, fmt.Errorf("read secret: %w", err)
	}

	var raw string
	switch value := snapshot.Value.(type) {
	case string:
		raw = value
	case []byte:
		raw = string(value)
	default:
		return Secret{}, fmt.Errorf("secret has unsupported type %T (use decoder=string)", snapshot.Value)
	}

	return parseSecret(raw)
}

func parseSecret(raw string) (Secret, error) {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return Secret{}, fmt.Errorf("secret is empty")
	}

	s := Secret{Token: lines[0]}
	if len(lines) > 1 && strings.HasPrefix(lines[1], "http") {
		s.Server = lines[1]
	}
	return s, nil
}
