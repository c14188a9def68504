package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sentinel errors for secret resolution.
var (
	ErrMissingEnv       = errors.New("secret: missing required environment variables")
	ErrUnknownProvider  = errors.New("secret: provider is not registered")
	ErrEmptySecret      = errors.New("secret: provider returned empty value")
	ErrInvalidReference = errors.New("secret: invalid reference")
)

// Provider resolves secrets by reference string.
//
// Implementations must be safe for concurrent use and must not log secret values.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, ref string) (string, error)
	Close() error
}

// EnvProvider resolves a reference as an environment variable name.
type EnvProvider struct{}

// Name returns "env".
func (EnvProvider) Name() string { return "env" }

// Resolve returns the variable's value. An unset variable is an error.
func (EnvProvider) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := os.LookupEnv(ref)
	if !ok {
		return "", fmt.Errorf("%w: env %q is not set", ErrInvalidReference, ref)
	}
	return v, nil
}

// Close is a no-op.
func (EnvProvider) Close() error { return nil }

// FileProvider resolves a reference as a file name inside Dir, the layout
// used by mounted secret volumes. Trailing newlines are trimmed.
type FileProvider struct {
	Dir string
}

// Name returns "file".
func (p *FileProvider) Name() string { return "file" }

// Resolve reads Dir/ref. References may not escape Dir.
func (p *FileProvider) Resolve(_ context.Context, ref string) (string, error) {
	clean := filepath.Clean(ref)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes secrets dir", ErrInvalidReference, ref)
	}
	b, err := os.ReadFile(filepath.Join(p.Dir, clean))
	if err != nil {
		return "", fmt.Errorf("secret: read %q: %w", ref, err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

// Close is a no-op.
func (p *FileProvider) Close() error { return nil }

var (
	_ Provider = EnvProvider{}
	_ Provider = (*FileProvider)(nil)
)
