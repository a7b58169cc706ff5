package guard

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	kkErrors "github.com/harunnryd/kakehashi/internal/errors"
)

// newCode mints the 6-hex one-time approval code.
func newCode() (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", kkErrors.Wrap(err, "generate approval code")
	}
	return hex.EncodeToString(buf), nil
}

// newTokenValue mints the single-use approval token value.
func newTokenValue() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", kkErrors.Wrap(err, "generate approval token")
	}
	return "appr-" + hex.EncodeToString(buf), nil
}

func (g *Guard) codePath(convID, side string) string {
	return filepath.Join(g.opts.StateDir, "codes", fmt.Sprintf("%s_%s", convID, side))
}

// writeCodeFile persists the code atomically with owner-only permissions so
// the only way to learn it is to read the file on the host.
func (g *Guard) writeCodeFile(convID, side, code string) (string, error) {
	path := g.codePath(convID, side)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", kkErrors.Wrap(err, "create code directory")
	}
	if err := atomic.WriteFile(path, strings.NewReader(code+"\n")); err != nil {
		return "", kkErrors.Wrap(err, "write code file")
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return "", kkErrors.Wrap(err, "restrict code file")
	}
	return path, nil
}

// ReadCodeFile is the operator-side helper the CLI uses to show the pending
// code for a conversation side.
func (g *Guard) ReadCodeFile(convID, side string) (string, error) {
	data, err := os.ReadFile(g.codePath(convID, side))
	if err != nil {
		return "", kkErrors.NotFound("no pending approval code")
	}
	return strings.TrimSpace(string(data)), nil
}
