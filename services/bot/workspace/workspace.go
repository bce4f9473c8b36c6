// Package workspace projects a bot's persisted files onto a per-bot
// directory on local disk, substituting credential placeholders as it
// writes. Every write goes through a write-to-temp-then-rename sequence so
// a crash mid-materialization never leaves a half-written file behind.
package workspace

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/chatforge/engine/services/bot"
)

// AllowedExtensions is the extension allow-list enforced at materialization
// time, independent of any upload-time check a collaborator performs.
var AllowedExtensions = map[string]bool{
	".py":   true,
	".js":   true,
	".mjs":  true,
	".cjs":  true,
	".json": true,
	".txt":  true,
	".env":  true,
	".md":   true,
}

// Materializer writes a bot's files to {root}/{botID}.
type Materializer struct {
	root string
}

// New constructs a Materializer rooted at root.
func New(root string) *Materializer {
	return &Materializer{root: root}
}

// Dir returns the workspace directory for botID, whether or not it exists.
func (m *Materializer) Dir(botID string) string {
	return filepath.Join(m.root, botID)
}

// Materialize writes every file to disk under Dir(botID), substituting
// credential placeholders per §4.1. It refuses directory traversal and
// disallowed extensions, and fails with *bot.WorkspaceError if files is
// empty or any I/O step fails after the root directory is created.
func (m *Materializer) Materialize(botID string, files []bot.BotFile, credential string) error {
	if len(files) == 0 {
		return &bot.WorkspaceError{Cause: errNoFiles}
	}

	dir := m.Dir(botID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &bot.WorkspaceError{Cause: err}
	}

	for _, f := range files {
		clean := filepath.Clean(f.Name)
		if clean != f.Name || strings.Contains(clean, "..") || filepath.IsAbs(clean) {
			return &bot.WorkspaceError{Cause: errUnsafePath(f.Name)}
		}
		ext := strings.ToLower(filepath.Ext(clean))
		if !AllowedExtensions[ext] {
			return &bot.WorkspaceError{Cause: errDisallowedExtension(ext)}
		}

		dest := filepath.Join(dir, clean)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return &bot.WorkspaceError{Cause: err}
		}
		content := Substitute(f.Content, credential)
		if err := writeAtomic(dest, []byte(content)); err != nil {
			return &bot.WorkspaceError{Cause: err}
		}
	}
	return nil
}

// Remove deletes the bot's workspace directory recursively. Failure is
// logged by the caller, not returned as fatal, per the spec's best-effort
// cleanup posture.
func (m *Materializer) Remove(botID string) error {
	return os.RemoveAll(m.Dir(botID))
}

func writeAtomic(dest string, content []byte) error {
	tmp := dest + ".tmp-" + strconv.Itoa(os.Getpid())
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

// quotedPlaceholder matches the bare, single-, and double-quoted forms of
// the sample placeholder token.
var quotedPlaceholder = regexp.MustCompile(`["']YOUR_BOT_TOKEN["']|YOUR_BOT_TOKEN`)

// runtimeBEnvLookup matches process.env.DISCORD_TOKEN / BOT_TOKEN / TOKEN
// and the equivalent bracket-index form, per §4.1(b).
var runtimeBEnvLookup = regexp.MustCompile(`process\.env(?:\.(DISCORD_TOKEN|BOT_TOKEN|TOKEN)\b|\[["'](DISCORD_TOKEN|BOT_TOKEN|TOKEN)["']\])`)

// runtimeAEnvLookup matches os.environ["DISCORD_TOKEN"] and
// os.getenv("DISCORD_TOKEN") forms, per §4.1(c).
var runtimeAEnvLookup = regexp.MustCompile(`os\.environ\[["']DISCORD_TOKEN["']\]|os\.getenv\(["']DISCORD_TOKEN["']\)`)

// Substitute replaces every placeholder occurrence in content with a
// double-quoted literal of credential. It is exported so tests can
// exercise the substitution pass in isolation from the filesystem.
func Substitute(content, credential string) string {
	literal := strconv.Quote(credential)
	content = quotedPlaceholder.ReplaceAllString(content, literal)
	content = runtimeBEnvLookup.ReplaceAllString(content, literal)
	content = runtimeAEnvLookup.ReplaceAllString(content, literal)
	return content
}

type workspaceErr string

func (e workspaceErr) Error() string { return string(e) }

var errNoFiles = workspaceErr("bot has zero files")

func errUnsafePath(name string) error {
	return workspaceErr("unsafe file path: " + name)
}

func errDisallowedExtension(ext string) error {
	return workspaceErr("disallowed file extension: " + ext)
}
