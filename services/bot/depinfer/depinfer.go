// Package depinfer synthesizes a dependency manifest for a bot's workspace
// when the user did not supply one. It scans source files line by line for
// recognized import markers and maps each to a dependency pin, mirroring
// the teacher's policy_engine approach of expressing scan rules as a data
// table rather than a chain of conditionals.
package depinfer

import (
	"bufio"
	"encoding/json"
	"strings"

	"github.com/chatforge/engine/services/bot"
)

// Marker pairs a substring to look for in a lower-cased source line with
// the dependency pin it implies.
type Marker struct {
	Substrings []string
	Pin        string
}

// RuntimeAManifestFile is the manifest filename checked/written for Runtime A.
const RuntimeAManifestFile = "requirements.txt"

// RuntimeBManifestFile is the manifest filename checked/written for Runtime B.
const RuntimeBManifestFile = "package.json"

// runtimeAExtensions lists the scripting-runtime source extensions scanned
// for Runtime A import markers.
var runtimeAExtensions = []string{".py"}

// runtimeBExtensions lists the event-loop-runtime source extensions scanned
// for Runtime B import markers.
var runtimeBExtensions = []string{".js", ".mjs", ".cjs"}

// runtimeABaseline is the pin added when a Runtime A workspace has at least
// one source file but no recognized import markers.
const runtimeABaseline = "discord.py>=2.3.0"

// runtimeAMarkers is the §4.2 marker table for Runtime A, in table order.
var runtimeAMarkers = []Marker{
	{Substrings: []string{"discord.py", "import discord", "from discord"}, Pin: "discord.py>=2.3.0"},
	{Substrings: []string{"aiohttp"}, Pin: "aiohttp>=3.8.0"},
	{Substrings: []string{"requests"}, Pin: "requests>=2.28.0"},
	{Substrings: []string{"dotenv", "python-dotenv"}, Pin: "python-dotenv>=0.19.0"},
	{Substrings: []string{"pymysql", "mysql"}, Pin: "PyMySQL>=1.0.0"},
	{Substrings: []string{"psycopg", "postgres"}, Pin: "psycopg2-binary>=2.9.0"},
}

// runtimeBBaseline is the discord.js version written when a Runtime B
// workspace has at least one source file but no recognized import markers.
const runtimeBBaseline = "^14.14.1"

// runtimeBMarkers is the analogous marker table for Runtime B. Package
// names double as the manifest's dependency keys.
var runtimeBMarkers = []struct {
	Substrings []string
	Package    string
	Version    string
}{
	{Substrings: []string{"discord.js", "require(\"discord.js\")", "require('discord.js')"}, Package: "discord.js", Version: "^14.14.1"},
	{Substrings: []string{"@discordjs/builders"}, Package: "@discordjs/builders", Version: "^1.7.0"},
	{Substrings: []string{"@discordjs/rest"}, Package: "@discordjs/rest", Version: "^2.2.0"},
	{Substrings: []string{"@discordjs/voice"}, Package: "@discordjs/voice", Version: "^0.16.1"},
	{Substrings: []string{"dotenv"}, Package: "dotenv", Version: "^16.3.1"},
	{Substrings: []string{"axios"}, Package: "axios", Version: "^1.6.0"},
	{Substrings: []string{"fs-extra"}, Package: "fs-extra", Version: "^11.2.0"},
	{Substrings: []string{"moment"}, Package: "moment", Version: "^2.30.1"},
	{Substrings: []string{"lodash"}, Package: "lodash", Version: "^4.17.21"},
	{Substrings: []string{"sqlite3"}, Package: "sqlite3", Version: "^5.1.7"},
	{Substrings: []string{"mysql2", "mysql"}, Package: "mysql2", Version: "^3.9.0"},
	{Substrings: []string{"mongoose", "mongodb"}, Package: "mongoose", Version: "^8.1.0"},
}

// packageJSON is the shape written for Runtime B.
type packageJSON struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Main         string            `json:"main"`
	Dependencies map[string]string `json:"dependencies"`
}

// InferRuntimeA scans files (keyed by filename, valued by content) with a
// Runtime A extension and returns the newline-separated requirements.txt
// body, or "" if no Runtime A source files are present.
func InferRuntimeA(files map[string]string) string {
	pins := map[string]bool{}
	var order []string
	matchedAny := false
	sawFile := false

	for name, content := range files {
		if !hasExtension(name, runtimeAExtensions) {
			continue
		}
		sawFile = true
		forEachLowerLine(content, func(line string) {
			for _, m := range runtimeAMarkers {
				if containsAny(line, m.Substrings) && !pins[m.Pin] {
					pins[m.Pin] = true
					order = append(order, m.Pin)
					matchedAny = true
				}
			}
		})
	}

	if !sawFile {
		return ""
	}
	if !matchedAny {
		return runtimeABaseline + "\n"
	}
	return strings.Join(order, "\n") + "\n"
}

// InferRuntimeB scans files with a Runtime B extension and returns the
// package.json body, or "" if no Runtime B source files are present.
func InferRuntimeB(botID string, files map[string]string) string {
	deps := map[string]string{}
	sawFile := false

	for name, content := range files {
		if !hasExtension(name, runtimeBExtensions) {
			continue
		}
		sawFile = true
		forEachLowerLine(content, func(line string) {
			for _, m := range runtimeBMarkers {
				if containsAny(line, m.Substrings) {
					deps[m.Package] = m.Version
				}
			}
		})
	}

	if !sawFile {
		return ""
	}
	if len(deps) == 0 {
		deps["discord.js"] = runtimeBBaseline
	}

	manifest := packageJSON{
		Name:         botID,
		Version:      "1.0.0",
		Main:         "index.js",
		Dependencies: deps,
	}
	b, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		// deps is a map[string]string and botID a string; MarshalIndent
		// cannot fail on this shape.
		panic("depinfer: " + err.Error())
	}
	return string(b) + "\n"
}

// Infer dispatches to InferRuntimeA or InferRuntimeB by runtime, returning
// the manifest filename and body. It returns ok=false when no source file
// of the target runtime's extension exists, per §4.2.
func Infer(runtime bot.Runtime, botID string, files map[string]string) (filename, body string, ok bool) {
	switch runtime {
	case bot.RuntimeA:
		body = InferRuntimeA(files)
		if body == "" {
			return "", "", false
		}
		return RuntimeAManifestFile, body, true
	case bot.RuntimeB:
		body = InferRuntimeB(botID, files)
		if body == "" {
			return "", "", false
		}
		return RuntimeBManifestFile, body, true
	default:
		return "", "", false
	}
}

// ManifestFile returns the manifest filename checked for runtime.
func ManifestFile(runtime bot.Runtime) string {
	if runtime == bot.RuntimeB {
		return RuntimeBManifestFile
	}
	return RuntimeAManifestFile
}

func hasExtension(name string, exts []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func containsAny(haystack string, substrings []string) bool {
	for _, s := range substrings {
		if strings.Contains(haystack, s) {
			return true
		}
	}
	return false
}

func forEachLowerLine(content string, fn func(line string)) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(strings.ToLower(scanner.Text()))
	}
}
