package agent

import (
	"path/filepath"
	"regexp"
	"strings"
)

// localImagePath matches an absolute local path under /Users or /tmp with
// a recognized image extension (spec §4.8.2/§4.8.3).
var localImagePath = regexp.MustCompile(`^(?:/Users|/tmp)/\S*\.(?:png|jpe?g|gif|webp|bmp)$`)

// localPath matches any absolute path under /Users or /tmp, regardless of
// extension, for the "send this local file" pre-intent (§4.8.3).
var localPath = regexp.MustCompile(`^(?:/Users|/tmp)/\S+$`)

// sendVerbs are the Chinese imperative verbs that signal "deliver this
// file to me" pre-intent, per §4.8.3.
var sendVerbs = []string{"发送", "发给", "帮我发", "发一下", "传给我"}

// extractCandidatePaths returns every whitespace-delimited token in text
// that looks like a local path.
func extractCandidatePaths(text string) []string {
	var out []string
	for _, tok := range strings.Fields(text) {
		tok = strings.Trim(tok, "，,。.!！?？\"'()[]{}")
		if localPath.MatchString(tok) {
			out = append(out, tok)
		}
	}
	return out
}

// modelInferredImagePaths extracts local image paths from blockText, but
// only accepts a candidate that also appears verbatim in rawBody — the
// guard against a malicious prompt fabricating a path outside what the
// user actually sent (§4.8.2).
func modelInferredImagePaths(blockText, rawBody string) []string {
	var out []string
	for _, tok := range extractCandidatePaths(blockText) {
		if !localImagePath.MatchString(tok) {
			continue
		}
		if strings.Contains(rawBody, tok) {
			out = append(out, tok)
		}
	}
	return out
}

// isSendLocalFileIntent reports whether rawBody both names a local path and
// uses a Chinese "send it" verb (§4.8.3).
func isSendLocalFileIntent(rawBody string) bool {
	if len(extractCandidatePaths(rawBody)) == 0 {
		return false
	}
	for _, verb := range sendVerbs {
		if strings.Contains(rawBody, verb) {
			return true
		}
	}
	return false
}

// classifyLocalPaths splits paths into image and non-image groups by
// extension.
func classifyLocalPaths(paths []string) (images, others []string) {
	for _, p := range paths {
		ext := strings.ToLower(filepath.Ext(p))
		switch ext {
		case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp":
			images = append(images, p)
		default:
			others = append(others, p)
		}
	}
	return images, others
}
