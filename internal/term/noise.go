package term

import (
	"regexp"
	"strings"
)

// Pattern set for classifying agent CLI output lines as terminal noise.
// Classification is deliberately conservative: a rule either matches a
// whole line of pure decoration or requires two independent cues, so
// free-form content is never swallowed. Repaints of status lines that
// do carry text are handled by signature dedup, not by this filter.
var (
	// Braille spinner frames, stripped during signature normalization
	spinnerBrailleRe = regexp.MustCompile(`[\x{2800}-\x{28ff}]`)

	// Lines made entirely of whitespace plus box-drawing, block-element
	// or braille glyphs: frames, borders, logos, bare spinner frames
	boxUILineRe = regexp.MustCompile(
		`^[\s\x{2500}-\x{257f}\x{2580}-\x{259f}\x{2800}-\x{28ff}]+$`)

	// File count summary lines (e.g. "5 matching files" footers)
	fileHintRe = regexp.MustCompile(`(?i)^\s*\d+\s+\S+\s+files?\s*$`)

	// Input-placeholder hints need both cues on one line
	placeholderTypeRe = regexp.MustCompile(`(?i)type\s+(a\s+)?(?:your\s+)?message`)
	placeholderPathRe = regexp.MustCompile(`(?i)@path/to/file`)

	// Status/progress tokens: memory sizes, throughput rates, percentages
	statusMemRe   = regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s*(?:kb|mb|gb)\b`)
	statusRateRe  = regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s*(?:tok/s|tokens?/s|it/s|t/s)\b`)
	progressPctRe = regexp.MustCompile(`\b\d{1,3}%`)

	// Model info / status bar cues (e.g. "/model claude-3.5 128kb");
	// only counts as noise together with a memory or rate token
	modelStatusRe = regexp.MustCompile(`(?i)` +
		`/model\s+\S+` +
		`|no\s+sandbox` +
		`|auto-?compact` +
		`|\bcontext\s*:\s*\d+` +
		`|\bcost\s*:\s*\$[\d.]+`)

	// Codex: echo of pasted content "› [Pasted Content 8905 chars]"
	codexPastedRe = regexp.MustCompile(
		`(?i)^\s*(?:›?\s*\[?\s*Pasted\s+Content\s+\d+\s+chars?\s*\]?\s*)+$`)

	// Codex: context status line "100% context left"
	codexContextRe = regexp.MustCompile(`(?i)^\s*\d{1,3}%\s+context\s+left\s*$`)

	// Claude Code: trust dialog lines
	claudeTrustRe = regexp.MustCompile(`(?i)` +
		`yes,?\s+i\s+trust\s+this\s+folder` +
		`|no,?\s+exit` +
		`|quick\s+safety\s+check` +
		`|is\s+this\s+a\s+project\s+you\s+created` +
		`|claude\s+code'?l?l?\s+be\s+able\s+to\s+read` +
		`|accessing\s+workspace` +
		`|well-known\s+open\s+source`)

	// Gemini: auth/trust/permission info lines
	geminiChromeRe = regexp.MustCompile(`(?i)` +
		`logged\s+in\s+with\s+google` +
		`|/auth\b` +
		`|loaded\s+cached\s+credentials` +
		`|hook\s+registry\s+initialized` +
		`|this\s+folder\s+is\s+untrusted` +
		`|will\s+not\s+be\s+applied\s+for\s+this\s+folder` +
		`|use\s+the\s+/permissions\s+command` +
		`|\d+\s+GEMINI\.md\s+file`)

	// Gemini: bottom status bar "~/workspace  untrusted  Auto (Gemini) /model"
	geminiStatusBarRe = regexp.MustCompile(`(?i)(?:untrusted|trusted)\s+.*(?:/model|Auto\s*\()`)

	timeTokenRe = regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2})?\b`)
	blockRunRe  = regexp.MustCompile(`[\x{2580}-\x{259f}]+`)
	wsRunRe     = regexp.MustCompile(`\s+`)
)

// IsNoiseLine reports whether a single line is terminal noise rather
// than meaningful content.
func IsNoiseLine(line string) bool {
	stripped := strings.TrimSpace(line)
	if stripped == "" {
		return true
	}

	if boxUILineRe.MatchString(stripped) || fileHintRe.MatchString(stripped) {
		return true
	}

	// Placeholder hint needs both cues so prose about typing a message
	// is never dropped
	if placeholderTypeRe.MatchString(stripped) && placeholderPathRe.MatchString(stripped) {
		return true
	}

	// Status bar lines: contain model info AND memory/rate info
	if modelStatusRe.MatchString(stripped) &&
		(statusMemRe.MatchString(stripped) || statusRateRe.MatchString(stripped)) {
		return true
	}

	if codexPastedRe.MatchString(stripped) || codexContextRe.MatchString(stripped) {
		return true
	}

	if claudeTrustRe.MatchString(stripped) {
		return true
	}

	if geminiChromeRe.MatchString(stripped) || geminiStatusBarRe.MatchString(stripped) {
		return true
	}

	return false
}

// IsRepaintNoise reports whether an entire text block is TUI repaint
// noise. Returns true when every non-empty line is noise, meaning the
// whole block can be discarded without losing content.
func IsRepaintNoise(text string) bool {
	for _, raw := range strings.Split(text, "\n") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if !IsNoiseLine(raw) {
			return false
		}
	}
	return true
}

// FilterNoiseLines removes individual noise lines from a mixed block
// while preserving content lines. Lines inside fenced code blocks are
// never filtered.
func FilterNoiseLines(text string) string {
	var result []string
	inCodeBlock := false

	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)

		if strings.HasPrefix(stripped, "```") {
			inCodeBlock = !inCodeBlock
			result = append(result, line)
			continue
		}
		if inCodeBlock {
			result = append(result, line)
			continue
		}
		if IsNoiseLine(line) {
			continue
		}
		result = append(result, line)
	}

	for len(result) > 0 && strings.TrimSpace(result[len(result)-1]) == "" {
		result = result[:len(result)-1]
	}
	return strings.Join(result, "\n")
}

// Signature produces a normalized digest for deduplication. Two blocks
// with the same signature are the same content modulo volatile tokens:
// spinner frames, clock times, percentages, memory sizes and rates.
func Signature(text string) string {
	normalized := strings.ToLower(text)
	normalized = timeTokenRe.ReplaceAllString(normalized, "<time>")
	normalized = progressPctRe.ReplaceAllString(normalized, "<pct>")
	normalized = statusMemRe.ReplaceAllString(normalized, "<mem>")
	normalized = statusRateRe.ReplaceAllString(normalized, "<rate>")
	normalized = spinnerBrailleRe.ReplaceAllString(normalized, "")
	normalized = blockRunRe.ReplaceAllString(normalized, " ")
	normalized = strings.TrimSpace(wsRunRe.ReplaceAllString(normalized, " "))

	runes := []rune(normalized)
	if len(runes) > 800 {
		runes = runes[:800]
	}
	return string(runes)
}
