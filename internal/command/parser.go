package command

import "strings"

// ParseResult is the outcome of tokenizing one line of user text.
type ParseResult struct {
	IsCommand   bool
	Tokens      []string
	Raw         string
	ArgumentRaw string
}

// Parser recognizes and tokenizes slash-prefixed command input.
type Parser struct {
	Prefix string // default "/"
}

// NewParser returns a Parser using the default "/" prefix.
func NewParser() Parser {
	return Parser{Prefix: "/"}
}

// Parse tokenizes text, following the Telegram Message.IsCommand convention.
func (p Parser) Parse(text string) ParseResult {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ParseResult{Raw: text}
	}

	prefix := p.Prefix
	if prefix == "" {
		prefix = "/"
	}

	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return ParseResult{Raw: text}
	}
	first := fields[0]
	if !strings.HasPrefix(first, prefix) || len(first) <= len(prefix) {
		return ParseResult{Raw: text}
	}

	commandToken := strings.TrimPrefix(first, prefix)
	if idx := strings.IndexRune(commandToken, '@'); idx >= 0 {
		commandToken = commandToken[:idx]
	}
	if commandToken == "" {
		return ParseResult{Raw: text}
	}

	tokens := append([]string{commandToken}, fields[1:]...)

	argumentRaw := ""
	if len(fields) > 1 {
		argumentRaw = strings.TrimSpace(strings.TrimPrefix(trimmed, first))
	}

	return ParseResult{
		IsCommand:   true,
		Tokens:      tokens,
		Raw:         text,
		ArgumentRaw: argumentRaw,
	}
}
