package agent

import (
	"strconv"
	"strings"

	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

var tableParser = parser.NewWithExtensions(parser.Tables)

// containsMarkdownTable reports whether text parses to at least one GFM
// table block. Detection goes through gomarkdown's real parser/AST rather
// than sniffing for "|" characters, so ordinary text containing a stray
// pipe (shell pipelines, math) is not mistaken for a table.
func containsMarkdownTable(text string) bool {
	doc := tableParser.Parse([]byte(text))
	found := false
	ast.WalkFunc(doc, func(node ast.Node, entering bool) ast.WalkStatus {
		if entering {
			if _, ok := node.(*ast.Table); ok {
				found = true
				return ast.Terminate
			}
		}
		return ast.GoToNext
	})
	return found
}

// convertTables rewrites markdown tables in text into readable "key:
// value" lines when mode is TableModeFlatten, since most EP clients render
// the Bot stream as plain text and cannot lay out a GFM table. Markdown
// mode (or text without any table) is returned unchanged.
func convertTables(text string, mode TableMode) string {
	if mode != TableModeFlatten || !containsMarkdownTable(text) {
		return text
	}

	lines := strings.Split(text, "\n")
	var out []string
	i := 0
	for i < len(lines) {
		if isTableHeaderLine(lines[i]) && i+1 < len(lines) && isTableSeparatorLine(lines[i+1]) {
			headers := splitRow(lines[i])
			i += 2
			for i < len(lines) && isTableHeaderLine(lines[i]) {
				values := splitRow(lines[i])
				out = append(out, flattenRow(headers, values))
				i++
			}
			continue
		}
		out = append(out, lines[i])
		i++
	}
	return strings.Join(out, "\n")
}

func isTableHeaderLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.Contains(trimmed, "|") && trimmed != ""
}

func isTableSeparatorLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.Contains(trimmed, "-") {
		return false
	}
	for _, cell := range splitRow(trimmed) {
		cell = strings.TrimSpace(cell)
		cell = strings.Trim(cell, ":")
		if cell == "" || strings.Trim(cell, "-") != "" {
			return false
		}
	}
	return true
}

func splitRow(line string) []string {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.Trim(trimmed, "|")
	parts := strings.Split(trimmed, "|")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func flattenRow(headers, values []string) string {
	var pairs []string
	for i, v := range values {
		key := "col" + strconv.Itoa(i+1)
		if i < len(headers) && headers[i] != "" {
			key = headers[i]
		}
		pairs = append(pairs, key+": "+v)
	}
	return strings.Join(pairs, ", ")
}
