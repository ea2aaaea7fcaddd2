package dispatch

import (
	"strconv"
	"strings"
)

// Placeholders recognised in a command template.
const (
	PlaceholderContext = "{context}"
	PlaceholderRepo    = "{repo}"
	PlaceholderNumber  = "{number}"
	PlaceholderPRURL   = "{pr_url}"
)

// Request is one user-initiated CLI hand-off.
type Request struct {
	Template string
	Context  string
	Repo     string
	Number   int64
	PRURL    string
}

// ShellQuote wraps s in single quotes so a POSIX shell reads it back as one
// literal word. Embedded single quotes become '"'"'.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// RenderCommand substitutes the placeholders of req.Template. Values are
// shell-quoted except the PR number. All placeholders are replaced in a
// single pass over the template, so a value that itself contains
// "{repo}" is never expanded again. Unknown placeholders are left as is.
func RenderCommand(req Request) (string, error) {
	tmpl := strings.TrimSpace(req.Template)
	if tmpl == "" {
		return "", ErrEmptyTemplate
	}
	r := strings.NewReplacer(
		PlaceholderContext, ShellQuote(ComposeInput(req.Repo, req.Number, req.PRURL, req.Context)),
		PlaceholderRepo, ShellQuote(req.Repo),
		PlaceholderNumber, strconv.FormatInt(req.Number, 10),
		PlaceholderPRURL, ShellQuote(req.PRURL),
	)
	return r.Replace(tmpl), nil
}
