package analysis

import "strings"

// Sections is a diagnosis split along the headers BuildPrompt asks for.
type Sections struct {
	FailureType string `json:"failure_type,omitempty"`
	RootCause   string `json:"root_cause,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
	Fixes       string `json:"fixes,omitempty"`
	// Raw holds text found before the first header, if any.
	Raw string `json:"raw,omitempty"`
}

// Complete reports whether every section was found with content.
func (s Sections) Complete() bool {
	return s.FailureType != "" && s.RootCause != "" && s.ErrorDetail != "" && s.Fixes != ""
}

// ParseSections splits a plain-text diagnosis by section header. Headers may
// appear in any order and are matched anywhere in the text; a repeated header
// appends to the earlier content. A reply with no headers at all lands in Raw.
func ParseSections(text string) Sections {
	var out Sections
	targets := map[string]*string{
		SectionFailureType: &out.FailureType,
		SectionRootCause:   &out.RootCause,
		SectionErrorDetail: &out.ErrorDetail,
		SectionFixes:       &out.Fixes,
	}

	current := &out.Raw
	var buf strings.Builder
	flush := func() {
		content := strings.TrimSpace(buf.String())
		buf.Reset()
		if content == "" {
			return
		}
		if *current != "" {
			*current += "\n"
		}
		*current += content
	}

	rest := text
	for {
		idx, header := nextHeader(rest)
		if idx < 0 {
			buf.WriteString(rest)
			break
		}
		buf.WriteString(rest[:idx])
		flush()
		current = targets[header]
		rest = rest[idx+len(header):]
	}
	flush()
	return out
}

// nextHeader finds the earliest section header in s.
func nextHeader(s string) (int, string) {
	best, which := -1, ""
	for _, h := range []string{SectionFailureType, SectionRootCause, SectionErrorDetail, SectionFixes} {
		if i := strings.Index(s, h); i >= 0 && (best < 0 || i < best) {
			best, which = i, h
		}
	}
	return best, which
}
