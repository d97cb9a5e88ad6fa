package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/PayPipe/internal/models"
)

// prompt asks for the field (or bulk segment) starting at index i.
func (e *StepEngine) prompt(i int) string {
	segment := e.def.bulkSegment(i)
	if len(segment) == 1 {
		return fieldPrompt(segment[0])
	}
	var b strings.Builder
	b.WriteString("Please send the following in ONE message, one item per line, in this order:\n")
	optional := false
	for n, f := range segment {
		label := f.Label
		if len(f.Options) > 0 {
			label += " [" + strings.Join(f.Options, " / ") + "]"
		}
		fmt.Fprintf(&b, "%d. %s\n", n+1, label)
		optional = optional || f.Optional
	}
	if optional {
		b.WriteString("\nOptional items at the end can be left out.")
	}
	return strings.TrimRight(b.String(), "\n")
}

func fieldPrompt(f Field) string {
	p := f.Prompt
	if p == "" {
		if f.IsDocument() {
			p = fmt.Sprintf("Please upload the %s as a document.", strings.ToLower(f.Label))
		} else {
			p = fmt.Sprintf("Please enter your %s.", strings.ToLower(f.Label))
		}
	}
	if len(f.Options) == 0 {
		return p
	}
	var b strings.Builder
	b.WriteString(p)
	for n, opt := range f.Options {
		fmt.Fprintf(&b, "\n%d. %s", n+1, opt)
	}
	return b.String()
}

func (e *StepEngine) confirmationPrompt(st *models.FlowState) string {
	var b strings.Builder
	b.WriteString("Please review your details:\n\n")
	for n, f := range e.def.Fields {
		v := st.Data[f.Name]
		if v == "" {
			v = "(not provided)"
		}
		fmt.Fprintf(&b, "%d. %s: %s\n", n+1, f.Label, v)
	}
	b.WriteString("\nReply CONFIRM to submit, EDIT to start over, or CANCEL to exit.")
	return b.String()
}

// render substitutes {key} placeholders.
func render(tmpl string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func joinParagraphs(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
