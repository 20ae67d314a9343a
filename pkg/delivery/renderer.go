package delivery

import "strings"

// RenderTemplate substitutes {{key}} placeholders with their values.
// Unknown placeholders are left untouched so typos surface in the
// rendered output instead of disappearing silently.
func RenderTemplate(template string, variables map[string]string) string {
	rendered := template

	for key, value := range variables {
		rendered = strings.ReplaceAll(rendered, "{{"+key+"}}", value)
	}

	return rendered
}
