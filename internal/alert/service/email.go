package service

import (
	"bytes"
	"html/template"
	"strings"
)

var emailTemplate = template.Must(template.New("alert").Parse(`<html><body>
<h2>{{.Title}}</h2>
{{range .Lines}}<p>{{.}}</p>
{{end}}</body></html>`))

func renderEmail(title string, message string) (string, error) {
	var body bytes.Buffer
	err := emailTemplate.Execute(&body, struct {
		Title string
		Lines []string
	}{
		Title: title,
		Lines: strings.Split(message, "\n"),
	})
	if err != nil {
		return "", err
	}
	return body.String(), nil
}
