package notify

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"
)

// Template is a subject/body pair rendered with TemplateData.
type Template struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// TemplateData is what templates can reference.
type TemplateData struct {
	Name      string
	Email     string
	Token     string
	Link      string
	ExpiresAt time.Time
}

var defaultTemplates = map[Kind]Template{
	KindEmailVerification: {
		Subject: "Verify your email address",
		Body: `Hi {{.Name}},

Confirm your email address to activate your account:

{{.Link}}

The link expires at {{.ExpiresAt.Format "2006-01-02 15:04 MST"}}.
`,
	},
	KindPasswordReset: {
		Subject: "Reset your password",
		Body: `Hi {{.Name}},

We received a request to reset the password for {{.Email}}. Use the link below to choose a new one:

{{.Link}}

The link expires at {{.ExpiresAt.Format "2006-01-02 15:04 MST"}}. If you did not ask for this, ignore this email.
`,
	},
}

var linkPaths = map[Kind]string{
	KindEmailVerification: "/verify-email",
	KindPasswordReset:     "/reset-password",
}

// Templates renders messages. The zero value is not usable; use NewTemplates or LoadTemplates.
type Templates struct {
	baseURL string
	parsed  map[Kind][2]*template.Template
}

// NewTemplates parses the built-in templates. Links are built on baseURL.
func NewTemplates(baseURL string) (*Templates, error) {
	return buildTemplates(baseURL, nil)
}

// LoadTemplates reads overrides from a YAML file keyed by kind:
//
//	password_reset:
//	  subject: Reset your password
//	  body: |
//	    ...
//
// Kinds absent from the file keep the built-in template. An empty path means no overrides.
func LoadTemplates(path, baseURL string) (*Templates, error) {
	if path == "" {
		return NewTemplates(baseURL)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("notify: read templates: %w", err)
	}
	var overrides map[Kind]Template
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("notify: parse templates: %w", err)
	}
	return buildTemplates(baseURL, overrides)
}

func buildTemplates(baseURL string, overrides map[Kind]Template) (*Templates, error) {
	t := &Templates{baseURL: strings.TrimRight(baseURL, "/"), parsed: make(map[Kind][2]*template.Template)}
	for kind, def := range defaultTemplates {
		src := def
		if o, ok := overrides[kind]; ok {
			if o.Subject != "" {
				src.Subject = o.Subject
			}
			if o.Body != "" {
				src.Body = o.Body
			}
		}
		subj, err := template.New(string(kind) + "_subject").Parse(src.Subject)
		if err != nil {
			return nil, fmt.Errorf("notify: %s subject: %w", kind, err)
		}
		body, err := template.New(string(kind) + "_body").Parse(src.Body)
		if err != nil {
			return nil, fmt.Errorf("notify: %s body: %w", kind, err)
		}
		t.parsed[kind] = [2]*template.Template{subj, body}
	}
	return t, nil
}

// Render returns the subject and plain-text body for msg.
func (t *Templates) Render(msg Message) (subject, body string, err error) {
	tpl, ok := t.parsed[msg.Kind]
	if !ok {
		return "", "", fmt.Errorf("notify: no template for %q", msg.Kind)
	}
	name := msg.DisplayName
	if name == "" {
		name = msg.To
	}
	data := TemplateData{
		Name:      name,
		Email:     msg.To,
		Token:     msg.Token,
		Link:      t.baseURL + linkPaths[msg.Kind] + "?token=" + url.QueryEscape(msg.Token),
		ExpiresAt: msg.ExpiresAt.UTC(),
	}
	var sb, bb bytes.Buffer
	if err := tpl[0].Execute(&sb, data); err != nil {
		return "", "", err
	}
	if err := tpl[1].Execute(&bb, data); err != nil {
		return "", "", err
	}
	return strings.TrimSpace(sb.String()), bb.String(), nil
}
