// Package templates renders email templates using the Liquid template
// language. Templates are authored in the CMS with variables such as
// {{ firstName }} and {{ position | default: "player" }}.
package templates

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html"
	"net/url"
	"strings"
	"sync"
	"unicode"

	"github.com/osteele/liquid"

	"github.com/ignite/recruit-cdp/internal/domain"
	"github.com/ignite/recruit-cdp/internal/pkg/logger"
)

// Renderer handles Liquid template rendering with caching
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// New creates a renderer with the custom filters registered.
func New() *Renderer {
	r := &Renderer{engine: liquid.NewEngine()}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// ============================================
	// STRING FILTERS
	// ============================================

	// {{ firstName | default: "there" }}
	r.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	r.engine.RegisterFilter("capitalize", func(s string) string {
		if s == "" {
			return s
		}
		runes := []rune(strings.ToLower(s))
		runes[0] = unicode.ToUpper(runes[0])
		return string(runes)
	})

	// {{ city | titlecase }}
	r.engine.RegisterFilter("titlecase", func(s string) string {
		words := strings.Fields(strings.ToLower(s))
		for i, w := range words {
			runes := []rune(w)
			runes[0] = unicode.ToUpper(runes[0])
			words[i] = string(runes)
		}
		return strings.Join(words, " ")
	})

	r.engine.RegisterFilter("truncate", func(s string, length int) string {
		runes := []rune(s)
		if len(runes) <= length {
			return s
		}
		if length <= 3 {
			return string(runes[:length])
		}
		return string(runes[:length-3]) + "..."
	})

	r.engine.RegisterFilter("urlencode", func(s string) string {
		return url.QueryEscape(s)
	})

	r.engine.RegisterFilter("escape", func(s string) string {
		return html.EscapeString(s)
	})

	// ============================================
	// EMAIL FILTERS
	// ============================================

	r.engine.RegisterFilter("email_domain", func(email string) string {
		_, d, ok := strings.Cut(email, "@")
		if !ok {
			return ""
		}
		return d
	})

	r.engine.RegisterFilter("mask_email", func(email string) string {
		local, d, ok := strings.Cut(email, "@")
		if !ok {
			return email
		}
		if len(local) <= 2 {
			return local + "***@" + d
		}
		return local[:2] + "***@" + d
	})
}

// Parse compiles a template string and returns any syntax errors
func (r *Renderer) Parse(src string) error {
	_, err := r.engine.ParseString(src)
	return err
}

// Render renders a template's subject and body against vars. Missing
// variables render as empty strings. A non-empty preview text is
// prepended to the body as a hidden preheader.
func (r *Renderer) Render(tpl *domain.EmailTemplate, vars map[string]any) (*domain.RenderedEmail, error) {
	if tpl == nil {
		return nil, fmt.Errorf("templates: nil template")
	}
	subject, err := r.render(tpl.ID+":subject", tpl.Subject, vars)
	if err != nil {
		return nil, fmt.Errorf("render subject of %s: %w", tpl.ID, err)
	}
	body, err := r.render(tpl.ID+":body", tpl.Body, vars)
	if err != nil {
		return nil, fmt.Errorf("render body of %s: %w", tpl.ID, err)
	}
	if tpl.PreviewText != "" {
		preview, err := r.render(tpl.ID+":preview", tpl.PreviewText, vars)
		if err != nil {
			return nil, fmt.Errorf("render preview text of %s: %w", tpl.ID, err)
		}
		body = preheader(preview) + body
	}
	return &domain.RenderedEmail{Subject: strings.TrimSpace(subject), HTML: body}, nil
}

// render caches parsed templates by name plus a hash of the source so an
// edited template is re-parsed.
func (r *Renderer) render(name, src string, vars map[string]any) (string, error) {
	sum := sha256.Sum256([]byte(src))
	key := name + ":" + hex.EncodeToString(sum[:8])

	if cached, ok := r.cache.Load(key); ok {
		return cached.(*liquid.Template).RenderString(vars)
	}

	tpl, err := r.engine.ParseString(src)
	if err != nil {
		logger.Warn("template parse error", "template", name, "error", err)
		return "", err
	}
	r.cache.Store(key, tpl)

	out, err := tpl.RenderString(vars)
	if err != nil {
		return "", err
	}
	return out, nil
}

func preheader(text string) string {
	return `<div style="display:none;max-height:0;overflow:hidden;">` + html.EscapeString(text) + `</div>`
}
