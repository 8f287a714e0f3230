package service

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/osteele/liquid"
)

// TemplateVars are the placeholders an outreach template may use.
type TemplateVars struct {
	Name         string
	Organization string
	CompanyName  string
	FounderName  string
}

func (v TemplateVars) bindings() map[string]any {
	return map[string]any{
		"name":         v.Name,
		"organization": v.Organization,
		"companyName":  v.CompanyName,
		"founderName":  v.FounderName,
	}
}

func (v TemplateVars) escaped() TemplateVars {
	return TemplateVars{
		Name:         html.EscapeString(v.Name),
		Organization: html.EscapeString(v.Organization),
		CompanyName:  html.EscapeString(v.CompanyName),
		FounderName:  html.EscapeString(v.FounderName),
	}
}

// htmlTag matches an opening or closing tag of an element used in email bodies.
var htmlTag = regexp.MustCompile(`(?i)</?(p|br|div|span|a|b|i|u|em|strong|small|font|center|ul|ol|li|table|thead|tbody|tr|td|th|h[1-6]|hr|img|blockquote|pre|code|html|head|body|style|meta)(\s[^<>]*)?/?>`)

// IsHTML reports whether a template body is written as HTML.
func IsHTML(tpl string) bool {
	return htmlTag.MatchString(tpl)
}

// TemplateService renders {{placeholder}} templates with liquid.
type TemplateService struct {
	engine *liquid.Engine
}

func NewTemplateService() *TemplateService {
	return &TemplateService{engine: liquid.NewEngine()}
}

// Render fills the placeholders in tpl. A template liquid cannot parse, such
// as one with a stray "{%", falls back to literal placeholder replacement.
func (t *TemplateService) Render(tpl string, vars TemplateVars) string {
	out, err := t.engine.ParseAndRenderString(tpl, vars.bindings())
	if err != nil {
		data := map[string]string{}
		for k, v := range vars.bindings() {
			data[k] = fmt.Sprint(v)
		}
		return RenderTemplate(tpl, data)
	}
	return out
}

// RenderHTML renders an email body as HTML. Markup written in an HTML
// template is kept, while placeholder values are always escaped. A plain-text
// template is escaped as a whole.
func (t *TemplateService) RenderHTML(tpl string, vars TemplateVars) string {
	if IsHTML(tpl) {
		return t.Render(tpl, vars.escaped())
	}
	return ToHTML(t.Render(tpl, vars))
}

// RenderTemplate replaces every {{key}} in template with its value.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{{"+k+"}}", v)
	}
	return result
}

// ToHTML converts a plain-text body to HTML.
func ToHTML(body string) string {
	escaped := html.EscapeString(body)
	escaped = strings.ReplaceAll(escaped, "\r\n", "\n")
	return strings.ReplaceAll(escaped, "\n", "<br>\n")
}

// InjectPixel appends an invisible 1x1 image before </body>, or at the end.
func InjectPixel(body, pixelURL string) string {
	img := fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none" />`, html.EscapeString(pixelURL))
	if i := strings.LastIndex(strings.ToLower(body), "</body>"); i >= 0 {
		return body[:i] + img + body[i:]
	}
	return body + img
}

// PixelURL is the open-tracking URL for a recipient tracking id.
func PixelURL(baseURL, trackingID string) string {
	return strings.TrimRight(baseURL, "/") + "/track/open/" + trackingID + ".gif"
}
