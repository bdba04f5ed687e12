package retailer

import (
	"context"
	"encoding/json"
	"strings"
)

// fakePage answers Eval calls by matching a substring of the script, and
// decodes the canned value into out the way chromedp does.
type fakePage struct {
	status   int
	location string
	html     string
	answers  map[string]any
	evalErr  error
	scripts  []string
}

func (p *fakePage) Eval(_ context.Context, expression string, out any) error {
	p.scripts = append(p.scripts, expression)
	if p.evalErr != nil {
		return p.evalErr
	}
	var value any
	for marker, v := range p.answers {
		if strings.Contains(expression, marker) {
			value = v
			break
		}
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (p *fakePage) HTML(context.Context) (string, error) {
	return p.html, nil
}

func (p *fakePage) Location(context.Context) (string, error) {
	return p.location, nil
}

func (p *fakePage) StatusCode() int {
	if p.status == 0 {
		return 200
	}
	return p.status
}
