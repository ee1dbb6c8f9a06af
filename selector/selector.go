// Package selector applies site-supplied CSS selectors to fetched pages. The
// rest of the engine only sees the Document and Element interfaces, so the
// query engine behind them can be swapped without touching navigation or
// matching code.
package selector

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// SelectorError reports a selector whose syntax could not be compiled. It is
// permanent: retrying the same page will fail the same way.
type SelectorError struct {
	Selector string
	Err      error
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("invalid selector %q: %v", e.Selector, e.Err)
}

func (e *SelectorError) Unwrap() error {
	return e.Err
}

// Document is a parsed page.
type Document interface {
	// Select returns every element matching sel, in document order. An
	// empty result is not an error.
	Select(sel string) ([]Element, error)
	// URL is the address the document was fetched from.
	URL() string
}

// Element is one node returned by Select.
type Element interface {
	Select(sel string) ([]Element, error)
	Text() string
	Attr(name string) (string, bool)
}

// Evaluator turns raw markup into a queryable Document.
type Evaluator interface {
	Parse(body []byte, pageURL string) (Document, error)
	// Validate returns a *SelectorError if sel cannot be compiled.
	Validate(sel string) error
}

// GoqueryEvaluator implements Evaluator with goquery and cascadia.
type GoqueryEvaluator struct {
	mu    sync.RWMutex
	cache map[string]cascadia.Selector
}

// NewGoqueryEvaluator creates an evaluator with an empty selector cache.
func NewGoqueryEvaluator() *GoqueryEvaluator {
	return &GoqueryEvaluator{cache: make(map[string]cascadia.Selector)}
}

// Parse parses HTML markup.
func (e *GoqueryEvaluator) Parse(body []byte, pageURL string) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	return &goqueryDocument{doc: doc, url: pageURL, eval: e}, nil
}

// Validate reports a SelectorError if sel does not compile.
func (e *GoqueryEvaluator) Validate(sel string) error {
	_, err := e.compile(sel)
	return err
}

func (e *GoqueryEvaluator) compile(sel string) (cascadia.Selector, error) {
	e.mu.RLock()
	compiled, ok := e.cache[sel]
	e.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := cascadia.Compile(sel)
	if err != nil {
		return nil, &SelectorError{Selector: sel, Err: err}
	}

	e.mu.Lock()
	e.cache[sel] = compiled
	e.mu.Unlock()

	return compiled, nil
}

func (e *GoqueryEvaluator) find(s *goquery.Selection, sel string) ([]Element, error) {
	compiled, err := e.compile(sel)
	if err != nil {
		return nil, err
	}

	found := s.FindMatcher(compiled)
	elements := make([]Element, 0, found.Length())
	found.Each(func(_ int, item *goquery.Selection) {
		elements = append(elements, &goqueryElement{sel: item, eval: e})
	})
	return elements, nil
}

type goqueryDocument struct {
	doc  *goquery.Document
	url  string
	eval *GoqueryEvaluator
}

func (d *goqueryDocument) Select(sel string) ([]Element, error) {
	return d.eval.find(d.doc.Selection, sel)
}

func (d *goqueryDocument) URL() string {
	return d.url
}

type goqueryElement struct {
	sel  *goquery.Selection
	eval *GoqueryEvaluator
}

func (el *goqueryElement) Select(sel string) ([]Element, error) {
	return el.eval.find(el.sel, sel)
}

func (el *goqueryElement) Text() string {
	return el.sel.Text()
}

func (el *goqueryElement) Attr(name string) (string, bool) {
	return el.sel.Attr(name)
}

// TextOf returns the element's text with whitespace runs collapsed to single
// spaces.
func TextOf(el Element) string {
	return strings.Join(strings.Fields(el.Text()), " ")
}

// First returns the first element matching sel under el, or nil.
func First(el Element, sel string) (Element, error) {
	found, err := el.Select(sel)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}
