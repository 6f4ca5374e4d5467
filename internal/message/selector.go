// Package message picks the text a job delivers at firing time.
package message

import (
	"context"
	"math/rand"
	"slices"
	"strings"
	"sync"
	"time"

	"whatsched/internal/domain"
)

// AnyCategory asks the selector to pick a category first.
const AnyCategory = "any"

// Message is one resolved body. MediaURL is set for image templates, in
// which case Text is the caption.
type Message struct {
	Category   string
	TemplateID int64
	Text       string
	MediaURL   string
}

// TemplateSource is the part of the contact store the selector reads.
type TemplateSource interface {
	ListTemplates(ctx context.Context, category string) ([]domain.Template, error)
}

type Options struct {
	// Categories used for AnyCategory.
	Categories []string
	// Greetings maps a category to a prefix.
	Greetings map[string]string
	// Rand overrides the random source (tests).
	Rand *rand.Rand
}

// Selector is safe for concurrent use. It keeps no state between calls
// other than the random source and the live options.
type Selector struct {
	src TemplateSource

	mu   sync.Mutex
	rng  *rand.Rand
	opts Options
}

func NewSelector(src TemplateSource, opts Options) *Selector {
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	s := &Selector{src: src, rng: rng}
	s.Apply(opts)
	return s
}

// Apply swaps categories and greetings, e.g. after a config reload. Names
// are matched case-insensitively, as Select lowercases its argument.
func (s *Selector) Apply(opts Options) {
	cats := make([]string, 0, len(opts.Categories))
	for _, c := range opts.Categories {
		if c = normCategory(c); c != "" && !slices.Contains(cats, c) {
			cats = append(cats, c)
		}
	}
	greet := make(map[string]string, len(opts.Greetings))
	for k, v := range opts.Greetings {
		if k = normCategory(k); k != "" {
			greet[k] = v
		}
	}
	s.mu.Lock()
	s.opts = Options{Categories: cats, Greetings: greet}
	s.mu.Unlock()
}

// Select returns one template of category chosen uniformly at random.
// It fails with *domain.NotFoundError when nothing matches.
func (s *Selector) Select(ctx context.Context, category string) (Message, error) {
	category = normCategory(category)
	if category == "" || category == AnyCategory {
		c, err := s.pickCategory()
		if err != nil {
			return Message{}, err
		}
		category = c
	}

	templates, err := s.src.ListTemplates(ctx, category)
	if err != nil {
		return Message{}, err
	}
	if len(templates) == 0 {
		return Message{}, &domain.NotFoundError{What: "template", Key: category}
	}

	s.mu.Lock()
	t := templates[s.rng.Intn(len(templates))]
	greeting := strings.TrimSpace(s.opts.Greetings[category])
	s.mu.Unlock()

	msg := Message{Category: category, TemplateID: t.ID}
	switch {
	case t.IsImage:
		msg.MediaURL = t.Text
		msg.Text = greeting
	case greeting != "":
		msg.Text = greeting + "\n\n" + t.Text
	default:
		msg.Text = t.Text
	}
	return msg, nil
}

func normCategory(c string) string { return strings.ToLower(strings.TrimSpace(c)) }

func (s *Selector) pickCategory() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.opts.Categories) == 0 {
		return "", &domain.NotFoundError{What: "template category"}
	}
	return s.opts.Categories[s.rng.Intn(len(s.opts.Categories))], nil
}
