package knowledge

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

const maxArticles = 3

// Article is one knowledge-base entry.
type Article struct {
	ID       string   `yaml:"id"`
	Title    string   `yaml:"title"`
	Keywords []string `yaml:"keywords"`
	Content  string   `yaml:"content"`
}

// YAMLBase is an in-memory knowledge base loaded from a YAML file.
type YAMLBase struct {
	articles      []Article
	customerNotes map[string]string
}

type baseFile struct {
	Articles      []Article         `yaml:"articles"`
	CustomerNotes map[string]string `yaml:"customer_notes"`
}

// LoadYAMLBase reads articles and per-customer notes from path.
func LoadYAMLBase(path string) (*YAMLBase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge base: %w", err)
	}
	return ParseYAMLBase(data)
}

// ParseYAMLBase builds a base from YAML bytes.
func ParseYAMLBase(data []byte) (*YAMLBase, error) {
	var f baseFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse knowledge base: %w", err)
	}
	for i := range f.Articles {
		for j, k := range f.Articles[i].Keywords {
			f.Articles[i].Keywords[j] = strings.ToLower(strings.TrimSpace(k))
		}
	}
	return &YAMLBase{articles: f.Articles, customerNotes: f.CustomerNotes}, nil
}

// Len returns the number of articles.
func (b *YAMLBase) Len() int { return len(b.articles) }

// BuildContextForQuery returns up to three matching articles plus any notes on the customer.
func (b *YAMLBase) BuildContextForQuery(_ context.Context, text, customerID string) string {
	words := tokenize(text)
	type scored struct {
		idx   int
		score int
	}
	var hits []scored
	for i, a := range b.articles {
		s := 0
		for _, k := range a.Keywords {
			if strings.Contains(k, " ") {
				if strings.Contains(strings.ToLower(text), k) {
					s += 2
				}
				continue
			}
			if _, ok := words[k]; ok {
				s++
			}
		}
		if s > 0 {
			hits = append(hits, scored{idx: i, score: s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > maxArticles {
		hits = hits[:maxArticles]
	}

	var parts []string
	for _, h := range hits {
		a := b.articles[h.idx]
		parts = append(parts, fmt.Sprintf("[%s] %s", a.Title, strings.TrimSpace(a.Content)))
	}
	if note, ok := b.customerNotes[customerID]; ok && customerID != "" {
		parts = append(parts, "Customer notes: "+strings.TrimSpace(note))
	}
	return strings.Join(parts, "\n\n")
}

func tokenize(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[w] = struct{}{}
	}
	return out
}
