// Package parser reads markdown deck files. A file is one deck: an optional
// "# Title" names it, "## Heading" lines open sections, and cards are
// Q:/A:/C: blocks separated by "---" or by the next question.
package parser

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/conorfennell/knolplan/internal/domain"
)

const (
	questionPrefix = "Q:"
	answerPrefix   = "A:"
	contextPrefix  = "C:"
	titlePrefix    = "# "
	sectionPrefix  = "## "
	separator      = "---"

	// GeneralSection holds cards that appear before the first heading.
	GeneralSection = "General"
)

// Document is a parsed deck file.
type Document struct {
	Title    string
	Sections []Section
}

// Section is a heading and the cards under it, in file order.
type Section struct {
	Name  string
	Cards []domain.Card
}

// Cards returns every card of the document in file order.
func (d Document) Cards() []domain.Card {
	var cards []domain.Card
	for _, s := range d.Sections {
		cards = append(cards, s.Cards...)
	}
	return cards
}

type field int

const (
	none field = iota
	question
	answer
	context
)

// ParseFile reads the deck file at path.
func ParseFile(path string) (Document, error) {
	file, err := os.Open(path)
	if err != nil {
		return Document{}, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads a deck from r. Sections without cards are dropped.
func Parse(r io.Reader) (Document, error) {
	b := &builder{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == separator:
			b.finishCard()
		case strings.HasPrefix(line, sectionPrefix):
			b.finishCard()
			b.openSection(strings.TrimSpace(line[len(sectionPrefix):]))
		case strings.HasPrefix(line, titlePrefix):
			b.finishCard()
			if b.doc.Title == "" {
				b.doc.Title = strings.TrimSpace(line[len(titlePrefix):])
			}
		case strings.HasPrefix(line, questionPrefix):
			// A new question always starts a new card.
			if b.current != none {
				b.finishCard()
			}
			b.begin(question, line[len(questionPrefix):])
		case strings.HasPrefix(line, answerPrefix):
			b.begin(answer, line[len(answerPrefix):])
		case strings.HasPrefix(line, contextPrefix):
			b.begin(context, line[len(contextPrefix):])
		case b.current != none:
			b.block = append(b.block, line)
		}
	}
	b.finishCard()

	if err := scanner.Err(); err != nil {
		return Document{}, err
	}
	return b.result(), nil
}

type builder struct {
	doc     Document
	section int // index into doc.Sections, valid once open is set
	open    bool
	card    domain.Card
	current field
	block   []string
}

// begin stores the pending block and starts collecting field f.
func (b *builder) begin(f field, first string) {
	b.storeBlock()
	b.current = f
	b.block = []string{strings.TrimPrefix(first, " ")}
}

func (b *builder) storeBlock() {
	if len(b.block) == 0 {
		return
	}
	content := strings.TrimSpace(strings.Join(b.block, "\n"))
	switch b.current {
	case question:
		b.card.Question = content
	case answer:
		b.card.Answer = content
	case context:
		b.card.Context = content
	}
	b.block = nil
}

func (b *builder) finishCard() {
	b.storeBlock()
	if b.card.Question != "" {
		if !b.open {
			b.openSection(GeneralSection)
		}
		s := &b.doc.Sections[b.section]
		s.Cards = append(s.Cards, b.card)
	}
	b.card = domain.Card{}
	b.current = none
}

// openSection makes name the current section, reusing an earlier section
// with the same name.
func (b *builder) openSection(name string) {
	b.open = true
	for i, s := range b.doc.Sections {
		if strings.EqualFold(s.Name, name) {
			b.section = i
			return
		}
	}
	b.doc.Sections = append(b.doc.Sections, Section{Name: name})
	b.section = len(b.doc.Sections) - 1
}

func (b *builder) result() Document {
	doc := Document{Title: b.doc.Title}
	for _, s := range b.doc.Sections {
		if len(s.Cards) > 0 {
			doc.Sections = append(doc.Sections, s)
		}
	}
	return doc
}
