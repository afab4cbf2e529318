// Package knol derives stable identifiers from deck content, so re-importing
// an unchanged card finds the same row and keeps its review history.
package knol

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/conorfennell/knolplan/internal/domain"
)

// Normalize joins the card's question, answer and context after trimming,
// lowercasing and unifying line endings of each part.
func Normalize(card domain.Card) string {
	part := func(s string) string {
		s = strings.ReplaceAll(s, "\r\n", "\n")
		return strings.TrimSpace(strings.ToLower(s))
	}
	// Newlines keep "question" and "answer" from fusing into "questionanswer".
	return strings.Join([]string{part(card.Question), part(card.Answer), part(card.Context)}, "\n")
}

// Hash returns the SHA-256 of the normalised card content as hex.
func Hash(card domain.Card) string {
	sum := sha256.Sum256([]byte(Normalize(card)))
	return hex.EncodeToString(sum[:])
}

// CardID identifies a card within its deck. The section is not part of the
// id, so moving a card under another heading keeps its memory state.
func CardID(deckID string, card domain.Card) string {
	return digest(deckID, Normalize(card))
}

// DeckID identifies the deck imported from relPath of a source.
func DeckID(sourceID int64, relPath string) string {
	return digest("deck", strconv.FormatInt(sourceID, 10), filepath.ToSlash(relPath))
}

// SectionID identifies a heading within a deck. Headings differing only in
// case or surrounding space are the same section.
func SectionID(deckID, name string) string {
	return digest(deckID, "section", strings.ToLower(strings.TrimSpace(name)))
}

func digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}
