package rawimage

import (
	"calibkit/internal/geometry"
)

// Card is one header keyword.
type Card struct {
	Name    string
	Value   any
	Comment string
}

// Header is an ordered set of uniquely named cards.
type Header struct {
	cards []Card
	index map[string]int
}

// NewHeader builds a header from cards; later duplicates replace earlier values.
func NewHeader(cards ...Card) *Header {
	h := &Header{index: make(map[string]int, len(cards))}
	for _, c := range cards {
		h.Set(c.Name, c.Value, c.Comment)
	}
	return h
}

// Get implements geometry.Header.
func (h *Header) Get(key string) (any, bool) {
	i, ok := h.index[key]
	if !ok {
		return nil, false
	}
	return h.cards[i].Value, true
}

// Set replaces the value of an existing card in place or appends a new one.
// An empty comment keeps the existing comment.
func (h *Header) Set(key string, value any, comment string) {
	if i, ok := h.index[key]; ok {
		h.cards[i].Value = value
		if comment != "" {
			h.cards[i].Comment = comment
		}
		return
	}
	h.index[key] = len(h.cards)
	h.cards = append(h.cards, Card{Name: key, Value: value, Comment: comment})
}

// Has reports whether key is present.
func (h *Header) Has(key string) bool {
	_, ok := h.index[key]
	return ok
}

// Keys returns the card names in order.
func (h *Header) Keys() []string {
	keys := make([]string, len(h.cards))
	for i, c := range h.cards {
		keys[i] = c.Name
	}
	return keys
}

// Cards returns a copy of the cards in order.
func (h *Header) Cards() []Card {
	return append([]Card(nil), h.cards...)
}

// Len is the number of cards.
func (h *Header) Len() int { return len(h.cards) }

// Clone returns an independent copy.
func (h *Header) Clone() *Header {
	return NewHeader(h.cards...)
}

// Apply returns a copy of h with the keyword updates applied.
func (h *Header) Apply(updates []geometry.Keyword) *Header {
	out := h.Clone()
	for _, kw := range updates {
		out.Set(kw.Name, kw.Value, kw.Comment)
	}
	return out
}
