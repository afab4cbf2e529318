package domain

import (
	"encoding"
	"encoding/json"
	"fmt"
)

// StudyResponse is the user's self-reported recall quality for a card.
type StudyResponse int

const (
	Again StudyResponse = iota + 1 // Failed to recall.
	Hard                           // Recalled with serious difficulty.
	Good                           // Recalled after some hesitation.
	Easy                           // Recalled without effort.
)

var (
	responseNames  = [...]string{Again: "again", Hard: "hard", Good: "good", Easy: "easy"}
	responseByName = map[string]StudyResponse{
		"again": Again,
		"hard":  Hard,
		"good":  Good,
		"easy":  Easy,
	}
)

var (
	_ fmt.Stringer             = StudyResponse(0)
	_ json.Marshaler           = StudyResponse(0)
	_ json.Unmarshaler         = (*StudyResponse)(nil)
	_ encoding.TextMarshaler   = StudyResponse(0)
	_ encoding.TextUnmarshaler = (*StudyResponse)(nil)
)

// Responses lists every response in ordinal order.
var Responses = [...]StudyResponse{Again, Hard, Good, Easy}

// IsValid reports whether r is one of Again, Hard, Good or Easy.
func (r StudyResponse) IsValid() bool {
	return r >= Again && r <= Easy
}

// Ordinal returns the numeric grade used by the difficulty formulas (1..4).
func (r StudyResponse) Ordinal() float64 {
	return float64(r)
}

func (r StudyResponse) String() string {
	if r.IsValid() {
		return responseNames[r]
	}
	return fmt.Sprintf("StudyResponse(%d)", int(r))
}

// MarshalText implements encoding.TextMarshaler.
func (r StudyResponse) MarshalText() ([]byte, error) {
	if !r.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidResponse, int(r))
	}
	return []byte(responseNames[r]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Names are lower case.
func (r *StudyResponse) UnmarshalText(text []byte) error {
	v, ok := responseByName[string(text)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidResponse, text)
	}
	*r = v
	return nil
}

// MarshalJSON implements json.Marshaler. Responses serialize as JSON strings.
func (r StudyResponse) MarshalJSON() ([]byte, error) {
	text, err := r.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(text))
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *StudyResponse) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidResponse, data)
	}
	return r.UnmarshalText([]byte(s))
}
