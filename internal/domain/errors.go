package domain

import "errors"

// Sentinel errors shared by the scheduling core.
// Use errors.Is to check: errors.Is(err, domain.ErrNoDecksSelected)
var (
	ErrInvalidResponse     = errors.New("knolplan: invalid response")
	ErrInvalidAssessment   = errors.New("knolplan: invalid assessment")
	ErrNoDecksSelected     = errors.New("knolplan: no decks selected")
	ErrPastDueAssessment   = errors.New("knolplan: assessment date is not in the future")
	ErrConcurrentRebalance = errors.New("knolplan: concurrent rebalance conflict")
	ErrNotFound            = errors.New("knolplan: not found")
)
