// Package recognition talks to facial recognition systems. A system keeps
// cards: a named subject with demographic metadata and face photos, placed
// in one or more watch lists.
package recognition

import (
	"context"
	"fmt"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
	"github.com/mitrarr/mitra-go/internal/errors"
)

// ErrNotFound is returned when a card or watch list does not exist.
var ErrNotFound = errors.NewStd("not found on recognition system")

// Metadata keys stored on cards.
const (
	MetaRecordID   = "record_id"
	MetaSource     = "source"
	MetaNationalID = "national_id"
	MetaBirthDate  = "birth_date"
	MetaMother     = "mother"
	MetaFather     = "father"
	MetaWarrant    = "warrant"
	MetaAlertID    = "alert_sequence"
)

// identityKeys are the metadata keys compared when deciding whether an
// existing card is the same subject.
var identityKeys = []string{MetaNationalID, MetaBirthDate, MetaMother}

// CardFields describes the card content the pipeline wants on a system.
type CardFields struct {
	Name      string
	WatchList string // watch list name; resolved to an id by the client
	Active    bool
	Comment   string
	Meta      map[string]string
	Photos    []string // base64 encoded images
}

// Card is a card as stored by a recognition system.
type Card struct {
	ID         int64             `json:"id"`
	Name       string            `json:"name"`
	Active     bool              `json:"active"`
	Comment    string            `json:"comment,omitempty"`
	WatchLists []int64           `json:"watch_lists"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Capability is the card API of one recognition system session.
type Capability interface {
	// FindBySimilarFields returns an existing card for the same subject in
	// the same watch list, or ErrNotFound.
	FindBySimilarFields(ctx context.Context, f CardFields) (*Card, error)
	CreateCard(ctx context.Context, f CardFields) (*Card, error)
	UpdateCard(ctx context.Context, id int64, f CardFields) (*Card, error)
	DeactivateCard(ctx context.Context, id int64) (*Card, error)
	DeleteCard(ctx context.Context, id int64) error
}

// Connector hands out one Capability per recognition system.
type Connector interface {
	Session(ctx context.Context, sys *entities.RecognitionSystem) (Capability, error)
}

// TransportError reports a request that never got a usable answer: network
// failures, timeouts and server errors that outlived the retries.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("recognition %s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrorCategory implements errors.CategorizedError.
func (e *TransportError) ErrorCategory() errors.ErrorCategory { return errors.CategoryNetwork }

// ValidationError reports a request the system refused: bad credentials,
// unknown watch lists or card content it does not accept.
type ValidationError struct {
	Op     string
	Status int
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("recognition %s: %s", e.Op, e.Detail)
	}
	return fmt.Sprintf("recognition %s: rejected with status %d: %s", e.Op, e.Status, e.Detail)
}

// ErrorCategory implements errors.CategorizedError.
func (e *ValidationError) ErrorCategory() errors.ErrorCategory { return errors.CategoryValidation }

// SameSubject reports whether card holds the subject described by f:
// equal normalized names and equal identity metadata. A key present on one
// side only is a mismatch, so a card without a national id never stands in
// for a record that has one.
func SameSubject(card *Card, f CardFields, normalize func(string) string) bool {
	if normalize(card.Name) != normalize(f.Name) {
		return false
	}
	for _, key := range identityKeys {
		if normalize(card.Meta[key]) != normalize(f.Meta[key]) {
			return false
		}
	}
	return true
}
