// Package recognitiontest provides an in-memory recognition system for
// tests of the packages that upload cards.
package recognitiontest

import (
	"context"
	"sync"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
	"github.com/mitrarr/mitra-go/internal/recognition"
	"github.com/mitrarr/mitra-go/internal/textnorm"
)

// System is a fake recognition.Capability. Set the Err fields to make the
// matching call fail.
type System struct {
	mu     sync.Mutex
	nextID int64
	cards  map[int64]*recognition.Card
	fields map[int64]recognition.CardFields

	FindErr       error
	CreateErr     error
	DeactivateErr error

	Creates     int
	Deactivated []int64
}

// NewSystem creates an empty fake system whose card ids start at firstID.
func NewSystem(firstID int64) *System {
	return &System{
		nextID: firstID,
		cards:  make(map[int64]*recognition.Card),
		fields: make(map[int64]recognition.CardFields),
	}
}

// Seed stores a card as if it had been created earlier and returns its id.
func (s *System) Seed(f recognition.CardFields) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(f).ID
}

func (s *System) store(f recognition.CardFields) *recognition.Card {
	id := s.nextID
	s.nextID++
	card := &recognition.Card{ID: id, Name: f.Name, Active: f.Active, Comment: f.Comment, Meta: f.Meta}
	s.cards[id] = card
	s.fields[id] = f
	return card
}

// Card returns a stored card and the fields it was created with.
func (s *System) Card(id int64) (*recognition.Card, recognition.CardFields, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	if !ok {
		return nil, recognition.CardFields{}, false
	}
	cp := *c
	return &cp, s.fields[id], true
}

// Len returns the number of stored cards.
func (s *System) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cards)
}

func (s *System) FindBySimilarFields(_ context.Context, f recognition.CardFields) (*recognition.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FindErr != nil {
		return nil, s.FindErr
	}
	for id, c := range s.cards {
		if s.fields[id].WatchList == f.WatchList && recognition.SameSubject(c, f, textnorm.Name) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, recognition.ErrNotFound
}

func (s *System) CreateCard(_ context.Context, f recognition.CardFields) (*recognition.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return nil, s.CreateErr
	}
	s.Creates++
	cp := *s.store(f)
	return &cp, nil
}

func (s *System) UpdateCard(_ context.Context, id int64, f recognition.CardFields) (*recognition.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	if !ok {
		return nil, recognition.ErrNotFound
	}
	c.Name, c.Active, c.Comment, c.Meta = f.Name, f.Active, f.Comment, f.Meta
	s.fields[id] = f
	cp := *c
	return &cp, nil
}

func (s *System) DeactivateCard(_ context.Context, id int64) (*recognition.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeactivateErr != nil {
		return nil, s.DeactivateErr
	}
	c, ok := s.cards[id]
	if !ok {
		return nil, recognition.ErrNotFound
	}
	c.Active = false
	s.Deactivated = append(s.Deactivated, id)
	cp := *c
	return &cp, nil
}

func (s *System) DeleteCard(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cards[id]; !ok {
		return recognition.ErrNotFound
	}
	delete(s.cards, id)
	delete(s.fields, id)
	return nil
}

// Connector serves fake systems by recognition system id.
type Connector struct {
	Systems map[uint]*System
	Err     error
}

// NewConnector creates a connector over the given systems.
func NewConnector(systems map[uint]*System) *Connector {
	return &Connector{Systems: systems}
}

// Session implements recognition.Connector.
func (c *Connector) Session(_ context.Context, sys *entities.RecognitionSystem) (recognition.Capability, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	s, ok := c.Systems[sys.ID]
	if !ok {
		return nil, &recognition.ValidationError{Op: "session", Detail: "no fake for system " + sys.Name}
	}
	return s, nil
}
