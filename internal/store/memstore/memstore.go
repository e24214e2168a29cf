// Package memstore is an in-process implementation of store.Store.
// It applies the same conditional writes as the postgres store under a single mutex.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"pagegen/internal/pagetype"
	"pagegen/internal/store"

	"github.com/google/uuid"
)

type Store struct {
	mu sync.Mutex

	businesses    map[uuid.UUID]store.Business
	keywords      map[uuid.UUID][]store.Keyword
	locations     map[uuid.UUID][]store.Location
	services      map[uuid.UUID][]store.Service
	questionnaire map[uuid.UUID]map[string]string
	templates     []store.PromptTemplate
	webhooks      []store.WebhookSubscription

	jobs    map[uuid.UUID]*store.GenerationJob
	pages   map[uuid.UUID]*store.JobPage
	workers map[string]*store.Worker
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		businesses:    make(map[uuid.UUID]store.Business),
		keywords:      make(map[uuid.UUID][]store.Keyword),
		locations:     make(map[uuid.UUID][]store.Location),
		services:      make(map[uuid.UUID][]store.Service),
		questionnaire: make(map[uuid.UUID]map[string]string),
		jobs:          make(map[uuid.UUID]*store.GenerationJob),
		pages:         make(map[uuid.UUID]*store.JobPage),
		workers:       make(map[string]*store.Worker),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Catalog seeding. These stand in for the CRUD layer.

func (s *Store) AddBusiness(b store.Business) store.Business {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	s.businesses[b.ID] = b
	return b
}

func (s *Store) AddKeyword(businessID uuid.UUID, k store.Keyword) store.Keyword {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	s.keywords[businessID] = append(s.keywords[businessID], k)
	return k
}

func (s *Store) AddLocation(businessID uuid.UUID, l store.Location) store.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	s.locations[businessID] = append(s.locations[businessID], l)
	return l
}

func (s *Store) AddService(businessID uuid.UUID, sv store.Service) store.Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sv.ID == uuid.Nil {
		sv.ID = uuid.New()
	}
	s.services[businessID] = append(s.services[businessID], sv)
	return sv
}

func (s *Store) SetAnswer(businessID uuid.UUID, question, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.questionnaire[businessID] == nil {
		s.questionnaire[businessID] = make(map[string]string)
	}
	s.questionnaire[businessID][question] = answer
}

// AddPromptTemplate stores an active template, deactivating any previous one with the same scope.
func (s *Store) AddPromptTemplate(t store.PromptTemplate) store.PromptTemplate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.Active = true
	for i := range s.templates {
		cur := &s.templates[i]
		if cur.PageType == t.PageType && sameScope(cur.BusinessID, t.BusinessID) {
			cur.Active = false
		}
	}
	s.templates = append(s.templates, t)
	return t
}

func sameScope(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *Store) AddWebhook(w store.WebhookSubscription) store.WebhookSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	s.webhooks = append(s.webhooks, w)
	return w
}

func (s *Store) GetBusiness(ctx context.Context, id uuid.UUID) (*store.Business, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.businesses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (s *Store) ListKeywords(ctx context.Context, businessID uuid.UUID) ([]store.Keyword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Keyword
	for _, k := range s.keywords[businessID] {
		if k.Language != "" {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (s *Store) ListLocations(ctx context.Context, businessID uuid.UUID, kind pagetype.LocationAxis) ([]store.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Location
	for _, l := range s.locations[businessID] {
		if l.Kind == kind && l.Active {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (s *Store) GetLocation(ctx context.Context, id uuid.UUID) (*store.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, locs := range s.locations {
		for _, l := range locs {
			if l.ID == id {
				l := l
				return &l, nil
			}
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListServices(ctx context.Context, businessID uuid.UUID) ([]store.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]store.Service(nil), s.services[businessID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (s *Store) GetQuestionnaire(ctx context.Context, businessID uuid.UUID) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.questionnaire[businessID]))
	for q, a := range s.questionnaire[businessID] {
		out[q] = a
	}
	return out, nil
}

func (s *Store) GetActivePromptTemplate(ctx context.Context, businessID uuid.UUID, pt pagetype.PageType) (*store.PromptTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var global *store.PromptTemplate
	for i := range s.templates {
		t := s.templates[i]
		if !t.Active || t.PageType != pt {
			continue
		}
		if t.BusinessID != nil && *t.BusinessID == businessID {
			return &t, nil
		}
		if t.BusinessID == nil {
			global = &t
		}
	}
	if global == nil {
		return nil, store.ErrNotFound
	}
	return global, nil
}

func (s *Store) ListWebhookSubscriptions(ctx context.Context, event string) ([]store.WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.WebhookSubscription
	for _, w := range s.webhooks {
		for _, e := range w.Events {
			if e == event {
				out = append(out, w)
				break
			}
		}
	}
	return out, nil
}
