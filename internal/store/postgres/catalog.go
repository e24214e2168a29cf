package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pagegen/internal/pagetype"
	"pagegen/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

func (s *Store) GetBusiness(ctx context.Context, id uuid.UUID) (*store.Business, error) {
	var b store.Business
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, website, industry, city, state FROM businesses WHERE id = $1
	`, id).Scan(&b.ID, &b.Name, &b.Phone, &b.Website, &b.Industry, &b.City, &b.State)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get business %s: %w", id, err)
	}
	return &b, nil
}

func (s *Store) ListKeywords(ctx context.Context, businessID uuid.UUID) ([]store.Keyword, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, keyword, language
		FROM keywords
		WHERE business_id = $1 AND language IS NOT NULL
		ORDER BY slug ASC
	`, businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to list keywords: %w", err)
	}
	defer rows.Close()

	var out []store.Keyword
	for rows.Next() {
		var k store.Keyword
		if err := rows.Scan(&k.ID, &k.Slug, &k.Text, &k.Language); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

const locationColumns = `id, kind, slug, name, city, state, active`

func (s *Store) ListLocations(ctx context.Context, businessID uuid.UUID, kind pagetype.LocationAxis) ([]store.Location, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+locationColumns+`
		FROM locations
		WHERE business_id = $1 AND kind = $2 AND active
		ORDER BY slug ASC
	`, businessID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	defer rows.Close()

	var out []store.Location
	for rows.Next() {
		var l store.Location
		if err := rows.Scan(&l.ID, &l.Kind, &l.Slug, &l.Name, &l.City, &l.State, &l.Active); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) GetLocation(ctx context.Context, id uuid.UUID) (*store.Location, error) {
	var l store.Location
	err := s.db.QueryRowContext(ctx, `SELECT `+locationColumns+` FROM locations WHERE id = $1`, id).
		Scan(&l.ID, &l.Kind, &l.Slug, &l.Name, &l.City, &l.State, &l.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get location %s: %w", id, err)
	}
	return &l, nil
}

func (s *Store) ListServices(ctx context.Context, businessID uuid.UUID) ([]store.Service, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, name FROM services WHERE business_id = $1 ORDER BY slug ASC
	`, businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	var out []store.Service
	for rows.Next() {
		var sv store.Service
		if err := rows.Scan(&sv.ID, &sv.Slug, &sv.Name); err != nil {
			return nil, err
		}
		out = append(out, sv)
	}
	return out, rows.Err()
}

func (s *Store) GetQuestionnaire(ctx context.Context, businessID uuid.UUID) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT question, answer FROM questionnaire_answers WHERE business_id = $1
	`, businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to load questionnaire: %w", err)
	}
	defer rows.Close()

	answers := make(map[string]string)
	for rows.Next() {
		var q, a string
		if err := rows.Scan(&q, &a); err != nil {
			return nil, err
		}
		answers[q] = a
	}
	return answers, rows.Err()
}

func (s *Store) GetActivePromptTemplate(ctx context.Context, businessID uuid.UUID, pt pagetype.PageType) (*store.PromptTemplate, error) {
	var t store.PromptTemplate
	err := s.db.QueryRowContext(ctx, `
		SELECT id, business_id, page_type, version, body, active
		FROM prompt_templates
		WHERE page_type = $2 AND active AND (business_id = $1 OR business_id IS NULL)
		ORDER BY business_id IS NULL ASC
		LIMIT 1
	`, businessID, pt).Scan(&t.ID, &t.BusinessID, &t.PageType, &t.Version, &t.Body, &t.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prompt template: %w", err)
	}
	return &t, nil
}

func (s *Store) ListWebhookSubscriptions(ctx context.Context, event string) ([]store.WebhookSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, events, created_at
		FROM webhook_subscriptions
		WHERE $1 = ANY(events)
		ORDER BY created_at ASC
	`, event)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook subscriptions: %w", err)
	}
	defer rows.Close()

	var out []store.WebhookSubscription
	for rows.Next() {
		var w store.WebhookSubscription
		if err := rows.Scan(&w.ID, &w.URL, pq.Array(&w.Events), &w.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
