package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"carstudio/internal/infra"
	"carstudio/internal/sqlinline"
)

const ProviderGemini = "gemini"

// Token is a provisioned backend credential. Model optionally pins the
// image model that goes with the key.
type Token struct {
	Value string
	Model string
}

type tokenProperties struct {
	Model string `json:"model,omitempty"`
}

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.sql.Exec(ctx, sqlinline.QCreateIntegrationTokens)
	return err
}

// GeminiAPIKey returns the stored key, or an empty Token when none is
// provisioned.
func (s *Store) GeminiAPIKey(ctx context.Context) (Token, error) {
	return s.token(ctx, ProviderGemini)
}

func (s *Store) SetGeminiAPIKey(ctx context.Context, key, model string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("gemini api key is required")
	}
	return s.upsert(ctx, ProviderGemini, key, tokenProperties{Model: strings.TrimSpace(model)})
}

func (s *Store) token(ctx context.Context, provider string) (Token, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var (
		value string
		raw   []byte
	)
	if err := row.Scan(&value, &raw); err != nil {
		if infra.IsNoRows(err) {
			return Token{}, nil
		}
		return Token{}, fmt.Errorf("load %s token: %w", provider, err)
	}
	var props tokenProperties
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &props); err != nil {
			return Token{}, fmt.Errorf("decode %s token properties: %w", provider, err)
		}
	}
	return Token{Value: strings.TrimSpace(value), Model: props.Model}, nil
}

func (s *Store) upsert(ctx context.Context, provider, token string, props tokenProperties) error {
	raw, err := json.Marshal(props)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}

// ResolveGeminiKey prefers the configured key and falls back to the store.
// A nil store means no database is configured.
func ResolveGeminiKey(ctx context.Context, configured string, store *Store) (Token, error) {
	if key := strings.TrimSpace(configured); key != "" {
		return Token{Value: key}, nil
	}
	if store == nil {
		return Token{}, nil
	}
	return store.GeminiAPIKey(ctx)
}
