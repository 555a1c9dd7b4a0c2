// Package settings reads and writes the flat runtime settings table and
// coerces stored values back to their typed form.
package settings

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/soyeahso/supportchat/internal/domain"
	"github.com/soyeahso/supportchat/internal/logging"
	"github.com/soyeahso/supportchat/internal/store"
)

// Store is the typed view over a store.SettingsStore. Every read goes to
// the backing store so admin edits apply to the next request.
type Store struct {
	backend store.SettingsStore
	log     *logging.Logger
}

// New creates a settings store.
func New(backend store.SettingsStore, log *logging.Logger) *Store {
	return &Store{backend: backend, log: log.Sub("settings")}
}

// GetAll returns a coerced snapshot of every stored setting.
func (s *Store) GetAll(ctx context.Context) (domain.Settings, error) {
	recs, err := s.backend.AllSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	out := make(domain.Settings, len(recs))
	for _, r := range recs {
		v, ok := Decode(r)
		if !ok {
			s.log.Warn().Str("key", r.Key).Str("value", r.Value).Msg("dropping unparseable number setting")
			continue
		}
		out[r.Key] = v
	}
	return out, nil
}

// Set upserts every entry of values. Only administrators may write.
func (s *Store) Set(ctx context.Context, p domain.Principal, values map[string]any) error {
	if !p.Admin {
		return domain.ErrUnauthorized
	}
	recs, err := Encode(values)
	if err != nil {
		return err
	}
	if err := s.backend.PutSettings(ctx, recs); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	s.log.Info().Int("count", len(recs)).Str("by", p.Subject).Msg("settings updated")
	return nil
}

// Seed writes values whose key has never been set. Used at startup for
// the config file's settings block.
func (s *Store) Seed(ctx context.Context, values map[string]any) error {
	recs, err := Encode(values)
	if err != nil {
		return err
	}
	return s.backend.SeedSettings(ctx, recs)
}

// Encode converts a value map into stored records, inferring type tags.
// Records are ordered by key.
func Encode(values map[string]any) ([]domain.SettingRecord, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		if strings.TrimSpace(k) == "" {
			return nil, &domain.ValidationError{Field: "key", Message: "must not be empty"}
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	recs := make([]domain.SettingRecord, 0, len(keys))
	for _, k := range keys {
		recs = append(recs, encodeValue(k, values[k]))
	}
	return recs, nil
}

func encodeValue(key string, v any) domain.SettingRecord {
	switch tv := v.(type) {
	case bool:
		return domain.SettingRecord{Key: key, Value: strconv.FormatBool(tv), Type: domain.SettingBoolean}
	case float64:
		return domain.SettingRecord{Key: key, Value: strconv.FormatFloat(tv, 'f', -1, 64), Type: domain.SettingNumber}
	case float32:
		return domain.SettingRecord{Key: key, Value: strconv.FormatFloat(float64(tv), 'f', -1, 32), Type: domain.SettingNumber}
	case int:
		return domain.SettingRecord{Key: key, Value: strconv.Itoa(tv), Type: domain.SettingNumber}
	case int64:
		return domain.SettingRecord{Key: key, Value: strconv.FormatInt(tv, 10), Type: domain.SettingNumber}
	case nil:
		return domain.SettingRecord{Key: key, Value: "", Type: domain.SettingString}
	case string:
		return domain.SettingRecord{Key: key, Value: tv, Type: domain.SettingString}
	default:
		return domain.SettingRecord{Key: key, Value: fmt.Sprint(tv), Type: domain.SettingString}
	}
}

// Decode coerces a stored record by its type tag. ok is false for a
// number that does not parse.
func Decode(r domain.SettingRecord) (any, bool) {
	switch r.Type {
	case domain.SettingNumber:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.Value), 64)
		if err != nil {
			return nil, false
		}
		return f, true
	case domain.SettingBoolean:
		switch strings.ToLower(strings.TrimSpace(r.Value)) {
		case "true", "1", "yes", "on":
			return true, true
		}
		return false, true
	default:
		return r.Value, true
	}
}

// Redacted returns a copy of s with the API key masked, for display.
func Redacted(s domain.Settings) domain.Settings {
	out := make(domain.Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	if key, ok := out[domain.SettingAIAPIKey].(string); ok && key != "" {
		if len(key) > 4 {
			out[domain.SettingAIAPIKey] = "****" + key[len(key)-4:]
		} else {
			out[domain.SettingAIAPIKey] = "****"
		}
	}
	return out
}
