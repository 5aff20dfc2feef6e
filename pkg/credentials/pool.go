package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/flightstatus-harvester/pkg/storage"
)

// Prometheus metrics for credential usage.
var (
	callsUsed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "harvest_credential_calls_today",
		Help: "Calls consumed today per credential",
	}, []string{"key_desc"})

	exhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_credential_exhausted_total",
		Help: "Times a credential was reported exhausted by the API",
	}, []string{"key_desc"})
)

// RedactedSecret replaces api_key values when RedactSecrets is set.
const RedactedSecret = "REDACTED"

// ErrUnknownKey is returned for a key description not in the pool.
var ErrUnknownKey = errors.New("unknown credential")

// Options configures a Pool.
type Options struct {
	// File is the credential CSV, relative to the backend root.
	File string
	// DailyQuota is the per-key call cap.
	DailyQuota int
	// RedactSecrets writes RedactedSecret instead of api_key values.
	// Use it when the file lives on shared storage and secrets come from Secrets.
	RedactSecrets bool
	// Secrets overrides or adds secrets by key description.
	Secrets map[string]string
	// Now returns the current time; defaults to time.Now.
	Now func() time.Time
}

// fileRecord is the CSV layout of the credential file.
type fileRecord struct {
	KeyDesc    string `csv:"key_desc"`
	APIKey     string `csv:"api_key"`
	CallsToday string `csv:"nb_calls_today"`
	Timestamp  string `csv:"timestamp"`
}

// Pool is the durable set of credentials in declaration order.
type Pool struct {
	backend storage.Backend
	opts    Options
	records []*Record
	logger  zerolog.Logger
}

// Load reads the credential file, overlays configured secrets and applies
// the day rollover. A missing file yields a pool built from Secrets only.
func Load(ctx context.Context, backend storage.Backend, opts Options, logger zerolog.Logger) (*Pool, error) {
	if opts.DailyQuota <= 0 {
		return nil, fmt.Errorf("daily quota must be positive (got %d)", opts.DailyQuota)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	p := &Pool{backend: backend, opts: opts, logger: logger}

	data, err := backend.ReadFile(ctx, opts.File)
	switch {
	case errors.Is(err, storage.ErrNotExist):
		logger.Warn().Str("file", opts.File).Msg("Credential file not found, using configured secrets only")
	case err != nil:
		return nil, fmt.Errorf("read credential file: %w", err)
	default:
		if err := p.decode(data); err != nil {
			return nil, err
		}
	}

	p.overlaySecrets()

	rolled := false
	for _, r := range p.records {
		before := *r
		*r = p.RolloverIfNewDay(*r)
		if *r != before {
			rolled = true
		}
		callsUsed.WithLabelValues(r.KeyDesc).Set(float64(r.CallsToday))
	}
	if rolled {
		if err := p.persist(ctx); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func (p *Pool) decode(data []byte) error {
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}

	var rows []fileRecord
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("decode credential file: %w", err)
	}

	byDesc := make(map[string]*Record)
	for i, row := range rows {
		if row.KeyDesc == "" {
			return fmt.Errorf("credential row %d: key_desc is empty", i)
		}

		calls := 0
		if v := strings.TrimSpace(row.CallsToday); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("credential %s: nb_calls_today: %w", row.KeyDesc, err)
			}
			calls = int(f)
		}

		rec := &Record{
			KeyDesc:    row.KeyDesc,
			Secret:     cleanSecret(row.APIKey),
			CallsToday: calls,
			LastReset:  parseTimestamp(row.Timestamp),
		}

		// Duplicates keep the most recent row.
		if prev, ok := byDesc[rec.KeyDesc]; ok {
			if !rec.LastReset.Before(prev.LastReset) {
				if rec.Secret == "" {
					rec.Secret = prev.Secret
				}
				*prev = *rec
			}
			continue
		}
		byDesc[rec.KeyDesc] = rec
		p.records = append(p.records, rec)
	}
	return nil
}

func (p *Pool) overlaySecrets() {
	descs := make([]string, 0, len(p.opts.Secrets))
	for desc := range p.opts.Secrets {
		descs = append(descs, desc)
	}
	sort.Strings(descs)

	for _, desc := range descs {
		secret := p.opts.Secrets[desc]
		if rec := p.find(desc); rec != nil {
			rec.Secret = secret
			continue
		}
		p.records = append(p.records, &Record{KeyDesc: desc, Secret: secret})
	}
}

func cleanSecret(v string) string {
	v = strings.TrimSpace(v)
	if v == RedactedSecret || v == "SECRET" {
		return ""
	}
	return v
}

func parseTimestamp(v string) time.Time {
	v = strings.TrimSpace(v)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, v, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (p *Pool) find(keyDesc string) *Record {
	for _, r := range p.records {
		if r.KeyDesc == keyDesc {
			return r
		}
	}
	return nil
}

// Quota returns the configured daily cap.
func (p *Pool) Quota() int {
	return p.opts.DailyQuota
}

// Records returns a copy of all records in declaration order.
func (p *Pool) Records() []Record {
	out := make([]Record, len(p.records))
	for i, r := range p.records {
		out[i] = *r
	}
	return out
}

// Get returns the record for keyDesc after applying the day rollover.
func (p *Pool) Get(keyDesc string) (Record, bool) {
	r := p.find(keyDesc)
	if r == nil {
		return Record{}, false
	}
	*r = p.RolloverIfNewDay(*r)
	return *r, true
}

// RolloverIfNewDay resets the counter when the local date has advanced
// since LastReset. A record never seen before is stamped with today.
func (p *Pool) RolloverIfNewDay(r Record) Record {
	now := p.opts.Now()
	if r.LastReset.IsZero() {
		r.LastReset = now
		return r
	}
	if !sameDay(r.LastReset, now) && now.After(r.LastReset) {
		p.logger.Info().Str("key_desc", r.KeyDesc).Int("calls_yesterday", r.CallsToday).Msg("Daily quota reset")
		r.CallsToday = 0
		r.LastReset = now
	}
	return r
}

// ListEligible returns credentials with a secret and quota left, ordered by
// remaining quota descending; ties keep declaration order.
func (p *Pool) ListEligible() []Record {
	var eligible []Record
	for _, r := range p.records {
		*r = p.RolloverIfNewDay(*r)
		if r.Secret == "" || r.Remaining(p.opts.DailyQuota) == 0 {
			continue
		}
		eligible = append(eligible, *r)
	}

	quota := p.opts.DailyQuota
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Remaining(quota) > eligible[j].Remaining(quota)
	})
	return eligible
}

// RecordCall counts one call against keyDesc and persists the pool.
func (p *Pool) RecordCall(ctx context.Context, keyDesc string) error {
	r := p.find(keyDesc)
	if r == nil {
		return fmt.Errorf("%w: %s", ErrUnknownKey, keyDesc)
	}

	*r = p.RolloverIfNewDay(*r)
	r.CallsToday++
	callsUsed.WithLabelValues(keyDesc).Set(float64(r.CallsToday))
	return p.persist(ctx)
}

// MarkExhausted sets keyDesc to the daily cap as of when and persists the pool.
// The remote quota signal is authoritative over the local counter.
func (p *Pool) MarkExhausted(ctx context.Context, keyDesc string, when time.Time) error {
	r := p.find(keyDesc)
	if r == nil {
		return fmt.Errorf("%w: %s", ErrUnknownKey, keyDesc)
	}

	r.CallsToday = p.opts.DailyQuota
	r.LastReset = when
	callsUsed.WithLabelValues(keyDesc).Set(float64(r.CallsToday))
	exhaustedTotal.WithLabelValues(keyDesc).Inc()

	p.logger.Warn().Str("key_desc", keyDesc).Msg("Daily quota consumed")
	return p.persist(ctx)
}

// Queue returns a rotation queue over the currently eligible credentials.
func (p *Pool) Queue() *Queue {
	return newQueue(p, p.ListEligible())
}

func (p *Pool) persist(ctx context.Context) error {
	rows := make([]fileRecord, len(p.records))
	for i, r := range p.records {
		secret := r.Secret
		if p.opts.RedactSecrets {
			secret = RedactedSecret
		}
		rows[i] = fileRecord{
			KeyDesc:    r.KeyDesc,
			APIKey:     secret,
			CallsToday: strconv.Itoa(r.CallsToday),
			Timestamp:  r.LastReset.Format(time.RFC3339),
		}
	}

	data, err := csvutil.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode credential file: %w", err)
	}
	if err := p.backend.WriteFile(ctx, p.opts.File, data); err != nil {
		return fmt.Errorf("persist credential file: %w", err)
	}
	return nil
}

// SecretsFromEnv parses "desc:secret,desc2:secret2" as found in API_KEYS.
func SecretsFromEnv(key string) (map[string]string, error) {
	return ParseSecrets(os.Getenv(key))
}

// ParseSecrets parses a comma-separated list of desc:secret pairs.
func ParseSecrets(v string) (map[string]string, error) {
	secrets := make(map[string]string)
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		desc, secret, ok := strings.Cut(item, ":")
		if !ok || desc == "" || secret == "" {
			return nil, fmt.Errorf("invalid credential entry %q (want desc:secret)", item)
		}
		secrets[desc] = secret
	}
	return secrets, nil
}
