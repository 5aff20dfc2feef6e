// Package sink stores retrieved pages as compressed artifacts. An artifact's
// existence is the ground truth for "page already retrieved".
package sink

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/flightstatus-harvester/pkg/client"
	"github.com/Sternrassler/flightstatus-harvester/pkg/storage"
)

// Prometheus metrics for artifact storage.
var (
	artifactsStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_artifacts_total",
		Help: "Artifacts handled by result",
	}, []string{"result"})

	artifactBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_artifact_bytes_total",
		Help: "Compressed bytes written to artifact storage",
	})
)

const (
	// Extension of artifacts written by this package.
	Extension = ".json.gz"

	namePrefix = "flightstatus_"

	// legacyPrefix names artifacts written by the earlier Python harvester,
	// which only replaced ':' in the signature and never hashed it.
	legacyPrefix = "afklm_api_data_collection_"

	// maxSignatureLen bounds the signature part of a name; longer
	// signatures are addressed by their SHA-256.
	maxSignatureLen = 180
)

// legacyExtensions are accepted by Exists and Load in preference order.
var legacyExtensions = []string{".json.gzip", ".json"}

var legacyReplacer = strings.NewReplacer(":", "_")

var gzipMagic = []byte{0x1f, 0x8b}

var nameReplacer = strings.NewReplacer(":", "_", "/", "_", `\`, "_")

// Sink writes artifacts under a directory of a storage backend.
type Sink struct {
	backend storage.Backend
	dir     string
	logger  zerolog.Logger

	mu sync.Mutex
	// known is nil until a listing succeeds.
	known map[string]struct{}
}

// New creates a sink writing under dir.
func New(backend storage.Backend, dir string, logger zerolog.Logger) *Sink {
	return &Sink{
		backend: backend,
		dir:     strings.Trim(dir, "/"),
		logger:  logger,
	}
}

// ArtifactName returns the storage name of page for signature.
func (s *Sink) ArtifactName(signature string, page int) string {
	return s.name(signature, page, Extension)
}

func (s *Sink) name(signature string, page int, ext string) string {
	key := nameReplacer.Replace(signature)
	if len(key) > maxSignatureLen {
		sum := sha256.Sum256([]byte(signature))
		key = hex.EncodeToString(sum[:])
	}
	return path.Join(s.dir, namePrefix+key+"_"+strconv.Itoa(page)+ext)
}

func (s *Sink) candidates(signature string, page int) []string {
	names := []string{s.ArtifactName(signature, page)}
	for _, ext := range legacyExtensions {
		names = append(names, s.name(signature, page, ext))
	}

	legacy := legacyPrefix + legacyReplacer.Replace(signature) + "_" + strconv.Itoa(page)
	for _, ext := range []string{Extension, ".json.gzip", ".json"} {
		names = append(names, path.Join(s.dir, legacy+ext))
	}
	return names
}

// loadIndex lists the artifact directory on first use. A failed listing
// is not remembered; the next call lists again.
func (s *Sink) loadIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.known != nil {
		return nil
	}

	names, err := s.backend.List(ctx, s.dir)
	if err != nil {
		return fmt.Errorf("list artifacts: %w", err)
	}

	s.known = make(map[string]struct{}, len(names))
	for _, name := range names {
		s.known[name] = struct{}{}
	}
	s.logger.Debug().Int("artifacts", len(names)).Msg("Artifact index loaded")
	return nil
}

// Exists reports whether page of signature has been stored, in the current
// or a legacy format.
func (s *Sink) Exists(ctx context.Context, signature string, page int) (bool, error) {
	if err := s.loadIndex(ctx); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range s.candidates(signature, page) {
		if _, ok := s.known[name]; ok {
			return true, nil
		}
	}
	return false, nil
}

// Store compresses body and writes it as page of signature. Storing a page
// that already exists is a no-op and never replaces the first write.
func (s *Sink) Store(ctx context.Context, signature string, page int, body []byte) error {
	if err := s.loadIndex(ctx); err != nil {
		return err
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("create gzip writer: %w", err)
	}
	if _, err := zw.Write(body); err != nil {
		return fmt.Errorf("compress artifact: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress artifact: %w", err)
	}

	name := s.ArtifactName(signature, page)
	err = s.backend.CreateFile(ctx, name, buf.Bytes())
	switch {
	case errors.Is(err, storage.ErrExist):
		artifactsStored.WithLabelValues("exists").Inc()
		s.logger.Debug().Str("artifact", name).Msg("Artifact already stored")
	case err != nil:
		artifactsStored.WithLabelValues("error").Inc()
		return fmt.Errorf("store artifact %s: %w", name, err)
	default:
		artifactsStored.WithLabelValues("stored").Inc()
		artifactBytes.Add(float64(buf.Len()))
	}

	s.mu.Lock()
	s.known[name] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Load returns the uncompressed body of page of signature.
func (s *Sink) Load(ctx context.Context, signature string, page int) ([]byte, error) {
	for _, name := range s.candidates(signature, page) {
		data, err := s.backend.ReadFile(ctx, name)
		if errors.Is(err, storage.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read artifact %s: %w", name, err)
		}
		return decompress(data)
	}
	return nil, fmt.Errorf("artifact for %s page %d: %w", signature, page, storage.ErrNotExist)
}

// TotalPages recovers page.totalPages from a stored artifact.
func (s *Sink) TotalPages(ctx context.Context, signature string, page int) (int, error) {
	body, err := s.Load(ctx, signature, page)
	if err != nil {
		return 0, err
	}
	info, err := client.DecodePage(body)
	if err != nil {
		return 0, err
	}
	return info.TotalPages, nil
}

func decompress(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, gzipMagic) {
		return data, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip artifact: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress artifact: %w", err)
	}
	return out, nil
}
