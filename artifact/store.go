package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"flightdelay/logging"
	"flightdelay/ml"
	"flightdelay/scaler"
	"flightdelay/schema"
)

const (
	currentFile = "CURRENT"
	columnsFile = "columns.json"
	scalerFile  = "scaler.json"
	metaFile    = "meta.json"
)

// ErrNoArtifact is returned when the store has no active version.
var ErrNoArtifact = errors.New("no model artifact has been saved")

type columnsEnvelope struct {
	Version string         `json:"version"`
	Schema  *schema.Schema `json:"schema"`
}

type scalerEnvelope struct {
	Version string        `json:"version"`
	State   *scaler.State `json:"state"`
}

// Store keeps versioned bundles under root, one directory per version, with CURRENT
// naming the active one.
type Store struct {
	root   string
	onnx   ml.ONNXOptions
	logger *zap.Logger
}

func NewStore(root string, onnx ml.ONNXOptions) *Store {
	return &Store{root: root, onnx: onnx, logger: logging.Named("artifact")}
}

func (s *Store) Root() string { return s.root }

// Save writes b under a fresh version and makes it current. The version directory is
// complete before it becomes visible and CURRENT is replaced atomically.
func (s *Store) Save(ctx context.Context, b *Bundle) (saved *Bundle, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	modelName, err := ml.ModelFile(b.classifier.Kind())
	if err != nil {
		return nil, err
	}

	version := uuid.NewString()
	saved = b.withVersion(version)

	tmp, err := os.MkdirTemp(s.root, ".tmp-"+version+"-")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, os.RemoveAll(tmp))
		}
	}()

	modelPath := filepath.Join(tmp, modelName)
	if err = b.classifier.Save(modelPath); err != nil {
		return nil, fmt.Errorf("save classifier: %w", err)
	}
	if err = syncFile(modelPath); err != nil {
		return nil, err
	}
	if err = writeJSON(filepath.Join(tmp, columnsFile), columnsEnvelope{Version: version, Schema: saved.schema}); err != nil {
		return nil, err
	}
	if err = writeJSON(filepath.Join(tmp, scalerFile), scalerEnvelope{Version: version, State: saved.scaler}); err != nil {
		return nil, err
	}
	if err = writeJSON(filepath.Join(tmp, metaFile), saved.meta); err != nil {
		return nil, err
	}
	if err = syncDir(tmp); err != nil {
		return nil, err
	}

	if err = os.Rename(tmp, filepath.Join(s.root, version)); err != nil {
		return nil, fmt.Errorf("publish version: %w", err)
	}
	if err = s.setCurrent(version); err != nil {
		return nil, err
	}

	s.logger.Info("artifact saved",
		zap.String("version", version),
		zap.String("classifier", saved.meta.ClassifierKind),
		zap.String("schema_version", saved.meta.SchemaVersion))
	return saved, nil
}

// Current returns the active version id.
func (s *Store) Current() (string, error) {
	payload, err := os.ReadFile(filepath.Join(s.root, currentFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoArtifact
	}
	if err != nil {
		return "", err
	}
	version := strings.TrimSpace(string(payload))
	if version == "" {
		return "", ErrNoArtifact
	}
	return version, nil
}

// Versions lists the published versions in lexical order.
func (s *Store) Versions() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			versions = append(versions, e.Name())
		}
	}
	sort.Strings(versions)
	return versions, nil
}

// Load restores the current version.
func (s *Store) Load(ctx context.Context) (*Bundle, error) {
	version, err := s.Current()
	if err != nil {
		return nil, err
	}
	return s.LoadVersion(ctx, version)
}

// LoadVersion restores one version. All three parts must be present and agree.
func (s *Store) LoadVersion(ctx context.Context, version string) (*Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, version)

	var cols columnsEnvelope
	if err := readJSON(filepath.Join(dir, columnsFile), &cols); err != nil {
		return nil, incomplete(err)
	}
	var sc scalerEnvelope
	if err := readJSON(filepath.Join(dir, scalerFile), &sc); err != nil {
		return nil, incomplete(err)
	}
	if cols.Version != version || sc.Version != version {
		return nil, fmt.Errorf("%w: version stamps %q (columns) and %q (scaler) do not match %q",
			ErrInconsistentArtifact, cols.Version, sc.Version, version)
	}
	if cols.Schema == nil || sc.State == nil {
		return nil, fmt.Errorf("%w: empty schema or scaler state", ErrInconsistentArtifact)
	}
	if err := cols.Schema.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInconsistentArtifact, err)
	}

	var meta Metadata
	if err := readJSON(filepath.Join(dir, metaFile), &meta); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	kind := meta.ClassifierKind
	if kind == "" {
		kind = detectKind(dir)
	}
	modelName, err := ml.ModelFile(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInconsistentArtifact, err)
	}
	clf, err := ml.LoadClassifier(kind, filepath.Join(dir, modelName), s.onnx)
	if err != nil {
		return nil, fmt.Errorf("load classifier: %w", incomplete(err))
	}

	meta.Version = version
	b, err := NewBundle(clf, cols.Schema, sc.State, meta)
	if err != nil {
		return nil, err
	}
	s.logger.Info("artifact loaded",
		zap.String("version", version),
		zap.String("classifier", kind),
		zap.Int("features", clf.NumFeatures()))
	return b, nil
}

func (s *Store) setCurrent(version string) error {
	f, err := os.CreateTemp(s.root, ".current-")
	if err != nil {
		return fmt.Errorf("stage current pointer: %w", err)
	}
	name := f.Name()
	_, werr := f.WriteString(version + "\n")
	err = multierr.Combine(werr, f.Sync(), f.Close())
	if err == nil {
		err = os.Rename(name, filepath.Join(s.root, currentFile))
	}
	if err != nil {
		return multierr.Append(fmt.Errorf("update current pointer: %w", err), removeIfExists(name))
	}
	return syncDir(s.root)
}

// incomplete marks a missing part of a version as an inconsistent artifact.
func incomplete(err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrInconsistentArtifact, err)
	}
	return err
}

func detectKind(dir string) string {
	for _, kind := range []string{ml.KindGBDT, ml.KindONNX} {
		name, _ := ml.ModelFile(kind)
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return kind
		}
	}
	return ""
}

func writeJSON(path string, v interface{}) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return err
	}
	return syncFile(path)
}

func readJSON(path string, v interface{}) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	return multierr.Append(f.Sync(), f.Close())
}

func syncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return err
	}
	return multierr.Append(d.Sync(), d.Close())
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
