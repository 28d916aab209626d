package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// SchemaVersion is written into every saved state file.
const SchemaVersion = 1

// FileStore keeps the release records of every environment in one JSON document.
type FileStore struct {
	path   string
	logger zerolog.Logger
}

// NewFileStore returns a store backed by the JSON file at path.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{path: path, logger: logger.With().Str("state_path", path).Logger()}
}

// Load reads the state file. A missing file yields an empty state. An unreadable document is
// moved aside with a .corrupt suffix so the next Save starts fresh without losing it.
func (s *FileStore) Load(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	empty := State{Version: SchemaVersion, Environments: map[string]EnvironmentSnapshot{}}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Warn().Msg("state file missing, starting with no releases")
		return empty, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read state: %w", err)
	}

	var loaded State
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.quarantine(err)
		return empty, nil
	}
	if loaded.Version > SchemaVersion {
		return State{}, fmt.Errorf("state file has schema version %d, this build reads up to %d", loaded.Version, SchemaVersion)
	}
	if loaded.Environments == nil {
		loaded.Environments = map[string]EnvironmentSnapshot{}
	}
	loaded.Version = SchemaVersion
	return loaded, nil
}

func (s *FileStore) quarantine(cause error) {
	aside := s.path + ".corrupt"
	if err := os.Rename(s.path, aside); err != nil {
		s.logger.Warn().Err(cause).AnErr("rename_error", err).Msg("state file corrupt, starting fresh")
		return
	}
	s.logger.Warn().Err(cause).Str("moved_to", aside).Msg("state file corrupt, starting fresh")
}

// Save replaces the state file through a synced temp file and a rename.
func (s *FileStore) Save(ctx context.Context, st State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st.Version = SchemaVersion
	if st.Environments == nil {
		st.Environments = map[string]EnvironmentSnapshot{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := writeAtomic(s.path, buf.Bytes()); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	s.logger.Debug().Int("environments", len(st.Environments)).Msg("state saved")
	return nil
}

func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	if d, openErr := os.Open(dir); openErr == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
