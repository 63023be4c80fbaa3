// Package uploads stores media binaries on local disk: files the client app
// uploads for relay, and files the expert sends back from the platform. An
// index of records is kept in a JSON state file next to the binaries.
package uploads

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/askdesk/askdesk/pkg/utils"
)

// ErrTooLarge marks a payload over the configured size limit.
var ErrTooLarge = errors.New("media exceeds size limit")

type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Origin    string    `json:"origin"` // "user" or "expert"
	Name      string    `json:"name"`
	Kind      string    `json:"kind"` // photo, document, voice, audio
	MIMEType  string    `json:"mime_type,omitempty"`
	RelPath   string    `json:"rel_path"` // relative to the store root
	SizeBytes int64     `json:"size_bytes"`
	SHA256    string    `json:"sha256"`
	CreatedAt time.Time `json:"created_at"`
}

type stateFile struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

type Store struct {
	mu        sync.RWMutex
	filesRoot string
	statePath string
	records   map[string]Record
}

// NewStore roots the store at dir. Binaries live under dir/files (the part
// safe to serve statically); the record index sits beside it.
func NewStore(dir string) (*Store, error) {
	filesRoot := filepath.Join(dir, "files")
	if err := os.MkdirAll(filesRoot, 0755); err != nil {
		return nil, fmt.Errorf("create uploads root: %w", err)
	}
	s := &Store{
		filesRoot: filesRoot,
		statePath: filepath.Join(dir, "state.json"),
		records:   map[string]Record{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Root is the directory static file serving should expose.
func (s *Store) Root() string {
	return s.filesRoot
}

// Save writes the reader's content under <files>/<kind>/ with a sanitized,
// collision-proofed name. maxBytes of 0 disables the size limit.
func (s *Store) Save(userID, origin, kind, originalName, mimeType string, r io.Reader, maxBytes int64) (Record, error) {
	dir := filepath.Join(s.filesRoot, kind)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Record{}, fmt.Errorf("create kind dir: %w", err)
	}

	baseName := utils.SanitizeFilename(originalName)
	if baseName == "" || baseName == "." {
		baseName = kind + utils.ExtForMIME(mimeType)
	}
	fileName := uuid.NewString()[:8] + "_" + baseName
	destPath := filepath.Join(dir, fileName)

	size, sum, err := writeWithHash(destPath, r, maxBytes)
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		ID:        "med_" + uuid.NewString(),
		UserID:    userID,
		Origin:    origin,
		Name:      baseName,
		Kind:      kind,
		MIMEType:  mimeType,
		RelPath:   filepath.ToSlash(filepath.Join(kind, fileName)),
		SizeBytes: size,
		SHA256:    sum,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	if err := s.saveLocked(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *Store) GetByID(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// AbsPath resolves a record's relative path against the files root.
func (s *Store) AbsPath(rec Record) string {
	return filepath.Join(s.filesRoot, filepath.FromSlash(rec.RelPath))
}

func writeWithHash(destPath string, r io.Reader, maxBytes int64) (int64, string, error) {
	dst, err := os.Create(destPath)
	if err != nil {
		return 0, "", fmt.Errorf("create media file: %w", err)
	}
	defer dst.Close()

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(dst, hasher), src)
	if err != nil {
		_ = os.Remove(destPath)
		return 0, "", fmt.Errorf("write media file: %w", err)
	}
	if maxBytes > 0 && n > maxBytes {
		_ = os.Remove(destPath)
		return 0, "", fmt.Errorf("%w (%d byte limit)", ErrTooLarge, maxBytes)
	}
	return n, hex.EncodeToString(hasher.Sum(nil)), nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var st stateFile
	if err := json.Unmarshal(data, &st); err != nil {
		// Corrupt state index loses records, not binaries.
		s.records = map[string]Record{}
		return nil
	}
	for _, r := range st.Records {
		s.records[r.ID] = r
	}
	return nil
}

func (s *Store) saveLocked() error {
	records := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}
	st := stateFile{Version: 1, Records: records}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal uploads state: %w", err)
	}
	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write uploads state: %w", err)
	}
	if err := os.Rename(tmp, s.statePath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace uploads state: %w", err)
	}
	return nil
}
