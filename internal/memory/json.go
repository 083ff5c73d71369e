package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// JSONBackend keeps the whole store in one indented JSON document that is
// read and rewritten in full on every operation.
type JSONBackend struct {
	path string
	now  func() time.Time
}

// NewJSONBackend creates the backend, creating the parent directory.
func NewJSONBackend(path string) (*JSONBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "create memory directory")
	}
	return &JSONBackend{path: path, now: time.Now}, nil
}

// Name implements Backend.
func (b *JSONBackend) Name() string { return "json" }

// Path returns the document path.
func (b *JSONBackend) Path() string { return b.path }

// load reads the document. A missing file yields ok=false. A file that cannot
// be parsed is moved aside and treated as missing, so the store keeps working.
// Any other read failure is returned, leaving the file untouched.
func (b *JSONBackend) load() (*Document, bool, error) {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return newDocument(b.now()), false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "read conversation data %s", b.path)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", b.path, b.now().Unix())
		if renameErr := os.Rename(b.path, aside); renameErr != nil {
			return nil, false, errors.Wrapf(renameErr, "preserve corrupt conversation data %s", b.path)
		}
		log.Error().
			Err(err).
			Str("path", b.path).
			Str("preserved_as", aside).
			Msg("conversation data is corrupt, starting with an empty store")
		return newDocument(b.now()), false, nil
	}
	if doc.Sessions == nil {
		doc.Sessions = []*Session{}
	}
	for _, s := range doc.Sessions {
		if s.Messages == nil {
			s.Messages = []Message{}
		}
	}
	return &doc, true, nil
}

// save writes the document through a temp file and rename.
func (b *JSONBackend) save(doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode conversation data")
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrap(err, "write conversation data")
	}
	if err := os.Rename(tmp, b.path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "replace conversation data")
	}
	return nil
}

// LoadMeta implements Backend.
func (b *JSONBackend) LoadMeta(ctx context.Context) (Metadata, bool, error) {
	doc, ok, err := b.load()
	if err != nil {
		return Metadata{}, false, err
	}
	return doc.Metadata, ok, nil
}

// GetSession implements Backend.
func (b *JSONBackend) GetSession(ctx context.Context, id string) (*Session, error) {
	doc, _, err := b.load()
	if err != nil {
		return nil, err
	}
	for _, s := range doc.Sessions {
		if s.SessionID == id {
			return s, nil
		}
	}
	return nil, ErrSessionNotFound
}

// ListSessions implements Backend.
func (b *JSONBackend) ListSessions(ctx context.Context) ([]*Session, error) {
	doc, _, err := b.load()
	if err != nil {
		return nil, err
	}
	return doc.Sessions, nil
}

// PutSession implements Backend.
func (b *JSONBackend) PutSession(ctx context.Context, sess *Session, meta Metadata) error {
	doc, _, err := b.load()
	if err != nil {
		return err
	}

	replaced := false
	for i, s := range doc.Sessions {
		if s.SessionID == sess.SessionID {
			doc.Sessions[i] = sess
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Sessions = append(doc.Sessions, sess)
	}
	doc.Metadata = meta
	return b.save(doc)
}

// DeleteSession implements Backend.
func (b *JSONBackend) DeleteSession(ctx context.Context, id string, meta Metadata) (bool, error) {
	doc, _, err := b.load()
	if err != nil {
		return false, err
	}

	kept := doc.Sessions[:0]
	for _, s := range doc.Sessions {
		if s.SessionID != id {
			kept = append(kept, s)
		}
	}
	if len(kept) == len(doc.Sessions) {
		return false, nil
	}
	doc.Sessions = kept
	doc.Metadata = meta
	return true, b.save(doc)
}

// Reset implements Backend.
func (b *JSONBackend) Reset(ctx context.Context, meta Metadata) error {
	return b.save(&Document{Sessions: []*Session{}, Metadata: meta})
}

// Size implements Backend.
func (b *JSONBackend) Size(ctx context.Context) (int64, error) {
	info, err := os.Stat(b.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "stat conversation data")
	}
	return info.Size(), nil
}

// Close implements Backend.
func (b *JSONBackend) Close() error { return nil }
