package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// ConnectionInfo is the record downstream clients read to locate the
// guardrails server without querying the platform.
type ConnectionInfo struct {
	AppID     string    `json:"app_id"`
	AppName   string    `json:"app_name"`
	ProjectID string    `json:"project_id"`
	Subdomain string    `json:"subdomain,omitempty"`
	URL       string    `json:"url"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ci *ConnectionInfo) Validate() error {
	if ci.AppID == "" {
		return errors.New("connection info has no application id")
	}
	if ci.URL == "" {
		return errors.New("connection info has no url")
	}
	return nil
}

// ConnectionInfoFile persists a ConnectionInfo as JSON on the local disk.
type ConnectionInfoFile struct {
	path string
}

func NewConnectionInfoFile(path string) *ConnectionInfoFile {
	return &ConnectionInfoFile{path: path}
}

func (f *ConnectionInfoFile) Path() string {
	return f.path
}

// WriteConnectionInfo replaces the file atomically. CreatedAt of a record for
// the same application is carried over from the previous file.
func (f *ConnectionInfoFile) WriteConnectionInfo(_ context.Context, ci *ConnectionInfo) error {
	if err := ci.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if previous, err := ReadConnectionInfo(f.path); err == nil && previous.AppID == ci.AppID {
		ci.CreatedAt = previous.CreatedAt
	}
	if ci.CreatedAt.IsZero() {
		ci.CreatedAt = now
	}
	ci.UpdatedAt = now

	b, err := json.MarshalIndent(ci, "", "    ")
	if err != nil {
		return err
	}
	return writeFileAtomic(f.path, append(b, '\n'))
}

func (f *ConnectionInfoFile) ReadConnectionInfo(context.Context) (*ConnectionInfo, error) {
	return ReadConnectionInfo(f.path)
}

// ReadConnectionInfo loads the record at path. A missing file is reported as
// fs.ErrNotExist.
func ReadConnectionInfo(path string) (*ConnectionInfo, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ci := new(ConnectionInfo)
	if err := json.Unmarshal(b, ci); err != nil {
		return nil, fmt.Errorf("error decoding connection info %s: %w", path, err)
	}
	return ci, nil
}

func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func writeFileAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
