// internal/store/filestore/repository.go
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/xkilldash9x/trialctl/api/schemas"
	"github.com/xkilldash9x/trialctl/internal/lifecycle"
)

const (
	storeFileMode   = 0o600
	storeDirMode    = 0o700
	tempFilePattern = ".trialctl-*.toml.tmp"
)

// Repository keeps all accounts and quotas in a single TOML document. Every
// write replaces the file atomically.
type Repository struct {
	path string
	mu   *sync.RWMutex
}

// errUnchanged aborts an update without rewriting the document.
var errUnchanged = errors.New("store unchanged")

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

var _ lifecycle.Repository = (*Repository)(nil)

// New opens (lazily creating) the document at path. A leading ~ is expanded.
func New(path string) (*Repository, error) {
	if path == "" {
		return nil, errors.New("store path is empty")
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand store path: %w", err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("resolve store path: %w", err)
	}
	abs = filepath.Clean(abs)
	return &Repository{path: abs, mu: lockForPath(abs)}, nil
}

// Path returns the resolved document path.
func (r *Repository) Path() string { return r.path }

func (r *Repository) InsertAccount(ctx context.Context, acc schemas.Account) error {
	return r.update(ctx, func(file *fileSchema) error {
		for _, existing := range file.Accounts {
			if existing.ID == acc.ID {
				return fmt.Errorf("account %s already exists", acc.ID)
			}
		}
		file.Accounts = append(file.Accounts, toAccountSchema(acc))
		return nil
	})
}

func (r *Repository) ListAccounts(ctx context.Context, ownerID string) ([]schemas.Account, error) {
	return r.listAccounts(ctx, func(a accountSchema) bool { return a.OwnerID == ownerID })
}

func (r *Repository) ListActiveAccounts(ctx context.Context) ([]schemas.Account, error) {
	return r.listAccounts(ctx, func(a accountSchema) bool { return a.Active })
}

func (r *Repository) listAccounts(ctx context.Context, keep func(accountSchema) bool) ([]schemas.Account, error) {
	file, err := r.read(ctx)
	if err != nil {
		return nil, err
	}
	accounts := make([]schemas.Account, 0, len(file.Accounts))
	for _, entry := range file.Accounts {
		if !keep(entry) {
			continue
		}
		acc, err := fromAccountSchema(entry)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	sort.SliceStable(accounts, func(i, j int) bool { return accounts[i].CreatedAt.Before(accounts[j].CreatedAt) })
	return accounts, nil
}

func (r *Repository) UpdateAccountState(ctx context.Context, id string, active, notificationSent bool) error {
	return r.update(ctx, func(file *fileSchema) error {
		for i := range file.Accounts {
			if file.Accounts[i].ID == id {
				file.Accounts[i].Active = active
				file.Accounts[i].NotificationSent = notificationSent
				return nil
			}
		}
		return lifecycle.ErrAccountNotFound
	})
}

func (r *Repository) GetQuota(ctx context.Context, ownerID string) (schemas.UserQuota, error) {
	file, err := r.read(ctx)
	if err != nil {
		return schemas.UserQuota{}, err
	}
	for _, q := range file.Quotas {
		if q.OwnerID == ownerID {
			last, err := parseTime(q.LastCreatedAt)
			if err != nil {
				return schemas.UserQuota{}, fmt.Errorf("quota %s last_created_at: %w", ownerID, err)
			}
			return schemas.UserQuota{OwnerID: q.OwnerID, LastCreatedAt: last}, nil
		}
	}
	return schemas.UserQuota{}, lifecycle.ErrQuotaNotFound
}

func (r *Repository) PutQuota(ctx context.Context, q schemas.UserQuota) error {
	return r.update(ctx, func(file *fileSchema) error {
		entry := quotaSchema{OwnerID: q.OwnerID, LastCreatedAt: formatTime(q.LastCreatedAt)}
		for i := range file.Quotas {
			if file.Quotas[i].OwnerID == q.OwnerID {
				file.Quotas[i] = entry
				return nil
			}
		}
		file.Quotas = append(file.Quotas, entry)
		return nil
	})
}

func (r *Repository) AddBlock(ctx context.Context, entry schemas.BlockEntry) (bool, error) {
	added := false
	err := r.update(ctx, func(file *fileSchema) error {
		for _, b := range file.Blocks {
			if b.OwnerID == entry.OwnerID {
				return errUnchanged
			}
		}
		file.Blocks = append(file.Blocks, blockSchema{
			OwnerID:   entry.OwnerID,
			Reason:    entry.Reason,
			BlockedBy: entry.BlockedBy,
			BlockedAt: formatTime(entry.BlockedAt),
		})
		added = true
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return false, nil
	}
	return added, err
}

func (r *Repository) RemoveBlock(ctx context.Context, ownerID string) (bool, error) {
	err := r.update(ctx, func(file *fileSchema) error {
		for i, b := range file.Blocks {
			if b.OwnerID == ownerID {
				file.Blocks = append(file.Blocks[:i], file.Blocks[i+1:]...)
				return nil
			}
		}
		return errUnchanged
	})
	if errors.Is(err, errUnchanged) {
		return false, nil
	}
	return err == nil, err
}

func (r *Repository) ListBlocks(ctx context.Context) ([]schemas.BlockEntry, error) {
	file, err := r.read(ctx)
	if err != nil {
		return nil, err
	}
	blocks := make([]schemas.BlockEntry, 0, len(file.Blocks))
	for _, entry := range file.Blocks {
		b, err := fromBlockSchema(entry)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].BlockedAt.Before(blocks[j].BlockedAt) })
	return blocks, nil
}

func (r *Repository) AppendAttempt(ctx context.Context, a schemas.CreationAttempt) error {
	return r.update(ctx, func(file *fileSchema) error {
		file.Attempts = append(file.Attempts, attemptSchema{
			ID:      a.ID,
			OwnerID: a.OwnerID,
			Status:  string(a.Status),
			Detail:  a.Detail,
			At:      formatTime(a.At),
		})
		return nil
	})
}

func (r *Repository) ListAttempts(ctx context.Context, since time.Time) ([]schemas.CreationAttempt, error) {
	file, err := r.read(ctx)
	if err != nil {
		return nil, err
	}
	var attempts []schemas.CreationAttempt
	for _, entry := range file.Attempts {
		a, err := fromAttemptSchema(entry)
		if err != nil {
			return nil, err
		}
		if !a.At.Before(since) {
			attempts = append(attempts, a)
		}
	}
	sort.SliceStable(attempts, func(i, j int) bool { return attempts[i].At.After(attempts[j].At) })
	return attempts, nil
}

func (r *Repository) PutProgress(ctx context.Context, rec schemas.ProgressRecord) error {
	return r.update(ctx, func(file *fileSchema) error {
		entry := progressSchema{
			OwnerID:   rec.OwnerID,
			Percent:   rec.Percent,
			Message:   rec.Message,
			UpdatedAt: formatTime(rec.UpdatedAt),
		}
		for i := range file.Progress {
			if file.Progress[i].OwnerID == rec.OwnerID {
				file.Progress[i] = entry
				return nil
			}
		}
		file.Progress = append(file.Progress, entry)
		return nil
	})
}

func (r *Repository) GetProgress(ctx context.Context, ownerID string) (schemas.ProgressRecord, error) {
	file, err := r.read(ctx)
	if err != nil {
		return schemas.ProgressRecord{}, err
	}
	for _, p := range file.Progress {
		if p.OwnerID != ownerID {
			continue
		}
		at, err := parseTime(p.UpdatedAt)
		if err != nil {
			return schemas.ProgressRecord{}, fmt.Errorf("progress %s updated_at: %w", ownerID, err)
		}
		return schemas.ProgressRecord{OwnerID: p.OwnerID, Percent: p.Percent, Message: p.Message, UpdatedAt: at}, nil
	}
	return schemas.ProgressRecord{}, lifecycle.ErrProgressNotFound
}

func (r *Repository) DeleteProgress(ctx context.Context, ownerID string) error {
	err := r.update(ctx, func(file *fileSchema) error {
		for i, p := range file.Progress {
			if p.OwnerID == ownerID {
				file.Progress = append(file.Progress[:i], file.Progress[i+1:]...)
				return nil
			}
		}
		return errUnchanged
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

// Close is a no-op; the document is not held open.
func (r *Repository) Close() error { return nil }

func (r *Repository) read(ctx context.Context) (fileSchema, error) {
	if err := ctx.Err(); err != nil {
		return fileSchema{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readSchema()
}

// update runs a read-modify-write cycle under the path lock. fn's error
// aborts the write.
func (r *Repository) update(ctx context.Context, fn func(*fileSchema) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.readSchema()
	if err != nil {
		return err
	}
	if err := fn(&file); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.writeSchema(file)
}

func (r *Repository) readSchema() (fileSchema, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileSchema{Version: currentSchemaVersion}, nil
		}
		return fileSchema{}, fmt.Errorf("read store file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return fileSchema{}, fmt.Errorf("decode store file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return fileSchema{}, err
	}
	file.applyDefaults()
	return file, nil
}

func (r *Repository) writeSchema(file fileSchema) error {
	file.applyDefaults()

	if err := os.MkdirAll(filepath.Dir(r.path), storeDirMode); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(r.path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp store file: %w", err)
	}
	if err := tempFile.Chmod(storeFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp store file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("sync temp store file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tempName, r.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	cleanup = false
	return nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}
	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}
