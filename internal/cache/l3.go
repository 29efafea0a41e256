package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// l3Tier is the disk tier: one file per entry at <dir>/<hh>/<hash>.cache,
// sharded by the first two hex digits of the key hash. Payloads carry
// their own TTL and survive process restarts.
type l3Tier struct {
	dir string
	now func() time.Time
}

func newL3Tier(dir string) (*l3Tier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &l3Tier{dir: dir, now: time.Now}, nil
}

// pathFor returns the sharded file path for a key.
func (t *l3Tier) pathFor(key string) string {
	hash := keyHash(key)
	return filepath.Join(t.dir, hash[:2], hash+".cache")
}

// get reads an entry from disk. Expired entries are deleted and reported
// as a miss. The access counter in the file is updated best-effort.
func (t *l3Tier) get(key string) (*Entry, error) {
	path := t.pathFor(key)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Corrupt file; remove and miss.
		_ = os.Remove(path)
		return nil, nil
	}
	if entry.Expired(t.now()) {
		_ = os.Remove(path)
		return nil, nil
	}

	entry.AccessCount++
	if updated, err := json.Marshal(&entry); err == nil {
		_ = os.WriteFile(path, updated, 0o644)
	}
	return &entry, nil
}

// set writes an entry to its shard, creating the shard directory on
// first use. The write goes through a temp file and rename so a crash
// never leaves a torn payload.
func (t *l3Tier) set(entry *Entry) error {
	path := t.pathFor(entry.Key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// delete removes an entry's file if present.
func (t *l3Tier) delete(key string) error {
	err := os.Remove(t.pathFor(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// purge removes expired and corrupted files across all shards. Returns
// the number of files removed.
func (t *l3Tier) purge() int {
	removed := 0
	shards, err := os.ReadDir(t.dir)
	if err != nil {
		return 0
	}
	now := t.now()
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		shardDir := filepath.Join(t.dir, shard.Name())
		files, err := os.ReadDir(shardDir)
		if err != nil {
			continue
		}
		for _, f := range files {
			path := filepath.Join(shardDir, f.Name())
			if filepath.Ext(path) == ".tmp" {
				_ = os.Remove(path)
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			var entry Entry
			if err := json.Unmarshal(data, &entry); err != nil || entry.Expired(now) {
				if os.Remove(path) == nil {
					removed++
				}
			}
		}
	}
	return removed
}
