package publish

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"path"
	"strings"
	"sync"

	"gitpress/internal/constants"
	"gitpress/internal/githost"
)

// Asset is one binary upload. Key is the caller's handle for the item (the
// editor's local object URL) and is what gets rewritten to the deterministic
// public path after dedup.
type Asset struct {
	Key  string
	Name string
	Data []byte
}

// HashAsset returns the hex content hash that names the asset in the store.
func HashAsset(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// BlobCreator is the single remote call the deduplicator performs.
type BlobCreator interface {
	CreateBlob(ctx context.Context, content, encoding string) (string, error)
}

// DedupeAssets content-addresses the uploads under dir. Identical content
// within the batch produces exactly one blob creation, and re-uploads across
// unrelated publishes land on the same path. Blob creations for distinct
// assets are independent and issued concurrently; all complete before the
// caller builds the tree.
func DedupeAssets(ctx context.Context, store BlobCreator, dir string, assets []Asset) ([]githost.TreeEntry, map[string]string, error) {
	type unique struct {
		hash string
		ext  string
		data []byte
	}

	refs := make(map[string]string)
	seen := make(map[string]bool)
	var uniques []unique

	for _, asset := range assets {
		hash := HashAsset(asset.Data)
		ext := strings.ToLower(path.Ext(asset.Name))
		refs[asset.Key] = publicPath(dir, hash+ext)
		if seen[hash] {
			continue
		}
		seen[hash] = true
		uniques = append(uniques, unique{hash: hash, ext: ext, data: asset.Data})
	}

	entries := make([]githost.TreeEntry, len(uniques))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i, u := range uniques {
		wg.Add(1)
		go func(i int, u unique) {
			defer wg.Done()
			sha, err := store.CreateBlob(ctx, base64.StdEncoding.EncodeToString(u.data), "base64")
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			entries[i] = githost.TreeEntry{
				Path: dir + "/" + u.hash + u.ext,
				Mode: constants.FileModeBlob,
				Type: "blob",
				SHA:  sha,
			}
		}(i, u)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, nil, firstErr
	}
	return entries, refs, nil
}

// publicPath maps a repo path under public/ onto the served URL path.
func publicPath(dir, filename string) string {
	return strings.TrimPrefix(dir, "public") + "/" + filename
}
