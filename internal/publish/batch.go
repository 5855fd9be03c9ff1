package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"gitpress/internal/audit"
	"gitpress/internal/constants"
	"gitpress/internal/githost"
)

// Stage names the steps of one publish. Every operation walks the same
// sequence and any step may fail the whole publish; nothing partial is ever
// exposed, though objects created before the failure remain in the store as
// unreferenced garbage.
type Stage string

const (
	StageStart           Stage = "START"
	StageHeadRead        Stage = "HEAD_READ"
	StageContentPrepared Stage = "CONTENT_PREPARED"
	StageTreeBuilt       Stage = "TREE_BUILT"
	StageCommitCreated   Stage = "COMMIT_CREATED"
	StageRefUpdated      Stage = "REF_UPDATED"
)

// ObjectStore is the slice of the remote client the builder drives.
type ObjectStore interface {
	GetRef(ctx context.Context, ref string) (string, error)
	CreateBlob(ctx context.Context, content, encoding string) (string, error)
	CreateTree(ctx context.Context, entries []githost.TreeEntry, baseTree string) (string, error)
	CreateCommit(ctx context.Context, message, tree string, parents []string) (string, error)
	UpdateRef(ctx context.Context, ref, sha string, force bool) error
	ReadTextFile(ctx context.Context, path, ref string) (string, bool, error)
	ListFiles(ctx context.Context, path, ref string) ([]string, error)
}

// Builder sequences one atomic publish per logical change: head read, content
// preparation, tree construction, commit creation, ref update.
type Builder struct {
	store  ObjectStore
	branch string
	audit  *audit.Logger
}

func NewBuilder(store ObjectStore, branch string, auditLogger *audit.Logger) *Builder {
	return &Builder{store: store, branch: branch, audit: auditLogger}
}

// Result reports the object chain of a completed publish, or the stage a
// failed one reached.
type Result struct {
	OpID      string `json:"op_id"`
	Stage     Stage  `json:"stage"`
	HeadSHA   string `json:"head_sha,omitempty"`
	TreeSHA   string `json:"tree_sha,omitempty"`
	CommitSHA string `json:"commit_sha,omitempty"`
}

func (b *Builder) refName() string {
	return "heads/" + b.branch
}

func (b *Builder) fail(res *Result, stage Stage, err error) error {
	res.Stage = stage
	b.audit.LogPublishFailed(res.OpID, string(stage), err.Error())
	return fmt.Errorf("publish %s failed at %s: %w", res.OpID, stage, err)
}

// PostFile is one file stored under the post's own directory.
type PostFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	Base64  bool   `json:"base64"`
}

// PostInput describes a create or edit of one content item.
type PostInput struct {
	Slug         string          `json:"slug"`
	OriginalSlug string          `json:"originalSlug"`
	Entry        json.RawMessage `json:"entry"`
	Categories   []string        `json:"categories"`
	Files        []PostFile      `json:"files"`
	Assets       []Asset         `json:"assets"`
}

// PublishPost creates or edits one post: shared asset blobs, per-slug file
// blobs, merged index and category blobs, one commit, one ref move. Editing
// under a new slug deletes every file under the old slug's directory.
func (b *Builder) PublishPost(ctx context.Context, identity string, in PostInput) (*Result, error) {
	if in.Slug == "" {
		return nil, fmt.Errorf("slug is required")
	}

	res := &Result{OpID: uuid.New().String(), Stage: StageStart}
	editing := in.OriginalSlug != ""
	summary := fmt.Sprintf("Publish post: %s", in.Slug)
	if editing {
		summary = fmt.Sprintf("Update post: %s", in.Slug)
	}
	b.audit.LogPublishStart(res.OpID, identity, summary)
	log.Printf("publish %s: %s", res.OpID, summary)

	head, err := b.store.GetRef(ctx, b.refName())
	if err != nil {
		return res, b.fail(res, StageHeadRead, err)
	}
	res.HeadSHA = head
	res.Stage = StageHeadRead

	var entries []githost.TreeEntry
	var removals []string

	if editing && in.OriginalSlug != in.Slug {
		oldDir := constants.BlogDirPrefix + in.OriginalSlug
		files, err := b.store.ListFiles(ctx, oldDir, b.branch)
		if err != nil {
			return res, b.fail(res, StageContentPrepared, err)
		}
		for _, path := range files {
			entries = append(entries, githost.TreeEntry{
				Path: path, Mode: constants.FileModeBlob, Type: "blob", Delete: true,
			})
		}
		removals = append(removals, in.OriginalSlug)
	}

	assetEntries, refs, err := DedupeAssets(ctx, b.store, constants.SharedAssetDir, in.Assets)
	if err != nil {
		return res, b.fail(res, StageContentPrepared, err)
	}
	entries = append(entries, assetEntries...)

	for _, file := range in.Files {
		content, encoding := file.Content, "utf-8"
		if file.Base64 {
			encoding = "base64"
		} else {
			content = replaceRefs(content, refs)
		}
		sha, err := b.store.CreateBlob(ctx, content, encoding)
		if err != nil {
			return res, b.fail(res, StageContentPrepared, err)
		}
		entries = append(entries, githost.TreeEntry{
			Path: constants.BlogDirPrefix + in.Slug + "/" + file.Name,
			Mode: constants.FileModeBlob,
			Type: "blob",
			SHA:  sha,
		})
	}

	entry, err := ParseIndexEntry(json.RawMessage(replaceRefs(string(in.Entry), refs)))
	if err != nil {
		return res, b.fail(res, StageContentPrepared, err)
	}
	if entry.Slug != in.Slug {
		return res, b.fail(res, StageContentPrepared, fmt.Errorf("entry slug %q does not match %q", entry.Slug, in.Slug))
	}

	indexEntry, err := b.mergedIndexEntry(ctx, []IndexEntry{entry}, removals)
	if err != nil {
		return res, b.fail(res, StageContentPrepared, err)
	}
	entries = append(entries, *indexEntry)

	if len(in.Categories) > 0 {
		catEntry, err := b.mergedCategoriesEntry(ctx, in.Categories, false)
		if err != nil {
			return res, b.fail(res, StageContentPrepared, err)
		}
		entries = append(entries, *catEntry)
	}
	res.Stage = StageContentPrepared

	return res, b.commitAndAdvance(ctx, res, entries, summary, false)
}

// DeletePost removes every file under the slug's directory and drops the slug
// from the index. Force skips the fast-forward check and is reserved for
// callers that already confirmed destructive intent.
func (b *Builder) DeletePost(ctx context.Context, identity, slug string, force bool) (*Result, error) {
	if slug == "" {
		return nil, fmt.Errorf("slug is required")
	}

	res := &Result{OpID: uuid.New().String(), Stage: StageStart}
	summary := fmt.Sprintf("Delete post: %s", slug)
	b.audit.LogPublishStart(res.OpID, identity, summary)
	log.Printf("publish %s: %s", res.OpID, summary)

	head, err := b.store.GetRef(ctx, b.refName())
	if err != nil {
		return res, b.fail(res, StageHeadRead, err)
	}
	res.HeadSHA = head
	res.Stage = StageHeadRead

	files, err := b.store.ListFiles(ctx, constants.BlogDirPrefix+slug, b.branch)
	if err != nil {
		return res, b.fail(res, StageContentPrepared, err)
	}
	if len(files) == 0 {
		return res, b.fail(res, StageContentPrepared, fmt.Errorf("post %s does not exist", slug))
	}

	entries := make([]githost.TreeEntry, 0, len(files)+1)
	for _, path := range files {
		entries = append(entries, githost.TreeEntry{
			Path: path, Mode: constants.FileModeBlob, Type: "blob", Delete: true,
		})
	}

	indexEntry, err := b.mergedIndexEntry(ctx, nil, []string{slug})
	if err != nil {
		return res, b.fail(res, StageContentPrepared, err)
	}
	entries = append(entries, *indexEntry)
	res.Stage = StageContentPrepared

	return res, b.commitAndAdvance(ctx, res, entries, summary, force)
}

// EditsInput is a bulk reorder/removal of the index plus the authoritative
// category list.
type EditsInput struct {
	Items      []json.RawMessage `json:"items"`
	Removed    []string          `json:"removed"`
	Categories []string          `json:"categories"`
}

// SaveEdits rewrites the whole index in one commit: file deletions for every
// removed slug, the re-sorted index, and the replaced category list.
func (b *Builder) SaveEdits(ctx context.Context, identity string, in EditsInput) (*Result, error) {
	res := &Result{OpID: uuid.New().String(), Stage: StageStart}

	removed := dedupeSlugs(in.Removed)
	labels := []string{}
	if len(removed) > 0 {
		labels = append(labels, "remove: "+strings.Join(removed, ","))
	}
	labels = append(labels, "update index")
	if len(in.Categories) > 0 {
		labels = append(labels, "update categories")
	}
	summary := strings.Join(labels, " | ")
	b.audit.LogPublishStart(res.OpID, identity, summary)
	log.Printf("publish %s: %s", res.OpID, summary)

	head, err := b.store.GetRef(ctx, b.refName())
	if err != nil {
		return res, b.fail(res, StageHeadRead, err)
	}
	res.HeadSHA = head
	res.Stage = StageHeadRead

	var entries []githost.TreeEntry
	for _, slug := range removed {
		files, err := b.store.ListFiles(ctx, constants.BlogDirPrefix+slug, b.branch)
		if err != nil {
			return res, b.fail(res, StageContentPrepared, err)
		}
		for _, path := range files {
			entries = append(entries, githost.TreeEntry{
				Path: path, Mode: constants.FileModeBlob, Type: "blob", Delete: true,
			})
		}
	}

	items := make([]IndexEntry, 0, len(in.Items))
	for _, raw := range in.Items {
		entry, err := ParseIndexEntry(raw)
		if err != nil {
			return res, b.fail(res, StageContentPrepared, err)
		}
		items = append(items, entry)
	}
	indexText, err := MergeIndex(nil, items, nil)
	if err != nil {
		return res, b.fail(res, StageContentPrepared, err)
	}
	sha, err := b.store.CreateBlob(ctx, string(indexText), "utf-8")
	if err != nil {
		return res, b.fail(res, StageContentPrepared, err)
	}
	entries = append(entries, githost.TreeEntry{
		Path: constants.IndexPath, Mode: constants.FileModeBlob, Type: "blob", SHA: sha,
	})

	if len(in.Categories) > 0 {
		catEntry, err := b.mergedCategoriesEntry(ctx, in.Categories, true)
		if err != nil {
			return res, b.fail(res, StageContentPrepared, err)
		}
		entries = append(entries, *catEntry)
	}
	res.Stage = StageContentPrepared

	return res, b.commitAndAdvance(ctx, res, entries, summary, false)
}

// ListingInput replaces one listing file (bloggers, projects) and uploads any
// new avatar assets into the shared content-addressed directory.
type ListingInput struct {
	Path   string  `json:"path"`
	Items  string  `json:"items"`
	Assets []Asset `json:"assets"`
}

// PushListing commits the listing JSON with every asset key in it rewritten to
// the deduplicated public path.
func (b *Builder) PushListing(ctx context.Context, identity string, in ListingInput) (*Result, error) {
	if in.Path != constants.BloggersPath && in.Path != constants.ProjectsPath {
		return nil, fmt.Errorf("unknown listing path %q", in.Path)
	}
	if !json.Valid([]byte(in.Items)) {
		return nil, fmt.Errorf("listing items are not valid JSON")
	}

	res := &Result{OpID: uuid.New().String(), Stage: StageStart}
	summary := fmt.Sprintf("Update listing: %s", in.Path)
	b.audit.LogPublishStart(res.OpID, identity, summary)
	log.Printf("publish %s: %s", res.OpID, summary)

	head, err := b.store.GetRef(ctx, b.refName())
	if err != nil {
		return res, b.fail(res, StageHeadRead, err)
	}
	res.HeadSHA = head
	res.Stage = StageHeadRead

	entries, refs, err := DedupeAssets(ctx, b.store, constants.SharedAssetDir, in.Assets)
	if err != nil {
		return res, b.fail(res, StageContentPrepared, err)
	}

	listing := replaceRefs(in.Items, refs)
	sha, err := b.store.CreateBlob(ctx, listing, "utf-8")
	if err != nil {
		return res, b.fail(res, StageContentPrepared, err)
	}
	entries = append(entries, githost.TreeEntry{
		Path: in.Path, Mode: constants.FileModeBlob, Type: "blob", SHA: sha,
	})
	res.Stage = StageContentPrepared

	return res, b.commitAndAdvance(ctx, res, entries, summary, false)
}

// commitAndAdvance runs the shared tail of every publish: tree layered on the
// head's tree, commit parented on the head, then the fast-forward-gated ref
// move. A failure after commit creation leaves unreferenced objects behind,
// which the store reclaims eventually.
func (b *Builder) commitAndAdvance(ctx context.Context, res *Result, entries []githost.TreeEntry, message string, force bool) error {
	treeSHA, err := b.store.CreateTree(ctx, entries, res.HeadSHA)
	if err != nil {
		return b.fail(res, StageTreeBuilt, err)
	}
	res.TreeSHA = treeSHA
	res.Stage = StageTreeBuilt

	commitSHA, err := b.store.CreateCommit(ctx, message, treeSHA, []string{res.HeadSHA})
	if err != nil {
		return b.fail(res, StageCommitCreated, err)
	}
	res.CommitSHA = commitSHA
	res.Stage = StageCommitCreated

	if err := b.store.UpdateRef(ctx, b.refName(), commitSHA, force); err != nil {
		return b.fail(res, StageRefUpdated, err)
	}
	res.Stage = StageRefUpdated

	b.audit.LogPublishDone(res.OpID, commitSHA)
	log.Printf("publish %s: branch %s advanced to %s", res.OpID, b.branch, commitSHA)
	return nil
}

// mergedIndexEntry reads the current index, applies the merge and uploads the
// new index blob.
func (b *Builder) mergedIndexEntry(ctx context.Context, upserts []IndexEntry, deletions []string) (*githost.TreeEntry, error) {
	existing, _, err := b.store.ReadTextFile(ctx, constants.IndexPath, b.branch)
	if err != nil {
		return nil, err
	}
	merged, err := MergeIndex([]byte(existing), upserts, deletions)
	if err != nil {
		return nil, err
	}
	sha, err := b.store.CreateBlob(ctx, string(merged), "utf-8")
	if err != nil {
		return nil, err
	}
	return &githost.TreeEntry{
		Path: constants.IndexPath, Mode: constants.FileModeBlob, Type: "blob", SHA: sha,
	}, nil
}

// mergedCategoriesEntry uploads the new category list, either merged into the
// existing one or replacing it outright.
func (b *Builder) mergedCategoriesEntry(ctx context.Context, categories []string, replace bool) (*githost.TreeEntry, error) {
	var existing []byte
	if !replace {
		text, _, err := b.store.ReadTextFile(ctx, constants.CategoriesPath, b.branch)
		if err != nil {
			return nil, err
		}
		existing = []byte(text)
	}
	merged, err := MergeCategories(existing, categories, nil)
	if err != nil {
		return nil, err
	}
	sha, err := b.store.CreateBlob(ctx, string(merged), "utf-8")
	if err != nil {
		return nil, err
	}
	return &githost.TreeEntry{
		Path: constants.CategoriesPath, Mode: constants.FileModeBlob, Type: "blob", SHA: sha,
	}, nil
}

// replaceRefs swaps every occurrence of an asset key for its deduplicated
// public path. Keys are the editor's opaque object URLs, so plain substring
// replacement is unambiguous.
func replaceRefs(text string, refs map[string]string) string {
	for key, path := range refs {
		if key == "" {
			continue
		}
		text = strings.ReplaceAll(text, key, path)
	}
	return text
}

func dedupeSlugs(slugs []string) []string {
	seen := make(map[string]bool, len(slugs))
	out := []string{}
	for _, slug := range slugs {
		if slug == "" || seen[slug] {
			continue
		}
		seen[slug] = true
		out = append(out, slug)
	}
	return out
}
