package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"ragchat/internal/ai"
	"ragchat/internal/cache"
	"ragchat/internal/model"
	"ragchat/internal/pkg/textextract"
	"ragchat/internal/platform/logger"
	"ragchat/internal/repository"
	"ragchat/internal/vectorstore"
)

const (
	defaultChunkSize    = 512
	defaultChunkOverlap = 64
	embeddingBatchSize  = 10
)

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrDuplicateDocument = errors.New("document with the same content already exists")
	ErrDocumentEmpty     = errors.New("document has no extractable text")
	ErrJobEnqueue        = errors.New("index job enqueue failed")
	ErrPathNotAllowed    = errors.New("storage path is outside the upload root")
	ErrLocForbidden      = errors.New("store location is not owned by the caller")
)

// JobPublisher hands index jobs to the background worker.
type JobPublisher interface {
	PublishIndexJob(ctx context.Context, job model.IndexJob) error
}

// ProgressTracker records job progress for polling clients.
type ProgressTracker interface {
	Set(ctx context.Context, p cache.Progress) error
	Get(ctx context.Context, jobID string) (*cache.Progress, error)
	Clear(ctx context.Context, jobID string) error
}

// IndexService registers stored documents and embeds them into vector
// stores, either inline or through the job queue.
type IndexService struct {
	documents   *repository.DocumentRepository
	collections *repository.CollectionRepository
	threads     *repository.ThreadRepository
	embedder    ai.Embedder
	store       vectorstore.Store
	publisher   JobPublisher
	progress    ProgressTracker
	uploadRoot  string
	log         *logger.Logger
}

func NewIndexService(
	documents *repository.DocumentRepository,
	collections *repository.CollectionRepository,
	threads *repository.ThreadRepository,
	embedder ai.Embedder,
	store vectorstore.Store,
	publisher JobPublisher,
	progress ProgressTracker,
	uploadRoot string,
	log *logger.Logger,
) *IndexService {
	if log == nil {
		log = logger.Nop()
	}
	return &IndexService{
		documents:   documents,
		collections: collections,
		threads:     threads,
		embedder:    embedder,
		store:       store,
		publisher:   publisher,
		progress:    progress,
		uploadRoot:  uploadRoot,
		log:         log,
	}
}

type RegisterInput struct {
	UserID        uint
	Name          string
	StoragePath   string
	Public        bool
	CollectionIDs []uint
}

// Register records a file that is already on disk under the upload root.
// A new document joins its owner's global collection. When the owner
// already has the same content, the existing document joins the requested
// collections and is returned with ErrDuplicateDocument.
func (s *IndexService) Register(ctx context.Context, in RegisterInput) (*model.Document, error) {
	if in.UserID == 0 || strings.TrimSpace(in.StoragePath) == "" {
		return nil, ErrInvalidInput
	}
	path, err := s.resolvePath(in.StoragePath)
	if err != nil {
		return nil, err
	}
	sum, err := fileSHA256(path)
	if err != nil {
		return nil, err
	}

	var requested []*model.Collection
	for _, id := range in.CollectionIDs {
		c, err := s.collections.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if c == nil || c.UserID != in.UserID || c.CollectionType != model.CollectionDocument {
			return nil, fmt.Errorf("%w: collection %d", ErrInvalidInput, id)
		}
		requested = append(requested, c)
	}

	existing, err := s.documents.GetByUserAndSHA256(ctx, in.UserID, sum)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := s.documents.Link(ctx, existing, requested...); err != nil {
			return nil, err
		}
		return existing, ErrDuplicateDocument
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = filepath.Base(path)
	}
	all, err := s.collections.GetOrCreateByName(ctx, in.UserID, model.AllDocsCollection, AllDocsLoc(in.UserID))
	if err != nil {
		return nil, err
	}
	doc := &model.Document{
		UserID:      in.UserID,
		Name:        name,
		StoragePath: path,
		SHA256:      sum,
		Public:      in.Public,
	}
	if err := s.documents.Create(ctx, doc, append([]*model.Collection{all}, requested...)...); err != nil {
		return nil, err
	}
	return doc, nil
}

// resolvePath maps a client path onto the upload root. Relative paths are
// taken from the root; symlinks are followed before the containment check.
func (s *IndexService) resolvePath(p string) (string, error) {
	if s.uploadRoot == "" {
		return "", ErrPathNotAllowed
	}
	root, err := filepath.Abs(s.uploadRoot)
	if err != nil {
		return "", fmt.Errorf("resolve upload root failed: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, full)
	}
	full = filepath.Clean(full)
	if !within(root, full) {
		return "", ErrPathNotAllowed
	}
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		return "", fmt.Errorf("open document failed: %w", err)
	}
	if !within(root, resolved) {
		return "", ErrPathNotAllowed
	}
	return resolved, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Enqueue schedules indexing of a document into loc and returns the job.
// The document must be the caller's or public, and loc must belong to the
// caller: their global collection, one of their threads or one of their
// document collections.
func (s *IndexService) Enqueue(ctx context.Context, userID, documentID uint, loc string) (*model.IndexJob, error) {
	if userID == 0 || documentID == 0 || strings.TrimSpace(loc) == "" {
		return nil, ErrInvalidInput
	}
	doc, err := s.documents.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil || (doc.UserID != userID && !doc.Public) {
		return nil, ErrDocumentNotFound
	}
	owned, err := s.ownsLoc(ctx, userID, loc)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, ErrLocForbidden
	}
	if s.publisher == nil {
		return nil, ErrJobEnqueue
	}
	job := model.IndexJob{JobID: uuid.NewString(), DocumentID: documentID, StoreLoc: loc}
	s.report(ctx, cache.Progress{JobID: job.JobID, Status: cache.StatusQueued})
	if err := s.publisher.PublishIndexJob(ctx, job); err != nil {
		s.report(ctx, cache.Progress{JobID: job.JobID, Status: cache.StatusFailed, Message: "enqueue failed"})
		return nil, fmt.Errorf("%w: %v", ErrJobEnqueue, err)
	}
	return &job, nil
}

func (s *IndexService) ownsLoc(ctx context.Context, userID uint, loc string) (bool, error) {
	if loc == AllDocsLoc(userID) {
		return true, nil
	}
	if s.threads != nil {
		ok, err := s.threads.OwnsLoc(ctx, userID, loc)
		if err != nil || ok {
			return ok, err
		}
	}
	return s.collections.OwnsLoc(ctx, userID, loc)
}

// Progress returns the job state. A finished or failed job is read once;
// its entry is cleared after it has been returned.
func (s *IndexService) Progress(ctx context.Context, jobID string) (*cache.Progress, error) {
	if s.progress == nil {
		return nil, nil
	}
	p, err := s.progress.Get(ctx, jobID)
	if err != nil || p == nil {
		return p, err
	}
	if p.Status == cache.StatusDone || p.Status == cache.StatusFailed {
		if err := s.progress.Clear(ctx, jobID); err != nil {
			s.log.Warn("clear job progress failed", "job_id", jobID, "err", err)
		}
	}
	return p, nil
}

// IndexDocument extracts, chunks and embeds one document into the job's
// location. Chunk ids are "{document_id}_{index}".
func (s *IndexService) IndexDocument(ctx context.Context, job model.IndexJob) (int, error) {
	n, err := s.indexDocument(ctx, job)
	if err != nil {
		s.report(ctx, cache.Progress{JobID: job.JobID, Status: cache.StatusFailed, Message: err.Error()})
		return 0, err
	}
	s.report(ctx, cache.Progress{JobID: job.JobID, Status: cache.StatusDone, Done: n, Total: n})
	return n, nil
}

func (s *IndexService) indexDocument(ctx context.Context, job model.IndexJob) (int, error) {
	doc, err := s.documents.GetByID(ctx, job.DocumentID)
	if err != nil {
		return 0, err
	}
	if doc == nil {
		return 0, ErrDocumentNotFound
	}
	text, err := textextract.File(doc.StoragePath)
	if err != nil {
		return 0, err
	}
	chunks := textextract.Chunk(text, defaultChunkSize, defaultChunkOverlap)
	if len(chunks) == 0 {
		return 0, ErrDocumentEmpty
	}

	records := make([]vectorstore.Record, 0, len(chunks))
	for i := 0; i < len(chunks); i += embeddingBatchSize {
		end := i + embeddingBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[i:end]
		vectors, err := s.embedder.EmbedBatch(ctx, batch)
		if err != nil {
			return 0, fmt.Errorf("embed chunks failed: %w", err)
		}
		if len(vectors) != len(batch) {
			return 0, errors.New("embedding count mismatch")
		}
		for j, vec := range vectors {
			records = append(records, vectorstore.Record{
				ID:         model.ChunkID(doc.ID, i+j),
				DocumentID: doc.ID,
				Text:       batch[j],
				Embedding:  vec,
			})
		}
		s.report(ctx, cache.Progress{JobID: job.JobID, Status: cache.StatusRunning, Done: end, Total: len(chunks)})
	}

	// re-indexing replaces the previous chunks of the document
	if err := s.store.DeleteDocument(ctx, job.StoreLoc, doc.ID); err != nil {
		return 0, err
	}
	if err := s.store.Upsert(ctx, job.StoreLoc, records); err != nil {
		return 0, err
	}
	s.log.Info("document indexed", "document_id", doc.ID, "store_loc", job.StoreLoc, "chunks", len(records))
	return len(records), nil
}

func (s *IndexService) report(ctx context.Context, p cache.Progress) {
	if s.progress == nil || p.JobID == "" {
		return
	}
	if err := s.progress.Set(ctx, p); err != nil {
		s.log.Warn("record job progress failed", "job_id", p.JobID, "err", err)
	}
}

// AllDocsLoc is the store location of a user's global collection.
func AllDocsLoc(userID uint) string {
	return fmt.Sprintf("users/%d/all_docs", userID)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open document failed: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash document failed: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
