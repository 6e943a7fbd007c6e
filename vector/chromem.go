package vector

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	_ "modernc.org/sqlite"

	"github.com/shopfloor-ai/recall/core"
)

// Index families. The SQLite chunk index enforces each family's uniqueness
// discipline; chromem holds the embeddings and answers similarity queries.
const (
	familyIncident  = "incident"
	familyKnowledge = "knowledge"
	familyDashboard = "dashboard"
	familyReference = "reference"
	familyProfile   = "profile"
)

const chunkIndexSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	family        TEXT NOT NULL,
	tenant_id     TEXT NOT NULL,
	entity_id     TEXT NOT NULL,
	discriminator TEXT NOT NULL DEFAULT '',
	content_hash  TEXT NOT NULL,
	doc_id        TEXT NOT NULL,
	updated_at    INTEGER NOT NULL,
	PRIMARY KEY (family, tenant_id, entity_id, discriminator, content_hash)
);
`

// ChromemStore implements Store on chromem-go, an embedded pure-Go vector
// database, with a SQLite content-hash index for the per-family dedup
// disciplines. Collections are namespaced per family and tenant.
type ChromemStore struct {
	db       *chromem.DB
	idx      *sql.DB
	embedder Embedder
	dims     int

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// NewChromemStore opens the vector store under dataDir. Pass ":memory:" for
// a fully in-memory store (tests). The embedder's dimensionality must match
// dims; a disagreement is a deployment configuration error.
func NewChromemStore(dataDir string, embedder Embedder, dims int) (*ChromemStore, error) {
	if embedder.Dimensions() != dims {
		return nil, fmt.Errorf("%w: store configured for %d, embedder produces %d",
			ErrDimensionMismatch, dims, embedder.Dimensions())
	}

	var (
		db  *chromem.DB
		dsn string
		err error
	)
	if dataDir == ":memory:" {
		db = chromem.NewDB()
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		db, err = chromem.NewPersistentDB(filepath.Join(dataDir, "vectors"), false)
		if err != nil {
			return nil, fmt.Errorf("opening chromem store: %w", err)
		}
		dsn = filepath.Join(dataDir, "chunks.db")
	}

	idx, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening chunk index: %w", err)
	}
	idx.SetMaxOpenConns(1)
	if _, err := idx.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		idx.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := idx.Exec(chunkIndexSchema); err != nil {
		idx.Close()
		return nil, fmt.Errorf("applying chunk index schema: %w", err)
	}

	return &ChromemStore{
		db:          db,
		idx:         idx,
		embedder:    embedder,
		dims:        dims,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// Close releases the chunk index. chromem keeps everything in memory or on
// plain files; it has nothing to close.
func (s *ChromemStore) Close() error {
	return s.idx.Close()
}

// collection returns the chromem collection for a family and tenant,
// creating it on first use.
func (s *ChromemStore) collection(family, tenantID string) (*chromem.Collection, error) {
	name := family + "_" + tenantID

	s.mu.RLock()
	col, ok := s.collections[name]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[name]; ok {
		return col, nil
	}

	// No embedding func: we always provide embeddings, and the default
	// distance is cosine, which is what every family uses.
	col, err := s.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get or create collection %s: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

// embed runs the embedding call and enforces the dimension invariant.
func (s *ChromemStore) embed(ctx context.Context, text string) ([]float32, error) {
	emb, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(emb) != s.dims {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, s.dims, len(emb))
	}
	return emb, nil
}

func (s *ChromemStore) checkQueryDims(emb []float32) error {
	if len(emb) != s.dims {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, s.dims, len(emb))
	}
	return nil
}

// UpsertIncident writes one incident-memory slot. Discipline:
// last-write-wins, one logical slot per (tenant, check-in, slot). The hash
// check is not needed for correctness but lets an unchanged snapshot skip
// the embedding call entirely.
func (s *ChromemStore) UpsertIncident(ctx context.Context, scope core.ResolvedScope, slot IncidentSlot, text string) (UpsertResult, error) {
	hash := ContentHash([]string{scope.TenantID, scope.CheckinID, string(slot)}, text)

	var existing string
	err := s.idx.QueryRowContext(ctx, `
		SELECT content_hash FROM chunks
		WHERE family = ? AND tenant_id = ? AND entity_id = ? AND discriminator = ?`,
		familyIncident, scope.TenantID, scope.CheckinID, string(slot)).Scan(&existing)
	if err != nil && err != sql.ErrNoRows {
		return UpsertResult{}, fmt.Errorf("incident hash lookup: %w", err)
	}
	if existing == hash {
		log.Printf("[VECTOR] Incident %s/%s unchanged, skipping embed", scope.CheckinID, slot)
		return UpsertResult{Written: false, Hash: hash}, nil
	}

	emb, err := s.embed(ctx, text)
	if err != nil {
		return UpsertResult{}, err
	}

	col, err := s.collection(familyIncident, scope.TenantID)
	if err != nil {
		return UpsertResult{}, err
	}
	docID := fmt.Sprintf("inc|%s|%s|%s", scope.TenantID, scope.CheckinID, slot)
	err = col.AddDocument(ctx, chromem.Document{
		ID:        docID,
		Content:   text,
		Embedding: emb,
		Metadata: map[string]string{
			"checkin_id":   scope.CheckinID,
			"slot":         string(slot),
			"status":       scope.CheckinStatus,
			"project_name": scope.ProjectName,
			"part_number":  scope.PartNumber,
			"legacy_id":    scope.LegacyID,
			"content_hash": hash,
		},
	})
	if err != nil {
		return UpsertResult{}, fmt.Errorf("add incident document: %w", err)
	}

	if err := s.replaceSlot(ctx, familyIncident, scope.TenantID, scope.CheckinID, string(slot), hash, docID); err != nil {
		return UpsertResult{}, err
	}
	log.Printf("[VECTOR] Upserted incident vector: checkin=%s slot=%s", scope.CheckinID, slot)
	return UpsertResult{Written: true, Hash: hash}, nil
}

// AppendDashboard inserts a dashboard update if its content is new for the
// tenant. Discipline: append-only-if-new; a duplicate is a silent no-op.
func (s *ChromemStore) AppendDashboard(ctx context.Context, tenantID string, row core.DashboardRow) (UpsertResult, error) {
	msg := strings.TrimSpace(row.Message)
	if msg == "" {
		return UpsertResult{}, nil
	}
	hash := ContentHash([]string{row.LegacyID, row.ProjectName, row.PartNumber}, msg)

	res, err := s.idx.ExecContext(ctx, `
		INSERT OR IGNORE INTO chunks (family, tenant_id, entity_id, discriminator, content_hash, doc_id, updated_at)
		VALUES (?, ?, '', '', ?, ?, ?)`,
		familyDashboard, tenantID, hash, "dash|"+tenantID+"|"+hash[:16], time.Now().UTC().Unix())
	if err != nil {
		return UpsertResult{}, fmt.Errorf("dashboard index insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return UpsertResult{}, fmt.Errorf("dashboard index insert: %w", err)
	}
	if n == 0 {
		log.Printf("[VECTOR] Dashboard update already stored, skipping embed (hash=%s)", hash[:12])
		return UpsertResult{Written: false, Hash: hash}, nil
	}

	emb, err := s.embed(ctx, msg)
	if err != nil {
		// Keep the index consistent with the vector store.
		s.idx.ExecContext(ctx, `DELETE FROM chunks WHERE family = ? AND tenant_id = ? AND content_hash = ?`,
			familyDashboard, tenantID, hash)
		return UpsertResult{}, err
	}

	col, err := s.collection(familyDashboard, tenantID)
	if err != nil {
		return UpsertResult{}, err
	}
	err = col.AddDocument(ctx, chromem.Document{
		ID:        "dash|" + tenantID + "|" + hash[:16],
		Content:   msg,
		Embedding: emb,
		Metadata: map[string]string{
			"project_name": row.ProjectName,
			"part_number":  row.PartNumber,
			"legacy_id":    row.LegacyID,
			"content_hash": hash,
		},
	})
	if err != nil {
		return UpsertResult{}, fmt.Errorf("add dashboard document: %w", err)
	}
	log.Printf("[VECTOR] Appended dashboard update: legacy=%s", row.LegacyID)
	return UpsertResult{Written: true, Hash: hash}, nil
}

// SyncControlPoint reconciles a control point's knowledge chunks with the
// desired set. Discipline: stable-set-with-pruning; chunks whose hash left
// the set are deleted, chunks already present keep their embedding.
func (s *ChromemStore) SyncControlPoint(ctx context.Context, tenantID string, cp core.ControlPointRow, chunks []KnowledgeChunk) (SyncResult, error) {
	desired := make(map[string]KnowledgeChunk, len(chunks))
	for _, ch := range chunks {
		hash := ContentHash([]string{cp.ID, ch.Type}, ch.Text)
		desired[hash] = ch
	}

	col, err := s.collection(familyKnowledge, tenantID)
	if err != nil {
		return SyncResult{}, err
	}

	meta := func(ch KnowledgeChunk, hash string) map[string]string {
		return map[string]string{
			"ccp_id":       cp.ID,
			"ccp_name":     cp.Name,
			"chunk_type":   ch.Type,
			"source_ref":   ch.SourceRef,
			"project_name": cp.ProjectName,
			"part_number":  cp.PartNumber,
			"legacy_id":    cp.LegacyID,
			"content_hash": hash,
		}
	}
	docID := func(ch KnowledgeChunk, hash string) string {
		return fmt.Sprintf("ccp|%s|%s|%s|%s", tenantID, cp.ID, ch.Type, hash[:16])
	}

	hashes := make(map[string]struct{}, len(desired))
	for h := range desired {
		hashes[h] = struct{}{}
	}
	return s.syncSet(ctx, col, familyKnowledge, tenantID, cp.ID, hashes, func(hash string) (string, string, map[string]string) {
		ch := desired[hash]
		return ch.Text, docID(ch, hash), meta(ch, hash)
	})
}

// SyncReference reconciles one knowledge-base row's chunks with the desired
// set, with the same stable-set discipline as control points.
func (s *ChromemStore) SyncReference(ctx context.Context, tenantID string, row core.ReferenceRow, chunks []string) (SyncResult, error) {
	entity := row.Table + "|" + row.RowID
	desired := make(map[string]string, len(chunks))
	for _, text := range chunks {
		desired[ContentHash([]string{row.Table, row.RowID}, text)] = text
	}

	col, err := s.collection(familyReference, tenantID)
	if err != nil {
		return SyncResult{}, err
	}

	hashes := make(map[string]struct{}, len(desired))
	for h := range desired {
		hashes[h] = struct{}{}
	}
	return s.syncSet(ctx, col, familyReference, tenantID, entity, hashes, func(hash string) (string, string, map[string]string) {
		text := desired[hash]
		return text, fmt.Sprintf("ref|%s|%s|%s|%s", tenantID, row.Table, row.RowID, hash[:16]), map[string]string{
			"table_name":   row.Table,
			"row_id":       row.RowID,
			"content_hash": hash,
		}
	})
}

// UpsertProfile writes the tenant's profile chunk. Discipline:
// last-write-wins, one slot per tenant.
func (s *ChromemStore) UpsertProfile(ctx context.Context, tenantID, text string) (UpsertResult, error) {
	hash := ContentHash([]string{tenantID}, text)

	var existing string
	err := s.idx.QueryRowContext(ctx, `
		SELECT content_hash FROM chunks
		WHERE family = ? AND tenant_id = ? AND entity_id = ? AND discriminator = ?`,
		familyProfile, tenantID, tenantID, "PROFILE").Scan(&existing)
	if err != nil && err != sql.ErrNoRows {
		return UpsertResult{}, fmt.Errorf("profile hash lookup: %w", err)
	}
	if existing == hash {
		return UpsertResult{Written: false, Hash: hash}, nil
	}

	emb, err := s.embed(ctx, text)
	if err != nil {
		return UpsertResult{}, err
	}
	col, err := s.collection(familyProfile, tenantID)
	if err != nil {
		return UpsertResult{}, err
	}
	docID := "prof|" + tenantID
	err = col.AddDocument(ctx, chromem.Document{
		ID:        docID,
		Content:   text,
		Embedding: emb,
		Metadata:  map[string]string{"tenant_id": tenantID, "content_hash": hash},
	})
	if err != nil {
		return UpsertResult{}, fmt.Errorf("add profile document: %w", err)
	}
	if err := s.replaceSlot(ctx, familyProfile, tenantID, tenantID, "PROFILE", hash, docID); err != nil {
		return UpsertResult{}, err
	}
	log.Printf("[VECTOR] Upserted tenant profile: tenant=%s", tenantID)
	return UpsertResult{Written: true, Hash: hash}, nil
}

// replaceSlot swaps the single index row of a last-write-wins slot.
func (s *ChromemStore) replaceSlot(ctx context.Context, family, tenantID, entityID, discriminator, hash, docID string) error {
	tx, err := s.idx.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("slot index update: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chunks WHERE family = ? AND tenant_id = ? AND entity_id = ? AND discriminator = ?`,
		family, tenantID, entityID, discriminator); err != nil {
		return fmt.Errorf("slot index update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chunks (family, tenant_id, entity_id, discriminator, content_hash, doc_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		family, tenantID, entityID, discriminator, hash, docID, time.Now().UTC().Unix()); err != nil {
		return fmt.Errorf("slot index update: %w", err)
	}
	return tx.Commit()
}

// syncSet reconciles an entity's stored chunk hashes with the desired set:
// missing hashes are embedded and added, stale hashes are pruned from both
// the index and the collection.
func (s *ChromemStore) syncSet(
	ctx context.Context,
	col *chromem.Collection,
	family, tenantID, entityID string,
	desired map[string]struct{},
	render func(hash string) (text, docID string, metadata map[string]string),
) (SyncResult, error) {
	rows, err := s.idx.QueryContext(ctx, `
		SELECT content_hash, doc_id FROM chunks
		WHERE family = ? AND tenant_id = ? AND entity_id = ?`,
		family, tenantID, entityID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("chunk set lookup: %w", err)
	}
	existing := make(map[string]string)
	for rows.Next() {
		var hash, docID string
		if err := rows.Scan(&hash, &docID); err != nil {
			rows.Close()
			return SyncResult{}, fmt.Errorf("chunk set lookup: %w", err)
		}
		existing[hash] = docID
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return SyncResult{}, fmt.Errorf("chunk set lookup: %w", err)
	}

	var result SyncResult

	// Add missing chunks.
	for hash := range desired {
		if _, ok := existing[hash]; ok {
			result.Kept++
			continue
		}
		text, docID, metadata := render(hash)
		emb, err := s.embed(ctx, text)
		if err != nil {
			return result, err
		}
		err = col.AddDocument(ctx, chromem.Document{
			ID:        docID,
			Content:   text,
			Embedding: emb,
			Metadata:  metadata,
		})
		if err != nil {
			return result, fmt.Errorf("add chunk document: %w", err)
		}
		if _, err := s.idx.ExecContext(ctx, `
			INSERT INTO chunks (family, tenant_id, entity_id, discriminator, content_hash, doc_id, updated_at)
			VALUES (?, ?, ?, '', ?, ?, ?)`,
			family, tenantID, entityID, hash, docID, time.Now().UTC().Unix()); err != nil {
			return result, fmt.Errorf("chunk index insert: %w", err)
		}
		result.Written++
	}

	// Prune stale chunks.
	var staleIDs []string
	for hash, docID := range existing {
		if _, ok := desired[hash]; !ok {
			staleIDs = append(staleIDs, docID)
			if _, err := s.idx.ExecContext(ctx, `
				DELETE FROM chunks WHERE family = ? AND tenant_id = ? AND entity_id = ? AND content_hash = ?`,
				family, tenantID, entityID, hash); err != nil {
				return result, fmt.Errorf("chunk index prune: %w", err)
			}
			result.Pruned++
		}
	}
	if len(staleIDs) > 0 {
		if err := col.Delete(ctx, nil, nil, staleIDs...); err != nil {
			return result, fmt.Errorf("prune chunk documents: %w", err)
		}
		log.Printf("[VECTOR] Pruned %d stale chunks: family=%s entity=%s", len(staleIDs), family, entityID)
	}

	return result, nil
}

// SearchIncidents queries incident memory by cosine similarity, excluding
// the check-in currently being processed.
func (s *ChromemStore) SearchIncidents(ctx context.Context, q IncidentQuery) ([]IncidentHit, error) {
	if err := s.checkQueryDims(q.Embedding); err != nil {
		return nil, err
	}
	col, err := s.collection(familyIncident, q.TenantID)
	if err != nil {
		return nil, err
	}

	where := map[string]string{}
	if q.Slot != "" {
		where["slot"] = string(q.Slot)
	}
	if q.ProjectName != "" {
		where["project_name"] = q.ProjectName
	}
	if q.PartNumber != "" {
		where["part_number"] = q.PartNumber
	}

	// Over-fetch by the slot count so self-exclusion cannot starve the
	// result list.
	results, err := queryEmbedding(ctx, col, q.Embedding, q.TopK+3, where)
	if err != nil {
		return nil, err
	}

	hits := make([]IncidentHit, 0, len(results))
	for _, r := range results {
		if q.ExcludeCheckinID != "" && r.Metadata["checkin_id"] == q.ExcludeCheckinID {
			continue
		}
		hits = append(hits, IncidentHit{
			CheckinID:   r.Metadata["checkin_id"],
			Slot:        IncidentSlot(r.Metadata["slot"]),
			Text:        r.Content,
			Status:      r.Metadata["status"],
			ProjectName: r.Metadata["project_name"],
			PartNumber:  r.Metadata["part_number"],
			LegacyID:    r.Metadata["legacy_id"],
			Similarity:  r.Similarity,
		})
		if len(hits) == q.TopK {
			break
		}
	}
	return hits, nil
}

// SearchKnowledge queries control-point knowledge chunks.
func (s *ChromemStore) SearchKnowledge(ctx context.Context, q KnowledgeQuery) ([]KnowledgeHit, error) {
	if err := s.checkQueryDims(q.Embedding); err != nil {
		return nil, err
	}
	col, err := s.collection(familyKnowledge, q.TenantID)
	if err != nil {
		return nil, err
	}

	where := map[string]string{}
	if q.ProjectName != "" {
		where["project_name"] = q.ProjectName
	}
	if q.PartNumber != "" {
		where["part_number"] = q.PartNumber
	}

	results, err := queryEmbedding(ctx, col, q.Embedding, q.TopK, where)
	if err != nil {
		return nil, err
	}
	hits := make([]KnowledgeHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, KnowledgeHit{
			ControlPointID: r.Metadata["ccp_id"],
			Name:           r.Metadata["ccp_name"],
			Text:           r.Content,
			SourceRef:      r.Metadata["source_ref"],
			Similarity:     r.Similarity,
		})
	}
	return hits, nil
}

// SearchDashboard queries dashboard updates.
func (s *ChromemStore) SearchDashboard(ctx context.Context, q DashboardQuery) ([]DashboardHit, error) {
	if err := s.checkQueryDims(q.Embedding); err != nil {
		return nil, err
	}
	col, err := s.collection(familyDashboard, q.TenantID)
	if err != nil {
		return nil, err
	}

	where := map[string]string{}
	if q.ProjectName != "" {
		where["project_name"] = q.ProjectName
	}
	if q.PartNumber != "" {
		where["part_number"] = q.PartNumber
	}

	results, err := queryEmbedding(ctx, col, q.Embedding, q.TopK, where)
	if err != nil {
		return nil, err
	}
	hits := make([]DashboardHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, DashboardHit{
			ProjectName: r.Metadata["project_name"],
			PartNumber:  r.Metadata["part_number"],
			LegacyID:    r.Metadata["legacy_id"],
			Message:     r.Content,
			Similarity:  r.Similarity,
		})
	}
	return hits, nil
}

// SearchReference queries the reference knowledge base.
func (s *ChromemStore) SearchReference(ctx context.Context, q ReferenceQuery) ([]ReferenceHit, error) {
	if err := s.checkQueryDims(q.Embedding); err != nil {
		return nil, err
	}
	col, err := s.collection(familyReference, q.TenantID)
	if err != nil {
		return nil, err
	}
	results, err := queryEmbedding(ctx, col, q.Embedding, q.TopK, nil)
	if err != nil {
		return nil, err
	}
	hits := make([]ReferenceHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, ReferenceHit{
			Table:      r.Metadata["table_name"],
			RowID:      r.Metadata["row_id"],
			Text:       r.Content,
			Similarity: r.Similarity,
		})
	}
	return hits, nil
}

// ProfileText returns the tenant's stored profile chunk, or "" when none
// exists. A missing profile is not an error.
func (s *ChromemStore) ProfileText(ctx context.Context, tenantID string) (string, error) {
	col, err := s.collection(familyProfile, tenantID)
	if err != nil {
		return "", err
	}
	doc, err := col.GetByID(ctx, "prof|"+tenantID)
	if err != nil {
		return "", nil
	}
	return doc.Content, nil
}

// queryEmbedding wraps chromem's QueryEmbedding, which errors when asked
// for more results than the collection holds. Retry with smaller limits
// until the query fits; an empty collection yields an empty result.
func queryEmbedding(ctx context.Context, col *chromem.Collection, emb []float32, limit int, where map[string]string) ([]chromem.Result, error) {
	if limit < 1 {
		limit = 1
	}
	for currentLimit := limit; currentLimit >= 1; currentLimit-- {
		results, err := col.QueryEmbedding(ctx, emb, currentLimit, where, nil)
		if err == nil {
			return results, nil
		}
		if isInsufficientDocsError(err) {
			if currentLimit == 1 {
				return nil, nil
			}
			continue
		}
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	return nil, nil
}

// isInsufficientDocsError checks if the error is chromem complaining about
// nResults exceeding the document count.
func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
