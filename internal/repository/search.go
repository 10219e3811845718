package repository

import (
	"context"
	"errors"

	"github.com/session-foundation/session-desktop-sub001/internal/models"

	"gorm.io/gorm"
)

// ErrSearchUnavailable is returned when the sqlite build lacks the fts5
// module and no full-text index exists.
var ErrSearchUnavailable = errors.New("full-text search is not available")

// Snippet markers handed to fts5 snippet(). The UI splits on these to
// highlight the matched terms.
const (
	snippetOpen     = "<<left>>"
	snippetClose    = "<<right>>"
	snippetEllipsis = "..."
	snippetTokens   = 5

	// Candidate pool for the relevance phase. Only the candidates that
	// survive the recency re-sort get snippets computed.
	searchCandidateCap = 1000
)

// SearchResult is a message that matched a full-text query, with a snippet of
// the matched region.
type SearchResult struct {
	models.Message
	Snippet string `json:"snippet" gorm:"column:snippet"`
}

// syncFTSRow mirrors a message body into the full-text shadow table, keyed by
// the message row's rowid. Must run inside the same transaction as the
// message write so the index never drifts.
func (s *messageStore) syncFTSRow(tx *gorm.DB, msg *models.Message) error {
	if !s.opts.FTSEnabled {
		return nil
	}
	var rowid int64
	if err := tx.Raw("SELECT rowid FROM messages WHERE id = ?", msg.ID).Scan(&rowid).Error; err != nil {
		return err
	}
	if err := tx.Exec("DELETE FROM messages_fts WHERE rowid = ?", rowid).Error; err != nil {
		return err
	}
	if msg.Body == "" {
		return nil
	}
	return tx.Exec("INSERT INTO messages_fts(rowid, body) VALUES (?, ?)", rowid, msg.Body).Error
}

func (s *messageStore) dropFTSByIDs(tx *gorm.DB, ids []string) error {
	if !s.opts.FTSEnabled || len(ids) == 0 {
		return nil
	}
	return tx.Exec(
		"DELETE FROM messages_fts WHERE rowid IN (SELECT rowid FROM messages WHERE id IN ?)", ids,
	).Error
}

func (s *messageStore) dropFTSByConversation(tx *gorm.DB, conversationID string) error {
	if !s.opts.FTSEnabled {
		return nil
	}
	return tx.Exec(
		"DELETE FROM messages_fts WHERE rowid IN (SELECT rowid FROM messages WHERE conversation_id = ?)",
		conversationID,
	).Error
}

// SearchMessages runs a two-phase query: fts5 rank selects the candidate pool,
// then the pool is re-sorted by the conversation ordering key so users see
// recent matches first. Snippets are computed only for the page that is
// actually returned.
func (s *messageStore) SearchMessages(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if !s.opts.FTSEnabled {
		return nil, ErrSearchUnavailable
	}
	if query == "" {
		return nil, models.NewValidationError("search query is required")
	}
	if limit <= 0 || limit > searchCandidateCap {
		limit = searchCandidateCap
	}
	defer s.metrics.TrackQuery("search", "messages")()

	var rowids []int64
	err := s.db.WithContext(ctx).Raw(
		"SELECT rowid FROM messages_fts WHERE messages_fts MATCH ? ORDER BY rank LIMIT ?",
		query, searchCandidateCap,
	).Scan(&rowids).Error
	if err != nil {
		s.log.LogError(ctx, err, "search")
		return nil, err
	}
	if len(rowids) == 0 {
		return []SearchResult{}, nil
	}

	var results []SearchResult
	err = s.db.WithContext(ctx).Raw(
		`SELECT messages.*,
		        snippet(messages_fts, -1, ?, ?, ?, ?) AS snippet
		   FROM messages_fts
		   JOIN messages ON messages.rowid = messages_fts.rowid
		  WHERE messages_fts.rowid IN ?
		    AND messages_fts MATCH ?
		  ORDER BY `+orderingExpr+` DESC
		  LIMIT ?`,
		snippetOpen, snippetClose, snippetEllipsis, snippetTokens,
		rowids, query, limit,
	).Scan(&results).Error
	if err != nil {
		s.log.LogError(ctx, err, "search")
		return nil, err
	}
	s.log.LogRead(ctx, "search", map[string]interface{}{"matches": len(results)})
	return results, nil
}
