package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"pedagogue/pkg/persistence"
)

// Index is the memory retrieval surface over the record store.
type Index struct {
	db *sql.DB
}

// NewIndex creates an index backed by db.
func NewIndex(db *sql.DB) *Index {
	return &Index{db: db}
}

// Add appends a record. Records are immutable once added; malformed records
// are rejected with ErrInvalidRecord.
func (ix *Index) Add(record *Record) error {
	if err := record.validate(); err != nil {
		return err
	}
	metadata, err := record.metadataJSON()
	if err != nil {
		return err
	}
	return persistence.InsertMemoryRecord(ix.db, &persistence.MemoryRow{
		RecordID:     record.ID,
		RecordType:   record.Type,
		UserID:       record.UserID,
		Content:      record.Content,
		MetadataJSON: metadata,
		CreatedAt:    record.CreatedAt,
	})
}

// ScoredRecord pairs a record with its query relevance.
type ScoredRecord struct {
	Record *Record
	Score  int
}

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9_-]+`)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "from": true,
	"as": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "will": true,
	"would": true, "should": true, "could": true, "may": true, "might": true,
	"must": true, "can": true, "this": true, "that": true, "these": true,
	"those": true, "i": true, "you": true, "he": true, "she": true,
	"it": true, "we": true, "they": true, "what": true, "which": true,
	"who": true, "when": true, "where": true, "why": true, "how": true,
}

// ExtractKeyTerms tokenizes text into lowercased search terms, dropping stop
// words and tokens shorter than three characters. Returns the top 20 terms
// by frequency.
func ExtractKeyTerms(text string) []string {
	tokens := tokenPattern.FindAllString(text, -1)

	freq := make(map[string]int)
	for _, token := range tokens {
		lower := strings.ToLower(token)
		if len(lower) < 3 {
			continue
		}
		if stopWords[lower] {
			continue
		}
		freq[lower]++
	}

	terms := make([]string, 0, len(freq))
	for term := range freq {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})

	if len(terms) > 20 {
		terms = terms[:20]
	}
	return terms
}

func scoreContent(content string, terms []string) int {
	lower := strings.ToLower(content)
	score := 0
	for _, term := range terms {
		score += strings.Count(lower, term)
	}
	return score
}

// Search returns up to limit of a user's records scored against query,
// ordered by relevance then recency. A non-empty cursor resumes a prior
// search; the returned cursor is empty once results are exhausted. Ordering
// is deterministic, so resumed pages never skip or repeat records as long as
// the underlying store only grows.
func (ix *Index) Search(userID, query string, limit int, cursor string) ([]*ScoredRecord, string, error) {
	if limit <= 0 {
		return nil, "", nil
	}

	offset := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil || parsed < 0 {
			return nil, "", fmt.Errorf("invalid search cursor %q", cursor)
		}
		offset = parsed
	}

	rows, err := persistence.ListMemoryRecordsByUser(ix.db, userID)
	if err != nil {
		return nil, "", err
	}

	terms := ExtractKeyTerms(query)

	scored := make([]*ScoredRecord, 0, len(rows))
	for _, row := range rows {
		record := &Record{
			ID:        row.RecordID,
			Type:      row.RecordType,
			UserID:    row.UserID,
			Content:   row.Content,
			CreatedAt: row.CreatedAt,
		}
		if row.MetadataJSON != "" && row.MetadataJSON != "{}" {
			if err := json.Unmarshal([]byte(row.MetadataJSON), &record.Metadata); err != nil {
				return nil, "", fmt.Errorf("corrupt record metadata for %s: %w", row.RecordID, err)
			}
		}
		scored = append(scored, &ScoredRecord{Record: record, Score: scoreContent(row.Content, terms)})
	}

	// Rows arrive newest first, so a stable sort by score keeps recency as
	// the tiebreaker.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if offset >= len(scored) {
		return nil, "", nil
	}
	scored = scored[offset:]

	next := ""
	if len(scored) > limit {
		scored = scored[:limit]
		next = strconv.Itoa(offset + limit)
	}
	return scored, next, nil
}
