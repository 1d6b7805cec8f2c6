package memory

// RankingStrategy orders an agent's live memory records for recall.
//
// Recall always passes the caller's query text through to the strategy. The
// default strategy ignores it entirely and preserves the store's
// importance/recency ordering; a semantic strategy (embeddings, keyword
// scoring) can be dropped in here without changing the Store API or the
// recall side effects. Callers should not assume the query influences
// results unless they installed a strategy that uses it.
type RankingStrategy interface {
	// Rank reorders candidates for the given query. Candidates arrive
	// already filtered to live records and sorted by importance descending,
	// creation time descending. Rank must not mutate the input slice
	// elements; it may return the slice reordered or truncated.
	Rank(query string, candidates []Record) []Record
}

// recencyImportanceRanking is the default strategy: importance descending,
// then creation time descending, exactly as the store query returns them.
// The query text is deliberately unused.
type recencyImportanceRanking struct{}

func (recencyImportanceRanking) Rank(_ string, candidates []Record) []Record {
	return candidates
}

// DefaultRanking returns the recency/importance strategy used when no
// explicit strategy is configured.
func DefaultRanking() RankingStrategy {
	return recencyImportanceRanking{}
}
