package storage

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/dgraph-io/badger/v4"

	"github.com/Benny93/contentgraph/internal/content"
)

// Key prefixes for the name index.
const (
	prefixFTSToken = "fts:t:" // fts:t:token:nodeID -> frequency
	prefixFTSNode  = "fts:n:" // fts:n:nodeID:token -> empty, for deletion
)

var (
	camelBoundary  = regexp.MustCompile(`([a-z])([A-Z])`)
	letterDigit    = regexp.MustCompile(`([a-zA-Z])(\d)`)
	digitLetter    = regexp.MustCompile(`(\d)([a-zA-Z])`)
	nonAlphaNumSep = func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }
)

// tokenize splits text into searchable tokens.
// Handles CamelCase, snake_case, dashes and dotted names as found in
// content ids ("PhishingInvestigation", "get-indicators", "Cortex.XDR").
func tokenize(text string) []string {
	tokens := make(map[string]bool)

	whole := strings.ToLower(strings.Join(strings.FieldsFunc(text, nonAlphaNumSep), ""))
	if whole != "" {
		tokens[whole] = true
	}

	split := camelBoundary.ReplaceAllString(text, "$1 $2")
	split = letterDigit.ReplaceAllString(split, "$1 $2")
	split = digitLetter.ReplaceAllString(split, "$1 $2")
	for _, part := range strings.FieldsFunc(split, nonAlphaNumSep) {
		tokens[strings.ToLower(part)] = true
	}
	for _, part := range strings.FieldsFunc(text, nonAlphaNumSep) {
		tokens[strings.ToLower(part)] = true
	}

	result := make([]string, 0, len(tokens))
	for token := range tokens {
		result = append(result, token)
	}
	sort.Strings(result)
	return result
}

// itemText returns the searchable text of an item.
func itemText(item *content.Item) string {
	return item.ObjectID + " " + item.Name + " " + item.DisplayName
}

// indexItem writes the name tokens of an item into txn.
func indexItem(txn *badger.Txn, item *content.Item) error {
	freq := make(map[string]int)
	for _, field := range strings.Fields(itemText(item)) {
		for _, token := range tokenize(field) {
			freq[token]++
		}
	}
	id := item.ID()
	for token, n := range freq {
		if err := txn.Set([]byte(prefixFTSToken+token+":"+id), []byte(strconv.Itoa(n))); err != nil {
			return err
		}
		if err := txn.Set([]byte(prefixFTSNode+id+":"+token), nil); err != nil {
			return err
		}
	}
	return nil
}

// unindexItem removes every token of a node from txn.
func unindexItem(txn *badger.Txn, nodeID string) error {
	prefix := []byte(prefixFTSNode + nodeID + ":")
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)

	var tokens []string
	for it.Rewind(); it.Valid(); it.Next() {
		tokens = append(tokens, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
	}
	it.Close()

	for _, token := range tokens {
		if err := txn.Delete([]byte(prefixFTSToken + token + ":" + nodeID)); err != nil {
			return err
		}
		if err := txn.Delete([]byte(string(prefix) + token)); err != nil {
			return err
		}
	}
	return nil
}

// searchTokens scores nodes by summed token frequency.
func searchTokens(txn *badger.Txn, query string) map[string]float64 {
	scores := make(map[string]float64)
	for _, token := range tokenize(query) {
		prefix := prefixFTSToken + token + ":"
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			nodeID := strings.TrimPrefix(string(item.Key()), prefix)
			var freq int
			_ = item.Value(func(val []byte) error {
				freq, _ = strconv.Atoi(string(val))
				return nil
			})
			scores[nodeID] += float64(freq)
		}
		it.Close()
	}
	return scores
}

// rankResults orders hits by score descending, then id, and applies limit.
func rankResults(results []SearchResult, limit int) []SearchResult {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].NodeID < results[j].NodeID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// scoreItem scores an item against query tokens without an index.
func scoreItem(item *content.Item, queryTokens []string) float64 {
	freq := make(map[string]int)
	for _, field := range strings.Fields(itemText(item)) {
		for _, token := range tokenize(field) {
			freq[token]++
		}
	}
	score := 0.0
	for _, t := range queryTokens {
		score += float64(freq[t])
	}
	return score
}
