package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store. It backs tests and dry runs; semantics
// match the PostgreSQL store, including insert idempotency and scan order.
type MemoryStore struct {
	mu        sync.RWMutex
	reference string
	records   map[string]TxRecord
	results   map[string]ProcessingResult
}

// NewMemoryStore creates an empty store decoding unprocessed rows against
// the given reference account.
func NewMemoryStore(reference string) *MemoryStore {
	return &MemoryStore{
		reference: reference,
		records:   make(map[string]TxRecord),
		results:   make(map[string]ProcessingResult),
	}
}

func (s *MemoryStore) BatchInsert(ctx context.Context, records []TxRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, rec := range records {
		if rec.Hash == "" {
			return inserted, NewDataError("batch_insert", "record without hash", ErrRecordInvalid)
		}
		if _, exists := s.records[rec.Hash]; exists {
			continue
		}
		s.records[rec.Hash] = rec
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) History(ctx context.Context, account string, pftOnly bool) ([]DecodedMemo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []DecodedMemo
	for _, rec := range s.records {
		if rec.Account != account && rec.Destination != account {
			continue
		}
		decoded, ok := DecodeRecord(rec, account)
		if !ok {
			continue
		}
		if pftOnly && decoded.PFTAbsoluteAmount == 0 {
			continue
		}
		out = append(out, decoded)
	}
	sortMemos(out, OrderOldestFirst)
	return out, nil
}

func (s *MemoryStore) UnprocessedTransactions(ctx context.Context, orderBy Order, limit int) ([]DecodedMemo, error) {
	if limit <= 0 {
		return nil, NewQueryError("unprocessed_transactions", "bad limit", ErrInvalidLimit)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []DecodedMemo
	for hash, rec := range s.records {
		if _, done := s.results[hash]; done {
			continue
		}
		decoded, ok := DecodeRecord(rec, s.reference)
		if !ok {
			continue
		}
		out = append(out, decoded)
	}
	sortMemos(out, orderBy)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) RecordResult(ctx context.Context, result ProcessingResult) error {
	if result.TxHash == "" {
		return NewDataError("record_result", "result without tx hash", ErrRecordInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.TxHash] = result
	return nil
}

func (s *MemoryStore) ResultExists(ctx context.Context, txHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.results[txHash]
	return ok, nil
}

func (s *MemoryStore) MaxLedgerIndex(ctx context.Context, account string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max int64
	for _, rec := range s.records {
		if rec.Account != account && rec.Destination != account {
			continue
		}
		if rec.LedgerIndex > max {
			max = rec.LedgerIndex
		}
	}
	return max, nil
}

// Results returns a copy of the recorded processing results, keyed by tx
// hash.
func (s *MemoryStore) Results() map[string]ProcessingResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]ProcessingResult, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

// Len returns the number of cached transactions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func sortMemos(memos []DecodedMemo, orderBy Order) {
	sort.Slice(memos, func(i, j int) bool {
		a, b := memos[i], memos[j]
		if orderBy == OrderNewestFirst {
			a, b = b, a
		}
		if !a.Datetime.Equal(b.Datetime) {
			return a.Datetime.Before(b.Datetime)
		}
		if a.LedgerIndex != b.LedgerIndex {
			return a.LedgerIndex < b.LedgerIndex
		}
		return a.Hash < b.Hash
	})
}
