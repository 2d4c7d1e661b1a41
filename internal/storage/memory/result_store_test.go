package memory

import (
	"context"
	"errors"
	"testing"

	"coin-journal/internal/domain"
	"coin-journal/internal/storage"
)

func result(id string, tradeID int64, createdAt int64, score float64) *domain.EvaluationResult {
	return &domain.EvaluationResult{
		ResultID:  id,
		TradeID:   tradeID,
		JobID:     "job-" + id,
		Payload:   domain.ResultPayload{Score: score},
		CreatedAt: createdAt,
	}
}

func TestResultInsertAndGetLatest(t *testing.T) {
	s := NewResultStore()
	ctx := context.Background()

	if err := s.Insert(ctx, result("r1", 100, 1000, 0.5)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := s.GetLatestByTrade(ctx, 100)
	if err != nil {
		t.Fatalf("GetLatestByTrade() error = %v", err)
	}
	if got.ResultID != "r1" {
		t.Errorf("ResultID = %s, want r1", got.ResultID)
	}
	if got.Payload.Score != 0.5 {
		t.Errorf("Score = %v, want 0.5", got.Payload.Score)
	}
}

func TestResultAppendOnlyLatestWins(t *testing.T) {
	s := NewResultStore()
	ctx := context.Background()

	if err := s.Insert(ctx, result("r1", 100, 1000, 0.5)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := s.Insert(ctx, result("r2", 100, 2000, 0.8)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := s.GetLatestByTrade(ctx, 100)
	if err != nil {
		t.Fatalf("GetLatestByTrade() error = %v", err)
	}
	if got.ResultID != "r2" {
		t.Errorf("latest = %s, want r2", got.ResultID)
	}

	all, err := s.ListByTrade(ctx, 100)
	if err != nil {
		t.Fatalf("ListByTrade() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListByTrade() returned %d results, want 2", len(all))
	}
	if all[0].ResultID != "r2" || all[1].ResultID != "r1" {
		t.Errorf("order = [%s, %s], want [r2, r1]", all[0].ResultID, all[1].ResultID)
	}
}

func TestResultLatestTieBreaksOnResultID(t *testing.T) {
	s := NewResultStore()
	ctx := context.Background()

	// Same CreatedAt: the higher result id wins, deterministically.
	if err := s.Insert(ctx, result("a", 100, 1000, 0.1)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := s.Insert(ctx, result("b", 100, 1000, 0.2)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := s.GetLatestByTrade(ctx, 100)
	if err != nil {
		t.Fatalf("GetLatestByTrade() error = %v", err)
	}
	if got.ResultID != "b" {
		t.Errorf("latest = %s, want b", got.ResultID)
	}
}

func TestResultDuplicateID(t *testing.T) {
	s := NewResultStore()
	ctx := context.Background()

	if err := s.Insert(ctx, result("r1", 100, 1000, 0.5)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := s.Insert(ctx, result("r1", 100, 2000, 0.9)); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Insert(duplicate) error = %v, want ErrDuplicateKey", err)
	}
}

func TestResultGetLatestNotFound(t *testing.T) {
	s := NewResultStore()
	if _, err := s.GetLatestByTrade(context.Background(), 999); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetLatestByTrade() error = %v, want ErrNotFound", err)
	}
}

func TestResultListIsolatedByTrade(t *testing.T) {
	s := NewResultStore()
	ctx := context.Background()

	if err := s.Insert(ctx, result("r1", 100, 1000, 0.5)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := s.Insert(ctx, result("r2", 101, 1000, 0.6)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	all, err := s.ListByTrade(ctx, 100)
	if err != nil {
		t.Fatalf("ListByTrade() error = %v", err)
	}
	if len(all) != 1 || all[0].ResultID != "r1" {
		t.Errorf("ListByTrade(100) = %v, want only r1", all)
	}
}

func TestResultInvalidInput(t *testing.T) {
	s := NewResultStore()
	ctx := context.Background()

	if err := s.Insert(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Insert(nil) error = %v, want ErrInvalidInput", err)
	}
	if err := s.Insert(ctx, &domain.EvaluationResult{TradeID: 100}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Insert(no id) error = %v, want ErrInvalidInput", err)
	}
}

func TestResultListRecent(t *testing.T) {
	s := NewResultStore()
	ctx := context.Background()

	for _, r := range []*domain.EvaluationResult{
		result("r1", 100, 1000, 0.2),
		result("r2", 200, 2000, 0.5),
		result("r3", 300, 3000, 0.8),
	} {
		if err := s.Insert(ctx, r); err != nil {
			t.Fatalf("Insert(%s) error = %v", r.ResultID, err)
		}
	}

	got, err := s.ListRecent(ctx, 2000, 10)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(got))
	}
	if got[0].ResultID != "r3" || got[1].ResultID != "r2" {
		t.Errorf("order = [%s, %s], want [r3, r2]", got[0].ResultID, got[1].ResultID)
	}
}

func TestResultListRecentRespectsLimit(t *testing.T) {
	s := NewResultStore()
	ctx := context.Background()

	for _, r := range []*domain.EvaluationResult{
		result("r1", 100, 1000, 0.2),
		result("r2", 200, 2000, 0.5),
		result("r3", 300, 3000, 0.8),
	} {
		if err := s.Insert(ctx, r); err != nil {
			t.Fatalf("Insert(%s) error = %v", r.ResultID, err)
		}
	}

	got, err := s.ListRecent(ctx, 0, 2)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(got))
	}
	if got[0].ResultID != "r3" || got[1].ResultID != "r2" {
		t.Errorf("order = [%s, %s], want [r3, r2]", got[0].ResultID, got[1].ResultID)
	}

	if _, err := s.ListRecent(ctx, 0, 0); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("ListRecent(limit=0) error = %v, want ErrInvalidInput", err)
	}
}
