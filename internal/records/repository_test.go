package records

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"daily-reward-api/internal/models"
	"daily-reward-api/internal/store/storetest"
)

func newRecord(id, userID string) models.RewardRecord {
	balance := int64(1_250_000)
	return models.RewardRecord{
		ID:              id,
		UserID:          userID,
		Username:        "name-" + userID,
		TierID:          "t1",
		TierLabel:       "$0.5",
		Value:           decimal.RequireFromString("0.5"),
		Committed:       true,
		CreditedBalance: &balance,
		CreatedAt:       time.Date(2025, 10, 21, 8, 0, 0, 0, time.UTC),
	}
}

func TestAppendThenByUser_RoundTrip(t *testing.T) {
	s, _ := storetest.New(t)
	repo := NewRepository(s, DefaultOptions(), nil)
	ctx := context.Background()

	repo.Append(ctx, "2025-10-21", newRecord("1", "u1"))
	want := newRecord("2", "u1")
	repo.Append(ctx, "2025-10-21", want)

	got, err := repo.ByUser(ctx, "u1", 1)
	if err != nil {
		t.Fatalf("ByUser failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(got))
	}
	if !got[0].Value.Equal(want.Value) {
		t.Errorf("Expected value %s, got %s", want.Value, got[0].Value)
	}
	got[0].Value = want.Value
	if !reflect.DeepEqual(got[0], want) {
		t.Errorf("Round trip mismatch:\n got  %+v\n want %+v", got[0], want)
	}
}

func TestAppend_WritesAllIndices(t *testing.T) {
	s, mr := storetest.New(t)
	repo := NewRepository(s, DefaultOptions(), nil)
	ctx := context.Background()

	repo.Append(ctx, "2025-10-21", newRecord("1", "u1"))
	repo.Append(ctx, "2025-10-21", newRecord("2", "u2"))

	recent, _ := repo.Recent(ctx, 10, 0)
	if len(recent) != 2 || recent[0].ID != "2" {
		t.Errorf("Expected newest-first recent feed, got %+v", recent)
	}
	day, _ := repo.ByDay(ctx, "2025-10-21")
	if len(day) != 2 {
		t.Errorf("Expected 2 archived records, got %d", len(day))
	}
	if ttl := mr.TTL("reward:records:day:2025-10-21"); ttl != DefaultOptions().ArchiveRetention {
		t.Errorf("Expected archive retention TTL, got %v", ttl)
	}
	total, _ := repo.TotalCount(ctx)
	if total != 2 {
		t.Errorf("Expected total 2, got %d", total)
	}
}

func TestAppend_TrimsRings(t *testing.T) {
	s, _ := storetest.New(t)
	repo := NewRepository(s, Options{RecentCapacity: 3, UserCapacity: 2, ArchiveRetention: time.Hour}, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		repo.Append(ctx, "2025-10-21", newRecord(fmt.Sprint(i), "u1"))
	}

	recent, _ := repo.Recent(ctx, 10, 0)
	if len(recent) != 3 {
		t.Errorf("Expected recent ring capped at 3, got %d", len(recent))
	}
	mine, _ := repo.ByUser(ctx, "u1", 10)
	if len(mine) != 2 || mine[0].ID != "4" {
		t.Errorf("Expected user ring capped at 2 newest, got %+v", mine)
	}
	day, _ := repo.ByDay(ctx, "2025-10-21")
	if len(day) != 5 {
		t.Errorf("Expected day archive untrimmed, got %d", len(day))
	}
	total, _ := repo.TotalCount(ctx)
	if total != 5 {
		t.Errorf("Expected total 5, got %d", total)
	}
}

func TestRecent_Offset(t *testing.T) {
	s, _ := storetest.New(t)
	repo := NewRepository(s, DefaultOptions(), nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		repo.Append(ctx, "2025-10-21", newRecord(fmt.Sprint(i), "u1"))
	}
	page, _ := repo.Recent(ctx, 2, 2)
	if len(page) != 2 || page[0].ID != "1" || page[1].ID != "0" {
		t.Errorf("Expected second page [1 0], got %+v", page)
	}
}

func TestTotalCount_SeededFromLegacyList(t *testing.T) {
	s, mr := storetest.New(t)
	ctx := context.Background()
	mr.Lpush("reward:records:all", `{"user_id":1,"amount":0.5,"timestamp":1700000000}`)
	mr.Lpush("reward:records:all", `{"user_id":2,"amount":1,"timestamp":1700000100}`)

	repo := NewRepository(s, DefaultOptions(), nil)
	total, err := repo.TotalCount(ctx)
	if err != nil || total != 2 {
		t.Fatalf("Expected legacy-seeded total 2, got %d err=%v", total, err)
	}

	repo.Append(ctx, "2025-10-21", newRecord("x", "u3"))
	total, _ = repo.TotalCount(ctx)
	if total != 3 {
		t.Errorf("Expected 3 after append, got %d", total)
	}
}

func TestRecent_FallsBackToLegacyList(t *testing.T) {
	s, mr := storetest.New(t)
	mr.Lpush("reward:records:all", `{"user_id":7,"username":"old","prize_name":"Half","amount":0.5,"timestamp":1700000000}`)
	mr.Lpush("reward:records:all", `not json`)

	repo := NewRepository(s, DefaultOptions(), nil)
	recent, err := repo.Recent(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 1 || recent[0].UserID != "7" || recent[0].TierLabel != "Half" {
		t.Errorf("Expected one normalized legacy record, got %+v", recent)
	}
}

func TestMarkCommitted_RelabelsEveryIndex(t *testing.T) {
	s, _ := storetest.New(t)
	repo := NewRepository(s, DefaultOptions(), nil)
	ctx := context.Background()

	rec := newRecord("99", "u1")
	rec.Committed = false
	rec.CreditedBalance = nil
	repo.Append(ctx, "2025-10-21", newRecord("98", "u1"))
	repo.Append(ctx, "2025-10-21", rec)

	balance := int64(777)
	if err := repo.MarkCommitted(ctx, "2025-10-21", rec, &balance); err != nil {
		t.Fatalf("MarkCommitted failed: %v", err)
	}

	check := func(name string, list []models.RewardRecord) {
		for _, r := range list {
			if r.ID != "99" {
				continue
			}
			if !r.Committed || r.CreditedBalance == nil || *r.CreditedBalance != 777 {
				t.Errorf("%s: expected committed record with balance 777, got %+v", name, r)
			}
			if !r.Value.Equal(rec.Value) {
				t.Errorf("%s: value changed to %s", name, r.Value)
			}
			return
		}
		t.Errorf("%s: record 99 missing", name)
	}
	recent, _ := repo.Recent(ctx, 10, 0)
	check("recent", recent)
	day, _ := repo.ByDay(ctx, "2025-10-21")
	check("day", day)
	mine, _ := repo.ByUser(ctx, "u1", 10)
	check("user", mine)
	if len(mine) != 2 {
		t.Errorf("Expected relabel not to add records, got %d", len(mine))
	}
}
