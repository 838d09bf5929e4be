package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters"
)

var adUnitRowColumns = []string{"id", "network", "format", "server_parameters", "enabled", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*AdUnitStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAdUnitStore(db), mock, db
}

func TestAdUnitStore_Get(t *testing.T) {
	store, mock, _ := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows(adUnitRowColumns).
		AddRow("unit-1", "vungle", "rewarded", []byte(`{"appid":"APP","placementID":"REWARDED-1"}`), true, now, now)
	mock.ExpectQuery("SELECT (.+) FROM ad_units WHERE id = \\$1").
		WithArgs("unit-1").
		WillReturnRows(rows)

	u, err := store.Get(context.Background(), "unit-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Network != "vungle" || u.Format != adapters.FormatRewarded {
		t.Errorf("unexpected ad unit %+v", u)
	}
	if u.ServerParameters.Get("placementID") != "REWARDED-1" {
		t.Errorf("expected placementID, got %v", u.ServerParameters)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAdUnitStore_Get_NonStringParameters(t *testing.T) {
	store, mock, _ := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows(adUnitRowColumns).
		AddRow("unit-2", "nend", "banner", []byte(`{"spotId":3172,"apiKey":"k","extra":null}`), true, now, now)
	mock.ExpectQuery("SELECT (.+) FROM ad_units").WithArgs("unit-2").WillReturnRows(rows)

	u, err := store.Get(context.Background(), "unit-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ServerParameters["spotId"] != "3172" {
		t.Errorf("expected numeric spotId as string, got %q", u.ServerParameters["spotId"])
	}
	if _, ok := u.ServerParameters["extra"]; ok {
		t.Error("expected null parameters to be dropped")
	}
}

func TestAdUnitStore_Get_NotFound(t *testing.T) {
	store, mock, _ := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM ad_units").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	u, err := store.Get(context.Background(), "missing")
	if err != nil || u != nil {
		t.Errorf("expected nil, nil; got %v, %v", u, err)
	}
}

func TestAdUnitStore_Get_Error(t *testing.T) {
	store, mock, _ := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM ad_units").WithArgs("x").WillReturnError(errors.New("connection reset"))

	if _, err := store.Get(context.Background(), "x"); err == nil {
		t.Error("expected error")
	}
}

func TestAdUnitStore_Get_InvalidJSON(t *testing.T) {
	store, mock, _ := newMockStore(t)
	now := time.Now()
	rows := sqlmock.NewRows(adUnitRowColumns).AddRow("bad", "yahoo", "banner", []byte(`{`), true, now, now)
	mock.ExpectQuery("SELECT (.+) FROM ad_units").WithArgs("bad").WillReturnRows(rows)

	if _, err := store.Get(context.Background(), "bad"); err == nil {
		t.Error("expected parse error")
	}
}

func TestAdUnitStore_ServerParametersByNetwork(t *testing.T) {
	store, mock, _ := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows(adUnitRowColumns).
		AddRow("a", "facebook", "banner", []byte(`{"pubid":"1_2"}`), true, now, now).
		AddRow("b", "facebook", "native", []byte(`{"pubid":"1_3"}`), true, now, now).
		AddRow("c", "yandex", "banner", []byte(`{"blockID":"R-M-1-1"}`), true, now, now)
	mock.ExpectQuery("SELECT (.+) FROM ad_units WHERE enabled = true ORDER BY network, id").WillReturnRows(rows)

	grouped, err := store.ServerParametersByNetwork(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(grouped["facebook"]) != 2 || len(grouped["yandex"]) != 1 {
		t.Errorf("unexpected grouping %v", grouped)
	}
}

func TestAdUnitStore_Upsert(t *testing.T) {
	store, mock, _ := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO ad_units").
		WithArgs("unit-1", "yahoo", "banner", sqlmock.AnyArg(), true).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	u := &AdUnit{
		ID:               "unit-1",
		Network:          "yahoo",
		Format:           adapters.FormatBanner,
		ServerParameters: adapters.ServerParameters{"site_id": "s", "placement_id": "p"},
		Enabled:          true,
	}
	if err := store.Upsert(context.Background(), u); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !u.UpdatedAt.Equal(now) {
		t.Errorf("expected timestamps to be filled, got %v", u.UpdatedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAdUnitStore_Upsert_Validation(t *testing.T) {
	store, _, _ := newMockStore(t)

	if err := store.Upsert(context.Background(), &AdUnit{Network: "yahoo", Format: adapters.FormatBanner}); err == nil {
		t.Error("expected error for missing id")
	}
	if err := store.Upsert(context.Background(), &AdUnit{ID: "x", Network: "yahoo", Format: "video"}); err == nil {
		t.Error("expected error for invalid format")
	}
}

func TestAdUnitStore_Disable(t *testing.T) {
	store, mock, _ := newMockStore(t)

	mock.ExpectExec("UPDATE ad_units SET enabled = false").WithArgs("unit-1").WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.Disable(context.Background(), "unit-1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	mock.ExpectExec("UPDATE ad_units SET enabled = false").WithArgs("missing").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.Disable(context.Background(), "missing"); err == nil {
		t.Error("expected not found error")
	}
}
