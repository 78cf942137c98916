package catalog

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// passthrough lets slice arguments reach the mock the way pgx's stdlib
// driver accepts them.
type passthrough struct{}

func (passthrough) ConvertValue(v any) (driver.Value, error) {
	return v, nil
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(passthrough{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewPostgresStore(db), mock
}

func TestPostgresStore_TopVariantsByRevenue(t *testing.T) {
	store, mock := newMockStore(t)
	since := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY SUM(oi.line_total) DESC")).
		WithArgs("s1", since, ExcludedOrderStatuses, 9).
		WillReturnRows(sqlmock.NewRows([]string{"variant_id"}).AddRow("v2").AddRow("v1"))

	ids, err := store.TopVariantsByRevenue(context.Background(), "s1", since, 9)
	require.NoError(t, err)
	assert.Equal(t, []string{"v2", "v1"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadCandidates(t *testing.T) {
	store, mock := newMockStore(t)
	since := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "product_id", "price", "compare_at_price", "available", "units", "revenue", "orders"}).
		AddRow("v1", "p1", "20.00", nil, int64(5), int64(50), "1000.00", int64(40)).
		AddRow("v2", "p1", "35.50", "40.00", int64(0), int64(0), "0", int64(0))

	mock.ExpectQuery(regexp.QuoteMeta("FROM variants v")).
		WithArgs("s1", []string{"v1", "v2"}, since, ExcludedOrderStatuses).
		WillReturnRows(rows)

	cs, err := store.LoadCandidates(context.Background(), "s1", []string{"v1", "v2"}, since)
	require.NoError(t, err)
	require.Len(t, cs, 2)

	assert.Equal(t, 20.0, cs[0].Price)
	assert.Nil(t, cs[0].CompareAtPrice)
	assert.Equal(t, 5, cs[0].Available)
	assert.Equal(t, int64(50), cs[0].Units30d)
	assert.Equal(t, 1000.0, cs[0].Revenue30d)

	require.NotNil(t, cs[1].CompareAtPrice)
	assert.Equal(t, 40.0, *cs[1].CompareAtPrice)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadCandidatesEmpty(t *testing.T) {
	store, mock := newMockStore(t)

	cs, err := store.LoadCandidates(context.Background(), "s1", nil, time.Now())
	require.NoError(t, err)
	assert.Empty(t, cs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SalesWindow(t *testing.T) {
	store, mock := newMockStore(t)
	from := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(7 * 24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("COUNT(DISTINCT o.id)")).
		WithArgs("s1", []string{"v1"}, from, to, ExcludedOrderStatuses).
		WillReturnRows(sqlmock.NewRows([]string{"units", "revenue", "orders"}).AddRow(int64(12), "239.88", int64(9)))

	wm, err := store.SalesWindow(context.Background(), "s1", []string{"v1"}, from, to)
	require.NoError(t, err)
	assert.Equal(t, int64(12), wm.Units)
	assert.Equal(t, 239.88, wm.Revenue)
	assert.Equal(t, int64(9), wm.Orders)
	assert.Equal(t, from, wm.From)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetPrice(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE variants")).
		WithArgs("s1", "v1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE variants")).
		WithArgs("s1", "gone", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ca := 25.0
	require.NoError(t, store.SetPrice(context.Background(), "s1", "v1", 21.99, &ca))

	err := store.SetPrice(context.Background(), "s1", "gone", 10, nil)
	assert.ErrorIs(t, err, ErrVariantNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ScopedVariantIDsError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM variants")).
		WillReturnError(sql.ErrConnDone)

	_, err := store.ScopedVariantIDs(context.Background(), "s1", []string{"v1"})
	assert.ErrorIs(t, err, sql.ErrConnDone)
}
