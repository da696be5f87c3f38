package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MardaOneli/WaBot/internal/codec"
	"github.com/MardaOneli/WaBot/internal/msgcache"
)

const (
	selectQuery = `SELECT chat, id, sender, from_me, text, ts, poll, votes FROM cached_messages ORDER BY chat, id`
	upsertQuery = `INSERT INTO cached_messages (chat, id, sender, from_me, text, ts, poll, votes)`
)

var columns = []string{"chat", "id", "sender", "from_me", "text", "ts", "poll", "votes"}

func setupMock(t *testing.T) (*PostgresCacheRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresCacheRepository(db), mock
}

func mustCBOR(t *testing.T, v any) []byte {
	t.Helper()
	b, err := codec.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestLoad_Success(t *testing.T) {
	repo, mock := setupMock(t)

	poll := &msgcache.PollDef{Name: "lunch", Options: []string{"pizza", "salad"}}
	votes := []msgcache.VoteRecord{{Voter: "alice", Selected: [][]byte{{1, 2}}, At: 42}}

	mock.ExpectQuery(regexp.QuoteMeta(selectQuery)).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("1@s.whatsapp.net", "A", "1@s.whatsapp.net", false, "hi", int64(100), nil, nil).
			AddRow("g@g.us", "P", "2@s.whatsapp.net", true, "", int64(200), mustCBOR(t, poll), mustCBOR(t, votes)))

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, msgcache.Record{
		Key: msgcache.Key{Chat: "1@s.whatsapp.net", ID: "A"}, Sender: "1@s.whatsapp.net", Text: "hi", Timestamp: 100,
	}, got[0])
	assert.Equal(t, poll, got[1].Poll)
	assert.Equal(t, votes, got[1].Votes)
	assert.True(t, got[1].FromMe)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_QueryError(t *testing.T) {
	repo, mock := setupMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(selectQuery)).WillReturnError(errors.New("relation does not exist"))

	_, err := repo.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load cached messages")
}

func TestLoad_CorruptPoll(t *testing.T) {
	repo, mock := setupMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(selectQuery)).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("g@g.us", "P", "", false, "", int64(1), []byte{0xff, 0x00}, nil))

	_, err := repo.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode poll g@g.us/P")
}

func TestSave_UpsertsInTransaction(t *testing.T) {
	repo, mock := setupMock(t)

	records := []msgcache.Record{
		{Key: msgcache.Key{Chat: "a", ID: "1"}, Sender: "a", Text: "one", Timestamp: 1},
		{Key: msgcache.Key{Chat: "g", ID: "P"}, Timestamp: 2, Poll: &msgcache.PollDef{Name: "q", Options: []string{"x"}}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(upsertQuery)).
		WithArgs("a", "1", "a", false, "one", int64(1), nil, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(upsertQuery)).
		WithArgs("g", "P", "", false, "", int64(2), mustCBOR(t, records[1].Poll), nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Save(context.Background(), records))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_RollsBackOnError(t *testing.T) {
	repo, mock := setupMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(upsertQuery)).
		WithArgs(anyArgs(8)...).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), []msgcache.Record{{Key: msgcache.Key{Chat: "a", ID: "1"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert a/1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveThenLoad_RoundTrip(t *testing.T) {
	repo, mock := setupMock(t)

	want := []msgcache.Record{
		{Key: msgcache.Key{Chat: "a", ID: "1"}, Sender: "a", Text: "hello", Timestamp: 10},
		{Key: msgcache.Key{Chat: "b", ID: "2"}, Sender: "b", FromMe: true, Text: "world", Timestamp: 11},
	}

	// capture what Save writes and feed it back to Load
	rows := sqlmock.NewRows(columns)
	mock.ExpectBegin()
	for _, r := range want {
		mock.ExpectExec(regexp.QuoteMeta(upsertQuery)).
			WithArgs(r.Key.Chat, r.Key.ID, r.Sender, r.FromMe, r.Text, r.Timestamp, nil, nil).
			WillReturnResult(sqlmock.NewResult(1, 1))
		rows.AddRow(r.Key.Chat, r.Key.ID, r.Sender, r.FromMe, r.Text, r.Timestamp, nil, nil)
	}
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta(selectQuery)).WillReturnRows(rows)

	require.NoError(t, repo.Save(context.Background(), want))
	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func anyArgs(n int) []driver.Value {
	out := make([]driver.Value, n)
	for i := range out {
		out[i] = sqlmock.AnyArg()
	}
	return out
}
