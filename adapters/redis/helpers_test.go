package redis

import (
	"io"
	"log/slog"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func setupTest(t *testing.T) (*redis.Client, redismock.ClientMock, func()) {
	db, mock := redismock.NewClientMock()
	return db, mock, func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	}
}

// snapshot 模擬寫入 stream 的商品快照
type snapshot struct {
	ItemID string `msgpack:"itemId"`
	BidID  string `msgpack:"bidId"`
	Amount uint32 `msgpack:"amount"`
}

const snapshotStream = "item-snapshots"
