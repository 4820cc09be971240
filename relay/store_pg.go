package relay

import (
	"context"
	"errors"

	"github.com/golang/glog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sketchsync/sketch/protocol"
)

const pgRoomStoreSchema = `
CREATE TABLE IF NOT EXISTS board_documents (
	room TEXT PRIMARY KEY,
	state BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)
`

// PgRoomStore saves room state in postgres, one row per room.
type PgRoomStore struct {
	pool *pgxpool.Pool
}

func NewPgRoomStore(ctx context.Context, postgresUrl string) (*PgRoomStore, error) {
	pool, err := pgxpool.New(ctx, postgresUrl)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, pgRoomStoreSchema); err != nil {
		pool.Close()
		return nil, err
	}
	glog.Infof("[relay]connected to postgres\n")
	return &PgRoomStore{
		pool: pool,
	}, nil
}

func (self *PgRoomStore) Load(ctx context.Context, room string) (*protocol.Update, error) {
	var stateBytes []byte
	err := self.pool.QueryRow(
		ctx,
		`SELECT state FROM board_documents WHERE room = $1`,
		room,
	).Scan(&stateBytes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	update := &protocol.Update{}
	if err := update.Unmarshal(stateBytes); err != nil {
		return nil, err
	}
	return update, nil
}

func (self *PgRoomStore) Save(ctx context.Context, room string, update *protocol.Update) error {
	return pgx.BeginFunc(ctx, self.pool, func(tx pgx.Tx) error {
		var saved *protocol.Update
		var stateBytes []byte
		err := tx.QueryRow(
			ctx,
			`SELECT state FROM board_documents WHERE room = $1 FOR UPDATE`,
			room,
		).Scan(&stateBytes)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return err
		default:
			saved = &protocol.Update{}
			if err := saved.Unmarshal(stateBytes); err != nil {
				glog.Infof("[relay]%s reset unreadable state = %s\n", room, err)
				saved = nil
			}
		}

		_, err = tx.Exec(
			ctx,
			`
			INSERT INTO board_documents (room, state, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (room) DO UPDATE
			SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at
			`,
			room,
			MergeUpdates(saved, update).Marshal(),
		)
		return err
	})
}

func (self *PgRoomStore) Close() {
	self.pool.Close()
}
