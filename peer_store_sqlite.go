package qredit

import (
	"database/sql"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SqlLitePeerStore struct {
	db *sql.DB
	mu sync.Mutex
}

var _ PeerStore = &SqlLitePeerStore{}

func NewSqlLitePeerStore(path string) (store *SqlLitePeerStore, err error) {
	log.Info().Msgf("opening sqlite peer store at: '%s'", path)

	sqldb, err := sql.Open("sqlite3", path)
	if err != nil {
		err = errors.Wrap(err, "failed to open database")
		return
	}

	if err = sqldb.Ping(); err != nil {
		_ = sqldb.Close()
		err = errors.Wrap(err, "failed to ping database")
		return
	}

	store = &SqlLitePeerStore{db: sqldb}
	if err = store.initTables(); err != nil {
		_ = sqldb.Close()
		err = errors.Wrap(err, "failed to init tables")
		return
	}

	return
}

func (s *SqlLitePeerStore) initTables() (err error) {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS peer (
			position INTEGER,
			host TEXT,
			port INTEGER,
			status TEXT,
			version TEXT,
			height INTEGER,
			updated DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (host, port)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_peer_position ON peer(position)`,
	}

	for i, query := range queries {
		_, err = s.db.Exec(query)
		if err != nil {
			err = errors.Wrapf(err, "failed to execute query: %d", i)
			return
		}
	}

	return
}

func (s *SqlLitePeerStore) LoadPeers() (peers []Peer, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT host, port, status, version, height FROM peer ORDER BY position`)
	if err != nil {
		err = errors.Wrap(err, "failed to query peers")
		return
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		peer := Peer{}
		if err = rows.Scan(&peer.Host, &peer.Port, &peer.Status, &peer.Version, &peer.Height); err != nil {
			err = errors.Wrap(err, "failed to scan peer row")
			return
		}
		peers = append(peers, peer)
	}

	err = errors.WithStack(rows.Err())
	return
}

// SavePeers replaces the stored set with peers in a single transaction.
func (s *SqlLitePeerStore) SavePeers(peers []Peer) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`DELETE FROM peer`); err != nil {
		return errors.Wrap(err, "failed to clear peers")
	}

	for i, peer := range peers {
		_, err = tx.Exec(
			`INSERT OR REPLACE INTO peer (position, host, port, status, version, height) VALUES (?, ?, ?, ?, ?, ?)`,
			i, peer.Host, peer.Port, peer.Status, peer.Version, peer.Height,
		)
		if err != nil {
			return errors.Wrapf(err, "failed to insert peer %s", peer)
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit peers")
}

func (s *SqlLitePeerStore) Close() error {
	return errors.WithStack(s.db.Close())
}
