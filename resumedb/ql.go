package resumedb

import (
	"database/sql"
	"log"
	"time"

	_ "github.com/cznic/ql/driver"
)

// qlDB implements DB using the embedded cznic/ql database, for
// development and single-process deployments that don't want an
// external MySQL server. Adapted from server/db_ql.go's qlCache,
// narrowed from an item/fixity cache to the single resume table this
// package needs.
type qlDB struct {
	db *sql.DB
}

const qlResumeInit = `
	CREATE TABLE IF NOT EXISTS resume (
		url string,
		byteoffset int,
		updated time
	);
	CREATE INDEX IF NOT EXISTS resumeurl ON resume (url);
`

// NewQL opens a QL-backed DB. filename is the file to store the
// database in; the name "memory" keeps everything in memory, which is
// useful for tests.
func NewQL(filename string) (DB, error) {
	var db *sql.DB
	var err error
	if filename == "memory" {
		db, err = sql.Open("ql-mem", "mem.db")
	} else {
		db, err = sql.Open("ql", filename)
	}
	if err != nil {
		return nil, err
	}
	if _, err := performExec(db, qlResumeInit); err != nil {
		db.Close()
		return nil, err
	}
	return &qlDB{db: db}, nil
}

func (q *qlDB) Get(url string) (int64, bool, error) {
	const query = `SELECT byteoffset FROM resume WHERE url == ?1 LIMIT 1`

	var offset int64
	err := q.db.QueryRow(query, url).Scan(&offset)
	if err == sql.ErrNoRows {
		return 0, false, nil
	} else if err != nil {
		return 0, false, err
	}
	return offset, true, nil
}

func (q *qlDB) Set(url string, offset int64) error {
	const update = `UPDATE resume SET byteoffset = ?2, updated = ?3 WHERE url == ?1`
	const insert = `INSERT INTO resume VALUES (?1, ?2, ?3)`

	result, err := performExec(q.db, update, url, offset, time.Now())
	if err != nil {
		return err
	}
	nrows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if nrows == 0 {
		_, err = performExec(q.db, insert, url, offset, time.Now())
	}
	return err
}

func (q *qlDB) Delete(url string) error {
	const query = `DELETE FROM resume WHERE url == ?1`
	_, err := performExec(q.db, query, url)
	return err
}

func (q *qlDB) Close() error {
	return q.db.Close()
}

// performExec runs query inside its own transaction, the same
// workaround server/db_ql.go uses since the ql driver does not commit
// writes outside of an explicit transaction.
func performExec(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	result, err := tx.Exec(query, args...)
	if err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			log.Println("resumedb: rollback:", rerr)
		}
		return nil, err
	}
	err = tx.Commit()
	return result, err
}
