package resumedb

import (
	"database/sql"
	"time"

	"github.com/BurntSushi/migration"
	_ "github.com/go-sql-driver/mysql"
)

// mysqlDB implements DB against a shared MySQL server, for deployments
// running more than one fetcher process against the same resume state.
// Adapted from server/db_mysql.go's msqlCache, narrowed to the single
// resume table this package needs and driven by the same
// BurntSushi/migration schema-versioning approach.
type mysqlDB struct {
	db *sql.DB
}

var mysqlMigrations = []migration.Migrator{
	mysqlResumeSchema1,
}

var mysqlVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?, now())`,
	CreateSQL: `CREATE TABLE migration_version (version INTEGER, applied datetime)`,
}

// NewMySQL connects to a MySQL database at dial (a go-sql-driver DSN)
// and returns a DB backed by it, creating the resume table if absent.
func NewMySQL(dial string) (DB, error) {
	db, err := migration.OpenWith(
		"mysql",
		dial,
		mysqlMigrations,
		mysqlVersioning.Get,
		mysqlVersioning.Set)
	if err != nil {
		return nil, err
	}
	return &mysqlDB{db: db}, nil
}

func mysqlResumeSchema1(tx migration.LimitedTx) error {
	_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS resume (
		url varchar(2048),
		offset bigint,
		updated datetime,
		UNIQUE INDEX resume_url (url)
	)`)
	return err
}

func (m *mysqlDB) Get(url string) (int64, bool, error) {
	const query = `SELECT offset FROM resume WHERE url = ? LIMIT 1`

	var offset int64
	err := m.db.QueryRow(query, url).Scan(&offset)
	if err == sql.ErrNoRows {
		return 0, false, nil
	} else if err != nil {
		return 0, false, err
	}
	return offset, true, nil
}

func (m *mysqlDB) Set(url string, offset int64) error {
	const stmt = `INSERT INTO resume (url, offset, updated) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE offset = ?, updated = ?`

	now := time.Now()
	_, err := m.db.Exec(stmt, url, offset, now, offset, now)
	return err
}

func (m *mysqlDB) Delete(url string) error {
	const query = `DELETE FROM resume WHERE url = ?`
	_, err := m.db.Exec(query, url)
	return err
}

func (m *mysqlDB) Close() error {
	return m.db.Close()
}
