package storage

import (
	"context"
	"fmt"
	"strings"

	"wikikv/configs"

	"github.com/jackc/pgx/v4/pgxpool"
)

// SQLStore keeps the replica records in PostgreSQL. The upsert runs as
// a single statement, so it stays atomic with respect to the log commit
// step that calls it.
type SQLStore struct {
	ctx  context.Context
	pool *pgxpool.Pool
}

// NewSQLStore connects to url and creates the record tables if needed.
func NewSQLStore(url string) (*SQLStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	c := &SQLStore{ctx: context.Background()}
	c.pool, err = pgxpool.ConnectConfig(c.ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	c.mustExec("CREATE TABLE IF NOT EXISTS wiki_users (name TEXT PRIMARY KEY, admin BOOLEAN NOT NULL)")
	c.mustExec("CREATE TABLE IF NOT EXISTS wiki_pages (name TEXT PRIMARY KEY, content TEXT NOT NULL)")
	return c, nil
}

func (c *SQLStore) mustExec(sql string) {
	_, err := c.pool.Exec(c.ctx, sql)
	configs.CheckError(err)
}

func (c *SQLStore) UpsertUser(name string, admin bool) error {
	_, err := c.pool.Exec(c.ctx,
		"INSERT INTO wiki_users (name, admin) VALUES ($1, $2) ON CONFLICT (name) DO UPDATE SET admin = $2",
		name, admin)
	return err
}

func (c *SQLStore) UpsertPage(name string, content string) error {
	_, err := c.pool.Exec(c.ctx,
		"INSERT INTO wiki_pages (name, content) VALUES ($1, $2) ON CONFLICT (name) DO UPDATE SET content = $2",
		name, content)
	return err
}

func (c *SQLStore) GetUserByName(name string) (*User, bool) {
	u := User{Name: name}
	err := c.pool.QueryRow(c.ctx, "SELECT admin FROM wiki_users WHERE name = $1", name).Scan(&u.Admin)
	if err != nil {
		return nil, false
	}
	return &u, true
}

func (c *SQLStore) GetPage(name string) (*Page, bool) {
	p := Page{Name: name}
	err := c.pool.QueryRow(c.ctx, "SELECT content FROM wiki_pages WHERE name = $1", name).Scan(&p.Content)
	if err != nil {
		return nil, false
	}
	return &p, true
}

func (c *SQLStore) ListUsers() []User {
	rows, err := c.pool.Query(c.ctx, "SELECT name, admin FROM wiki_users ORDER BY name")
	if !configs.Warn(err == nil, "list users query failed") {
		return nil
	}
	defer rows.Close()
	res := make([]User, 0)
	for rows.Next() {
		var u User
		if rows.Scan(&u.Name, &u.Admin) == nil {
			res = append(res, u)
		}
	}
	return res
}

func (c *SQLStore) ListPages() []Page {
	rows, err := c.pool.Query(c.ctx, "SELECT name, content FROM wiki_pages ORDER BY name")
	if !configs.Warn(err == nil, "list pages query failed") {
		return nil
	}
	defer rows.Close()
	res := make([]Page, 0)
	for rows.Next() {
		var p Page
		if rows.Scan(&p.Name, &p.Content) == nil {
			res = append(res, p)
		}
	}
	return res
}

func (c *SQLStore) SearchPages(substr string) []Page {
	pattern := "%" + strings.ReplaceAll(strings.ReplaceAll(substr, "%", `\%`), "_", `\_`) + "%"
	rows, err := c.pool.Query(c.ctx,
		"SELECT name, content FROM wiki_pages WHERE name LIKE $1 ORDER BY name", pattern)
	if !configs.Warn(err == nil, "search pages query failed") {
		return nil
	}
	defer rows.Close()
	res := make([]Page, 0)
	for rows.Next() {
		var p Page
		if rows.Scan(&p.Name, &p.Content) == nil {
			res = append(res, p)
		}
	}
	return res
}

func (c *SQLStore) UserCount() int {
	var n int
	err := c.pool.QueryRow(c.ctx, "SELECT COUNT(*) FROM wiki_users").Scan(&n)
	if !configs.Warn(err == nil, "user count query failed") {
		return 0
	}
	return n
}

func (c *SQLStore) Close() error {
	c.pool.Close()
	return nil
}
