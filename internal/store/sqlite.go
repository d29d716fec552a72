package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/yourorg/tracegen/pkg/types"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dsn); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.Init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Init() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return err
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			base_url TEXT NOT NULL,
			credential TEXT NOT NULL,
			exchange_count INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			ended_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS exchanges (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			timestamp DATETIME NOT NULL,
			method TEXT NOT NULL,
			url TEXT NOT NULL,
			request_headers TEXT,
			request_body TEXT,
			request_json INTEGER NOT NULL DEFAULT 0,
			resolved INTEGER NOT NULL DEFAULT 0,
			status INTEGER NOT NULL DEFAULT 0,
			response_headers TEXT,
			response_body TEXT,
			response_json INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY(session_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_session ON exchanges(session_id);`,
		`CREATE TABLE IF NOT EXISTS variables (
			session_id TEXT NOT NULL,
			pos INTEGER NOT NULL,
			name TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY(session_id, pos)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveSession writes a finalized session with its exchanges and variables.
// Assigns the session id when empty.
func (s *SQLiteStore) SaveSession(sess *types.Session) error {
	if sess == nil {
		return errors.New("session is nil")
	}
	if sess.Active() {
		return errors.New("session is still active")
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO sessions(id,name,base_url,credential,exchange_count,started_at,ended_at) VALUES(?,?,?,?,?,?,?)`,
		sess.ID, sess.Name, sess.BaseURL, sess.Credential, len(sess.Exchanges), sess.StartedAt, sess.EndedAt); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	exStmt, err := tx.Prepare(`INSERT INTO exchanges(session_id,seq,request_id,timestamp,method,url,request_headers,request_body,request_json,resolved,status,response_headers,response_body,response_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer exStmt.Close()
	for _, ex := range sess.Exchanges {
		reqH, _ := json.Marshal(ex.RequestHeaders)
		resolved := 0
		status := 0
		respH := []byte("null")
		respBody := ""
		respJSON := false
		if ex.Response != nil {
			resolved = 1
			status = ex.Response.Status
			respH, _ = json.Marshal(ex.Response.Headers)
			respBody = ex.Response.Body
			respJSON = ex.Response.BodyJSON
		}
		if _, err := exStmt.Exec(sess.ID, ex.ID, ex.RequestID, ex.Timestamp, ex.Method, ex.URL,
			string(reqH), ex.RequestBody, ex.RequestJSON, resolved, status, string(respH), respBody, respJSON); err != nil {
			return fmt.Errorf("insert exchange %d: %w", ex.ID, err)
		}
	}

	varStmt, err := tx.Prepare(`INSERT INTO variables(session_id,pos,name,value) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer varStmt.Close()
	for i, v := range sess.Variables {
		if _, err := varStmt.Exec(sess.ID, i, v.Name, v.Value); err != nil {
			return fmt.Errorf("insert variable %s: %w", v.Name, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetSession(id string) (*types.Session, error) {
	row := s.db.QueryRow(`SELECT id,name,base_url,credential,started_at,ended_at FROM sessions WHERE id=?`, id)
	var sess types.Session
	if err := row.Scan(&sess.ID, &sess.Name, &sess.BaseURL, &sess.Credential, &sess.StartedAt, &sess.EndedAt); err != nil {
		return nil, err
	}

	exchanges, err := s.getExchanges(id)
	if err != nil {
		return nil, err
	}
	sess.Exchanges = exchanges

	rows, err := s.db.Query(`SELECT name,value FROM variables WHERE session_id=? ORDER BY pos ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var v types.Variable
		if err := rows.Scan(&v.Name, &v.Value); err != nil {
			return nil, err
		}
		sess.Variables = append(sess.Variables, v)
	}
	return &sess, rows.Err()
}

func (s *SQLiteStore) getExchanges(sessionID string) ([]types.CapturedExchange, error) {
	rows, err := s.db.Query(`SELECT seq,request_id,timestamp,method,url,request_headers,request_body,request_json,resolved,status,response_headers,response_body,response_json FROM exchanges WHERE session_id=? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]types.CapturedExchange, 0)
	for rows.Next() {
		var ex types.CapturedExchange
		var reqH, respH, respBody string
		var resolved, status int
		var respJSON bool
		if err := rows.Scan(&ex.ID, &ex.RequestID, &ex.Timestamp, &ex.Method, &ex.URL,
			&reqH, &ex.RequestBody, &ex.RequestJSON, &resolved, &status, &respH, &respBody, &respJSON); err != nil {
			return nil, err
		}
		if reqH != "" {
			_ = json.Unmarshal([]byte(reqH), &ex.RequestHeaders)
		}
		if resolved == 1 {
			resp := &types.Response{Status: status, Body: respBody, BodyJSON: respJSON}
			if respH != "" {
				_ = json.Unmarshal([]byte(respH), &resp.Headers)
			}
			ex.Response = resp
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListSessions() ([]types.Session, error) {
	rows, err := s.db.Query(`SELECT id,name,base_url,credential,started_at,ended_at FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.Session
	for rows.Next() {
		var s1 types.Session
		if err := rows.Scan(&s1.ID, &s1.Name, &s1.BaseURL, &s1.Credential, &s1.StartedAt, &s1.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, s1)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM exchanges WHERE session_id=?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM variables WHERE session_id=?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE id=?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return errors.New("store is nil")
	}
	return s.db.Close()
}
