package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

var (
	ErrUsernameTaken        = errors.New("username already exists")
	ErrConversationNotFound = errors.New("conversation not found")
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        username TEXT UNIQUE NOT NULL,
        hashed_password TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        title TEXT NOT NULL,
        messages TEXT NOT NULL DEFAULT '[]', -- JSON array of {role, content}
        created_at DATETIME NOT NULL,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods

func (s *SQLiteStore) CreateUser(username, passwordHash string) (*User, error) {
	res, err := s.db.Exec("INSERT INTO users (username, hashed_password) VALUES (?, ?)", username, passwordHash)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read inserted user id: %w", err)
	}
	return &User{ID: id, Username: username, PasswordHash: passwordHash}, nil
}

func (s *SQLiteStore) GetUserByUsername(username string) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, username, hashed_password FROM users WHERE username = ?", username).
		Scan(&user.ID, &user.Username, &user.PasswordHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// Conversation methods

// AppendTurn appends {role, content} to an existing conversation, or creates a
// new conversation owned by userID when conversationID is empty. The title of a
// new conversation is the opening message content, verbatim. Either path is a
// single SQL statement, so concurrent appends on the same conversation cannot
// lose updates.
func (s *SQLiteStore) AppendTurn(userID int64, role, content, conversationID string) (string, error) {
	msgJSON, err := json.Marshal(Message{Role: role, Content: content})
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	if conversationID != "" {
		res, err := s.db.Exec(
			"UPDATE conversations SET messages = json_insert(messages, '$[#]', json(?)) WHERE id = ? AND user_id = ?",
			string(msgJSON), conversationID, userID,
		)
		if err != nil {
			return "", fmt.Errorf("failed to append message: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return "", fmt.Errorf("failed to check appended rows: %w", err)
		}
		if affected == 0 {
			return "", ErrConversationNotFound
		}
		return conversationID, nil
	}

	initial, err := json.Marshal([]Message{{Role: role, Content: content}})
	if err != nil {
		return "", fmt.Errorf("failed to marshal initial messages: %w", err)
	}

	conversationID = uuid.NewString()
	_, err = s.db.Exec(
		"INSERT INTO conversations (id, user_id, title, messages, created_at) VALUES (?, ?, ?, ?, ?)",
		conversationID, userID, content, string(initial), time.Now(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert conversation: %w", err)
	}
	return conversationID, nil
}

func (s *SQLiteStore) ListConversations(userID int64) ([]ConversationSummary, error) {
	rows, err := s.db.Query(
		"SELECT id, title FROM conversations WHERE user_id = ? ORDER BY created_at DESC",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var conversations []ConversationSummary
	for rows.Next() {
		var c ConversationSummary
		if err := rows.Scan(&c.ID, &c.Title); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

// GetMessages returns the full message sequence of a conversation owned by
// userID. A missing or foreign conversation yields an empty slice, not an
// error.
func (s *SQLiteStore) GetMessages(userID int64, conversationID string) ([]Message, error) {
	var raw string
	err := s.db.QueryRow(
		"SELECT messages FROM conversations WHERE user_id = ? AND id = ?",
		userID, conversationID,
	).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	var messages []Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
	}
	return messages, nil
}

// LatestConversationID returns the most recently created conversation id owned
// by userID, or "" when the user has none.
func (s *SQLiteStore) LatestConversationID(userID int64) (string, error) {
	var id string
	err := s.db.QueryRow(
		"SELECT id FROM conversations WHERE user_id = ? ORDER BY created_at DESC LIMIT 1",
		userID,
	).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to query latest conversation: %w", err)
	}
	return id, nil
}
