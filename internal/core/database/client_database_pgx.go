package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/markdave123-py/docchat/internal/config"
	"github.com/markdave123-py/docchat/internal/core"
	"github.com/markdave123-py/docchat/internal/logger"
	"github.com/markdave123-py/docchat/internal/models"
)

type DatabaseClient struct {
	db  *sql.DB
	log *zap.Logger
}

var _ core.DbClient = (*DatabaseClient)(nil)

func NewDatabaseClient(ctx context.Context, cfg *config.Config, log *zap.Logger) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	log = logger.OrNop(log)

	dsn, err := buildDSN(cfg.DatabaseURL, cfg.SslCertPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db, cfg.EmbedDim, log); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db, log: log}, nil
}

// buildDSN appends certificate verification to the URL when a CA path is set.
func buildDSN(databaseURL, sslCertPath string) (string, error) {
	if sslCertPath == "" {
		return databaseURL, nil
	}
	if _, err := os.Stat(sslCertPath); err != nil {
		return "", fmt.Errorf("ssl cert not accessible at %q: %w", sslCertPath, err)
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("sslmode", "verify-ca")
	q.Set("sslrootcert", sslCertPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DB exposes the pool so the pgvector index can share it.
func (c *DatabaseClient) DB() *sql.DB {
	return c.db
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Users

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	const q = `
		INSERT INTO users (id, first_name, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	now := time.Now().UTC()
	_, err := c.db.ExecContext(ctx, q,
		user.ID, user.FirstName, user.Email, user.PasswordHash, orNow(user.CreatedAt, now), orNow(user.UpdatedAt, now))
	return err
}

func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `
		SELECT id, first_name, email, password_hash, created_at, updated_at
		FROM users WHERE email = $1
	`
	var u models.User
	err := c.db.QueryRowContext(ctx, q, email).Scan(
		&u.ID, &u.FirstName, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Documents

const documentColumns = `id, owner_id, file_name, storage_key, storage_url, content_type, size_bytes, format, status, chunk_count, error_message, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*models.Document, error) {
	var d models.Document
	err := row.Scan(
		&d.ID, &d.OwnerID, &d.FileName, &d.StorageKey, &d.StorageURL, &d.ContentType, &d.SizeBytes,
		&d.Format, &d.Status, &d.ChunkCount, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	now := time.Now().UTC()
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.OwnerID, doc.FileName, doc.StorageKey, doc.StorageURL, doc.ContentType, doc.SizeBytes,
		doc.Format, doc.Status, doc.ChunkCount, doc.ErrorMessage, orNow(doc.CreatedAt, now), orNow(doc.UpdatedAt, now))
	return err
}

func (c *DatabaseClient) GetDocument(ctx context.Context, id, ownerID string) (*models.Document, error) {
	const q = `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 AND owner_id = $2`
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, id, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func (c *DatabaseClient) ListDocumentsByOwner(ctx context.Context, ownerID string) ([]models.Document, error) {
	const q = `SELECT ` + documentColumns + ` FROM documents WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := c.db.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// UpdateDocumentStatus is a single-row UPDATE, so concurrent updates to the
// same document are serialized by Postgres row locking.
func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id, ownerID string, upd models.StatusUpdate) error {
	const q = `
		UPDATE documents
		SET status = $3,
		    chunk_count = COALESCE($4, chunk_count),
		    error_message = COALESCE($5, error_message),
		    updated_at = now()
		WHERE id = $1 AND owner_id = $2
	`
	var chunkCount sql.NullInt64
	if upd.ChunkCount != nil {
		chunkCount = sql.NullInt64{Int64: int64(*upd.ChunkCount), Valid: true}
	}
	var errMsg sql.NullString
	if upd.ErrorMessage != nil {
		errMsg = sql.NullString{String: *upd.ErrorMessage, Valid: true}
	}

	res, err := c.db.ExecContext(ctx, q, id, ownerID, upd.Status, chunkCount, errMsg)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) DeleteDocument(ctx context.Context, id, ownerID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1 AND owner_id = $2`, id, ownerID)
	return err
}

// Chat turns

func (c *DatabaseClient) AppendChatTurn(ctx context.Context, turn *models.ChatTurn) error {
	if turn == nil {
		return errors.New("nil chat turn")
	}
	meta, err := json.Marshal(turn.Metadata)
	if err != nil {
		return fmt.Errorf("marshal turn metadata: %w", err)
	}
	const q = `
		INSERT INTO chat_turns (id, document_id, owner_id, user_message, assistant_response, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = c.db.ExecContext(ctx, q,
		turn.ID, turn.DocumentID, turn.OwnerID, turn.UserMessage, turn.AssistantResponse, meta, orNow(turn.CreatedAt, time.Now().UTC()))
	return err
}

func (c *DatabaseClient) ListChatTurns(ctx context.Context, documentID, ownerID string) ([]models.ChatTurn, error) {
	const q = `
		SELECT id, document_id, owner_id, user_message, assistant_response, metadata, created_at
		FROM chat_turns
		WHERE document_id = $1 AND owner_id = $2
		ORDER BY created_at ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChatTurn
	for rows.Next() {
		var (
			t    models.ChatTurn
			meta []byte
		)
		if err := rows.Scan(&t.ID, &t.DocumentID, &t.OwnerID, &t.UserMessage, &t.AssistantResponse, &meta, &t.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &t.Metadata); err != nil {
				c.log.Warn("unreadable chat turn metadata", zap.String("turn_id", t.ID), zap.Error(err))
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) DeleteChatTurns(ctx context.Context, documentID, ownerID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM chat_turns WHERE document_id = $1 AND owner_id = $2`, documentID, ownerID)
	return err
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}
