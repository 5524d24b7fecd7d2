package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/npezzotti/chat-gateway/internal/types"
)

const (
	listChatsQuery = "SELECT c.id, c.users, c.latest_text, c.latest_sender, c.created_at, c.updated_at, " +
		"(SELECT COUNT(*) FROM messages m WHERE m.chat_id = c.id AND m.sender <> $1 AND NOT m.seen) " +
		"FROM chats c WHERE $1 = ANY(c.users) ORDER BY c.updated_at DESC"

	getChatQuery = "SELECT id, users, latest_text, latest_sender, created_at, updated_at FROM chats WHERE id = $1"

	listMessagesQuery = "SELECT id, chat_id, sender, seq_id, text, image_url, image_public_id, message_type, " +
		"seen, seen_at, created_at FROM messages WHERE chat_id = $1 AND seq_id > $2 ORDER BY seq_id ASC LIMIT $3"
)

type PgRepository struct {
	conn *sql.DB
}

func NewPgRepository(dsn string) (*PgRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgRepository{conn: db}, nil
}

func (db *PgRepository) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *PgRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner, extra ...any) (types.Chat, error) {
	var (
		chat         types.Chat
		latestText   sql.NullString
		latestSender sql.NullString
	)

	dest := []any{
		&chat.Id,
		pq.Array(&chat.Users),
		&latestText,
		&latestSender,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return types.Chat{}, err
	}

	if latestText.Valid || latestSender.Valid {
		chat.LatestMessage = &types.LatestMessage{
			Text:     latestText.String,
			SenderId: latestSender.String,
		}
	}

	return chat, nil
}

func (db *PgRepository) ListChatsForUser(ctx context.Context, userId string) ([]types.Chat, error) {
	rows, err := db.conn.QueryContext(ctx, listChatsQuery, userId)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats = make([]types.Chat, 0)
	for rows.Next() {
		var unseen int
		chat, err := scanChat(rows, &unseen)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chat.UnseenCount = unseen

		chats = append(chats, chat)
	}

	return chats, rows.Err()
}

func (db *PgRepository) GetChat(ctx context.Context, chatId string) (types.Chat, error) {
	chat, err := scanChat(db.conn.QueryRowContext(ctx, getChatQuery, chatId))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Chat{}, ErrNotFound
	}

	return chat, err
}

func (db *PgRepository) ListMessagesByChat(ctx context.Context, chatId string, sinceSeq int64, limit int) ([]types.Message, error) {
	rows, err := db.conn.QueryContext(ctx, listMessagesQuery, chatId, sinceSeq, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages = make([]types.Message, 0)
	for rows.Next() {
		var (
			msg           types.Message
			text          sql.NullString
			imageUrl      sql.NullString
			imagePublicId sql.NullString
			seenAt        sql.NullTime
		)
		if err := rows.Scan(
			&msg.Id,
			&msg.RoomId,
			&msg.SenderId,
			&msg.SeqId,
			&text,
			&imageUrl,
			&imagePublicId,
			&msg.MessageType,
			&msg.Seen,
			&seenAt,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		msg.Text = text.String
		if imageUrl.Valid {
			msg.Image = &types.Image{Url: imageUrl.String, PublicId: imagePublicId.String}
		}
		if seenAt.Valid {
			t := seenAt.Time
			msg.SeenAt = &t
		}

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}
