package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/pulsechat/internal/domain"
	"github.com/vedran77/pulsechat/internal/repository"
)

const clientIDConstraint = "messages_from_user_client_id_key"

const messageColumns = `
	m.id, m.from_user, m.to_user, m.text, m.media_ref, m.message_type,
	m.seen, m.edited, m.edited_at, m.reply_to, m.client_id, m.created_at,
	COALESCE((
		SELECT json_agg(json_build_object('emoji', g.emoji, 'user_ids', g.user_ids) ORDER BY g.first_at)
		FROM (
			SELECT r.emoji, array_agg(r.user_id ORDER BY r.created_at) AS user_ids, min(r.created_at) AS first_at
			FROM message_reactions r
			WHERE r.message_id = m.id
			GROUP BY r.emoji
		) g
	), '[]'::json)`

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	query := `
		INSERT INTO messages (id, from_user, to_user, text, media_ref, message_type, reply_to, client_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, query,
		msg.ID, msg.FromUser, msg.ToUser, msg.Text, msg.MediaRef,
		string(msg.MessageType), msg.ReplyTo, msg.ClientID, msg.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == clientIDConstraint {
		return repository.ErrDuplicateClientID
	}
	return err
}

func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages m WHERE m.id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *MessageRepo) GetByClientID(ctx context.Context, fromUser uuid.UUID, clientID string) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages m WHERE m.from_user = $1 AND m.client_id = $2`
	return r.scanOne(r.pool.QueryRow(ctx, query, fromUser, clientID))
}

func (r *MessageRepo) ListThread(ctx context.Context, a, b uuid.UUID) ([]domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages m
		WHERE (m.from_user = $1 AND m.to_user = $2) OR (m.from_user = $2 AND m.to_user = $1)
		ORDER BY m.created_at DESC, m.seq DESC`

	rows, err := r.pool.Query(ctx, query, a, b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func (r *MessageRepo) MarkSeen(ctx context.Context, recipient, sender uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET seen = TRUE WHERE to_user = $1 AND from_user = $2 AND NOT seen`,
		recipient, sender,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepo) UpdateText(ctx context.Context, msg *domain.Message) error {
	query := `UPDATE messages SET text = $1, edited = TRUE, edited_at = $2 WHERE id = $3`
	_, err := r.pool.Exec(ctx, query, msg.Text, msg.EditedAt, msg.ID)
	return err
}

func (r *MessageRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *MessageRepo) ToggleReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) ([]domain.Reaction, error) {
	// One statement: either the delete or the insert takes effect.
	query := `
		WITH removed AS (
			DELETE FROM message_reactions
			WHERE message_id = $1 AND emoji = $2 AND user_id = $3
			RETURNING 1
		)
		INSERT INTO message_reactions (message_id, emoji, user_id, created_at)
		SELECT $1, $2, $3, clock_timestamp()
		WHERE NOT EXISTS (SELECT 1 FROM removed)
		ON CONFLICT DO NOTHING`
	if _, err := r.pool.Exec(ctx, query, messageID, emoji, userID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			// The message is gone.
			return nil, nil
		}
		return nil, err
	}

	msg, err := r.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, nil
	}
	return msg.Reactions, nil
}

func (r *MessageRepo) DeleteThread(ctx context.Context, a, b uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM messages
		WHERE (from_user = $1 AND to_user = $2) OR (from_user = $2 AND to_user = $1)`,
		a, b,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepo) scanOne(row pgx.Row) (*domain.Message, error) {
	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var (
		msg       domain.Message
		msgType   string
		reactions []byte
	)
	err := row.Scan(
		&msg.ID, &msg.FromUser, &msg.ToUser, &msg.Text, &msg.MediaRef, &msgType,
		&msg.Seen, &msg.Edited, &msg.EditedAt, &msg.ReplyTo, &msg.ClientID, &msg.CreatedAt,
		&reactions,
	)
	if err != nil {
		return nil, err
	}
	msg.MessageType = domain.MessageType(msgType)
	if err := json.Unmarshal(reactions, &msg.Reactions); err != nil {
		return nil, fmt.Errorf("decoding reactions of %s: %w", msg.ID, err)
	}
	return &msg, nil
}
