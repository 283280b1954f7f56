package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tgrelay/internal/domain"
	"tgrelay/internal/store"
	"tgrelay/internal/util"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

var _ store.ConversationStore = (*Store)(nil)

const clientColumns = `id, external_id, first_name, last_name, patronymic, username, phone, status,
	contacts_confirmed, last_message_at, created_at, updated_at`

const messageColumns = `id, seq, client_id, author_id, direction, type, content,
	attachment_bucket, attachment_key, attachment_filename, external_message_id,
	is_read, read_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (domain.ClientIdentity, error) {
	var c domain.ClientIdentity
	var status string
	err := row.Scan(&c.ID, &c.ExternalID, &c.FirstName, &c.LastName, &c.Patronymic, &c.Username,
		&c.Phone, &status, &c.ContactsConfirmed, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return domain.ClientIdentity{}, err
	}
	c.Status = domain.ClientStatus(status)
	return c, nil
}

func scanMessage(row rowScanner) (domain.Message, error) {
	var m domain.Message
	var direction, typ string
	var bucket, key, filename *string
	err := row.Scan(&m.ID, &m.Seq, &m.ClientID, &m.AuthorID, &direction, &typ, &m.Content,
		&bucket, &key, &filename, &m.ExternalMessageID, &m.IsRead, &m.ReadAt, &m.CreatedAt)
	if err != nil {
		return domain.Message{}, err
	}
	m.Direction = domain.Direction(direction)
	m.Type = domain.MessageType(typ)
	if key != nil {
		ref := &domain.BlobRef{Key: *key}
		if bucket != nil {
			ref.Bucket = *bucket
		}
		if filename != nil {
			ref.Filename = *filename
		}
		m.Attachment = ref
	}
	return m, nil
}

func (s *Store) FindByExternalID(ctx context.Context, externalID int64) (domain.ClientIdentity, bool, error) {
	c, err := scanClient(s.DB.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE external_id=$1`, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ClientIdentity{}, false, nil
	}
	if err != nil {
		return domain.ClientIdentity{}, false, fmt.Errorf("find client by external_id: %w", err)
	}
	return c, true, nil
}

func (s *Store) GetIdentity(ctx context.Context, clientID string) (domain.ClientIdentity, error) {
	c, err := scanClient(s.DB.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id=$1`, clientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ClientIdentity{}, fmt.Errorf("client %s: %w", clientID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ClientIdentity{}, fmt.Errorf("get client: %w", err)
	}
	return c, nil
}

func (s *Store) CreateIdentity(ctx context.Context, in store.IdentityCreate) (domain.ClientIdentity, error) {
	status := in.Status
	if status == "" {
		status = domain.StatusLead
	}
	c, err := scanClient(s.DB.QueryRow(ctx, `
		INSERT INTO clients (id, external_id, first_name, last_name, username, status,
		                     contacts_confirmed, last_message_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,FALSE,clock_timestamp(),clock_timestamp(),clock_timestamp())
		RETURNING `+clientColumns,
		util.NewClientID(), in.ExternalID, in.FirstName, in.LastName, in.Username, string(status)))
	if IsUniqueViolation(err) {
		return domain.ClientIdentity{}, fmt.Errorf("client external_id %d: %w", in.ExternalID, domain.ErrConflict)
	}
	if err != nil {
		return domain.ClientIdentity{}, fmt.Errorf("insert client: %w", err)
	}
	return c, nil
}

// UpdateIdentity applies the patch in a single statement; NULL parameters keep the column.
func (s *Store) UpdateIdentity(ctx context.Context, clientID string, p store.IdentityPatch) (domain.ClientIdentity, error) {
	var status *string
	if p.Status != nil {
		v := string(*p.Status)
		status = &v
	}
	c, err := scanClient(s.DB.QueryRow(ctx, `
		UPDATE clients SET
			first_name         = COALESCE($2::text, first_name),
			last_name          = COALESCE($3::text, last_name),
			patronymic         = COALESCE($4::text, patronymic),
			phone              = COALESCE($5::text, phone),
			status             = COALESCE($6::text, status),
			contacts_confirmed = COALESCE($7::boolean, contacts_confirmed),
			last_message_at    = CASE WHEN $8::boolean THEN clock_timestamp() ELSE last_message_at END,
			updated_at         = clock_timestamp()
		WHERE id=$1
		RETURNING `+clientColumns,
		clientID, p.FirstName, p.LastName, p.Patronymic, p.Phone, status, p.ContactsConfirmed, p.TouchLastMessage))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ClientIdentity{}, fmt.Errorf("client %s: %w", clientID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ClientIdentity{}, fmt.Errorf("update client: %w", err)
	}
	return c, nil
}

// AppendMessage locks the client row so created_at never goes below the
// client's latest message even when the database clock steps back.
func (s *Store) AppendMessage(ctx context.Context, in store.MessageAppend) (domain.Message, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return domain.Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var one int
	err = tx.QueryRow(ctx, `SELECT 1 FROM clients WHERE id=$1 FOR UPDATE`, in.ClientID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Message{}, fmt.Errorf("client %s: %w", in.ClientID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("lock client: %w", err)
	}

	var bucket, key, filename *string
	if in.Attachment != nil {
		bucket = nullIfEmpty(in.Attachment.Bucket)
		key = &in.Attachment.Key
		filename = nullIfEmpty(in.Attachment.Filename)
	}

	m, err := scanMessage(tx.QueryRow(ctx, `
		INSERT INTO messages (id, client_id, author_id, direction, type, content,
		                      attachment_bucket, attachment_key, attachment_filename,
		                      external_message_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,
		        GREATEST(clock_timestamp(), (SELECT max(created_at) FROM messages WHERE client_id=$2)))
		RETURNING `+messageColumns,
		util.NewMessageID(), in.ClientID, in.AuthorID, string(in.Direction), string(in.Type), in.Content,
		bucket, key, filename, in.ExternalMessageID))
	if IsUniqueViolation(err) {
		return domain.Message{}, fmt.Errorf("incoming message %v for client %s: %w", derefInt64(in.ExternalMessageID), in.ClientID, domain.ErrConflict)
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Message{}, fmt.Errorf("commit message: %w", err)
	}
	return m, nil
}

func (s *Store) GetMessage(ctx context.Context, messageID string) (domain.Message, error) {
	m, err := scanMessage(s.DB.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Message{}, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// ListMessages returns the latest limit messages (all when limit <= 0) in ascending order.
func (s *Store) ListMessages(ctx context.Context, clientID string, limit int) ([]domain.Message, error) {
	if _, err := s.GetIdentity(ctx, clientID); err != nil {
		return nil, err
	}
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.DB.Query(ctx, `
		SELECT * FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE client_id=$1
			ORDER BY created_at DESC, seq DESC
			LIMIT $2
		) latest
		ORDER BY created_at ASC, seq ASC`, clientID, lim)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) SetExternalMessageID(ctx context.Context, messageID string, externalID int64) error {
	ct, err := s.DB.Exec(ctx, `UPDATE messages SET external_message_id=$2 WHERE id=$1`, messageID, externalID)
	if err != nil {
		return fmt.Errorf("set external message id: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) MarkRead(ctx context.Context, clientID string, at time.Time) (int, error) {
	if _, err := s.GetIdentity(ctx, clientID); err != nil {
		return 0, err
	}
	ct, err := s.DB.Exec(ctx, `
		UPDATE messages SET is_read=TRUE, read_at=$2
		WHERE client_id=$1 AND direction='incoming' AND is_read=FALSE
	`, clientID, at)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

func (s *Store) CountUnread(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx,
		`SELECT count(*) FROM messages WHERE direction='incoming' AND is_read=FALSE`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.DB.Ping(ctx) }

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint violation (SQLSTATE 23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
