// README: PostgreSQL Store. Transactions serialise per booking with an advisory lock.
package bid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"movebid/internal/modules/events"
	"movebid/internal/types"
)

const uniqueViolation = "23505"

type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

type SQLStore struct {
	*Queries
	db *pgxpool.Pool
}

func NewSQLStore(db *pgxpool.Pool) *SQLStore {
	return &SQLStore{Queries: NewQueries(db), db: db}
}

func (s *SQLStore) ExecTx(ctx context.Context, fn func(Querier) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(NewQueries(tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx err: %w, rb err: %v", err, rbErr)
		}
		return err
	}
	return tx.Commit(ctx)
}

func (q *Queries) LockBooking(ctx context.Context, bookingID types.ID) error {
	_, err := q.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, string(bookingID))
	return err
}

const quotationColumns = `
        id, booking_id, transport_id, breakdown, total_price, current_price,
        currency, status, version, created_at, expires_at, resolved_at`

func (q *Queries) InsertQuotation(ctx context.Context, quo *Quotation) error {
	if _, err := ParseQuotationStatus(string(quo.Status)); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	_, err := q.db.Exec(ctx, `
        INSERT INTO quotations (`+quotationColumns+`
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		string(quo.ID),
		string(quo.BookingID),
		string(quo.TransportID),
		quo.Breakdown,
		quo.TotalPrice,
		quo.CurrentPrice,
		quo.Currency,
		string(quo.Status),
		quo.Version,
		quo.CreatedAt,
		quo.ExpiresAt,
		quo.ResolvedAt,
	)
	return mapUnique(err)
}

func (q *Queries) GetQuotation(ctx context.Context, id types.ID) (*Quotation, error) {
	row := q.db.QueryRow(ctx, `SELECT `+quotationColumns+` FROM quotations WHERE id = $1`, string(id))
	quo, err := scanQuotation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrQuotationNotFound
	}
	return quo, err
}

func (q *Queries) ListQuotationsByBooking(ctx context.Context, bookingID types.ID) ([]Quotation, error) {
	rows, err := q.db.Query(ctx, `
        SELECT `+quotationColumns+`
        FROM quotations
        WHERE booking_id = $1
        ORDER BY created_at, id`, string(bookingID))
	if err != nil {
		return nil, err
	}
	return collectQuotations(rows)
}

func (q *Queries) PendingQuotation(ctx context.Context, bookingID, transportID types.ID) (*Quotation, error) {
	row := q.db.QueryRow(ctx, `
        SELECT `+quotationColumns+`
        FROM quotations
        WHERE booking_id = $1 AND transport_id = $2 AND status = 'PENDING'`, string(bookingID), string(transportID))
	found, err := scanQuotation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return found, err
}

func (q *Queries) UpdateQuotationStatus(ctx context.Context, u QuotationUpdate) (bool, error) {
	tag, err := q.db.Exec(ctx, `
        UPDATE quotations
        SET status = $1,
            version = version + 1,
            current_price = COALESCE($2, current_price),
            resolved_at = $3
        WHERE id = $4 AND status = $5 AND version = $6`,
		string(u.To),
		u.CurrentPrice,
		u.At,
		string(u.ID),
		string(u.From),
		u.Version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (q *Queries) ListExpiredQuotations(ctx context.Context, now time.Time, limit int) ([]Quotation, error) {
	rows, err := q.db.Query(ctx, `
        SELECT `+quotationColumns+`
        FROM quotations
        WHERE status = 'PENDING' AND expires_at < $1
        ORDER BY expires_at
        LIMIT NULLIF($2::int, 0)`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectQuotations(rows)
}

const counterOfferColumns = `
        id, quotation_id, booking_id, original_price, offered_price,
        reason, message, response_message,
        proposed_by_type, proposed_by_id, responded_by_type, responded_by_id,
        status, version, created_at, expires_at, responded_at`

func (q *Queries) InsertCounterOffer(ctx context.Context, c *CounterOffer) error {
	if _, err := ParseCounterOfferStatus(string(c.Status)); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	var respType, respID *string
	if c.RespondedBy != nil {
		t, id := string(c.RespondedBy.Type), string(c.RespondedBy.ID)
		respType, respID = &t, &id
	}
	_, err := q.db.Exec(ctx, `
        INSERT INTO counter_offers (`+counterOfferColumns+`
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		string(c.ID),
		string(c.QuotationID),
		string(c.BookingID),
		c.OriginalPrice,
		c.OfferedPrice,
		c.Reason,
		c.Message,
		c.ResponseMessage,
		string(c.ProposedBy.Type),
		string(c.ProposedBy.ID),
		respType,
		respID,
		string(c.Status),
		c.Version,
		c.CreatedAt,
		c.ExpiresAt,
		c.RespondedAt,
	)
	return mapUnique(err)
}

func (q *Queries) GetCounterOffer(ctx context.Context, id types.ID) (*CounterOffer, error) {
	row := q.db.QueryRow(ctx, `SELECT `+counterOfferColumns+` FROM counter_offers WHERE id = $1`, string(id))
	c, err := scanCounterOffer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCounterOfferNotFound
	}
	return c, err
}

func (q *Queries) ListCounterOffers(ctx context.Context, quotationID types.ID) ([]CounterOffer, error) {
	rows, err := q.db.Query(ctx, `
        SELECT `+counterOfferColumns+`
        FROM counter_offers
        WHERE quotation_id = $1
        ORDER BY created_at, id`, string(quotationID))
	if err != nil {
		return nil, err
	}
	return collectCounterOffers(rows)
}

func (q *Queries) PendingCounterOffer(ctx context.Context, quotationID types.ID) (*CounterOffer, error) {
	row := q.db.QueryRow(ctx, `
        SELECT `+counterOfferColumns+`
        FROM counter_offers
        WHERE quotation_id = $1 AND status = 'PENDING'`, string(quotationID))
	c, err := scanCounterOffer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (q *Queries) ListPendingCounterOffersByBooking(ctx context.Context, bookingID types.ID) ([]CounterOffer, error) {
	rows, err := q.db.Query(ctx, `
        SELECT `+counterOfferColumns+`
        FROM counter_offers
        WHERE booking_id = $1 AND status = 'PENDING'
        ORDER BY created_at, id`, string(bookingID))
	if err != nil {
		return nil, err
	}
	return collectCounterOffers(rows)
}

func (q *Queries) UpdateCounterOfferStatus(ctx context.Context, u CounterOfferUpdate) (bool, error) {
	var respType, respID *string
	if u.RespondedBy != nil {
		t, id := string(u.RespondedBy.Type), string(u.RespondedBy.ID)
		respType, respID = &t, &id
	}
	tag, err := q.db.Exec(ctx, `
        UPDATE counter_offers
        SET status = $1,
            version = version + 1,
            response_message = CASE WHEN $2 = '' THEN response_message ELSE $2 END,
            responded_by_type = COALESCE($3, responded_by_type),
            responded_by_id = COALESCE($4, responded_by_id),
            responded_at = $5
        WHERE id = $6 AND status = $7 AND version = $8`,
		string(u.To),
		u.ResponseMessage,
		respType,
		respID,
		u.At,
		string(u.ID),
		string(u.From),
		u.Version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (q *Queries) ListExpiredCounterOffers(ctx context.Context, now time.Time, limit int) ([]CounterOffer, error) {
	rows, err := q.db.Query(ctx, `
        SELECT `+counterOfferColumns+`
        FROM counter_offers
        WHERE status = 'PENDING' AND expires_at < $1
        ORDER BY expires_at
        LIMIT NULLIF($2::int, 0)`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectCounterOffers(rows)
}

func (q *Queries) InsertBinding(ctx context.Context, b *Binding) (bool, error) {
	var coID *string
	if b.CounterOfferID != "" {
		v := string(b.CounterOfferID)
		coID = &v
	}
	tag, err := q.db.Exec(ctx, `
        INSERT INTO booking_bindings (
            booking_id, transport_id, quotation_id, counter_offer_id,
            final_price, currency, bound_at, bound_by_type, bound_by_id
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (booking_id) DO NOTHING`,
		string(b.BookingID),
		string(b.TransportID),
		string(b.QuotationID),
		coID,
		b.FinalPrice,
		b.Currency,
		b.BoundAt,
		string(b.BoundBy.Type),
		string(b.BoundBy.ID),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (q *Queries) GetBinding(ctx context.Context, bookingID types.ID) (*Binding, error) {
	row := q.db.QueryRow(ctx, `
        SELECT booking_id, transport_id, quotation_id, counter_offer_id,
               final_price, currency, bound_at, bound_by_type, bound_by_id
        FROM booking_bindings
        WHERE booking_id = $1`, string(bookingID))
	var b Binding
	var coID *string
	err := row.Scan(
		&b.BookingID, &b.TransportID, &b.QuotationID, &coID,
		&b.FinalPrice, &b.Currency, &b.BoundAt, &b.BoundBy.Type, &b.BoundBy.ID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBindingNotFound
	}
	if err != nil {
		return nil, err
	}
	if coID != nil {
		b.CounterOfferID = types.ID(*coID)
	}
	return &b, nil
}

func (q *Queries) AppendEvent(ctx context.Context, e *events.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return q.db.QueryRow(ctx, `
        INSERT INTO outbox_events (event_id, type, booking_id, payload, created_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING seq`,
		string(e.ID),
		string(e.Type),
		string(e.BookingID),
		payload,
		e.OccurredAt,
	).Scan(&e.Seq)
}

func (q *Queries) PendingEvents(ctx context.Context, limit int) ([]events.Event, error) {
	rows, err := q.db.Query(ctx, `
        SELECT seq, payload
        FROM outbox_events
        WHERE delivered_at IS NULL
        ORDER BY seq
        LIMIT NULLIF($1::int, 0)`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var seq int64
		var payload []byte
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, err
		}
		var e events.Event
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode outbox event %d: %w", seq, err)
		}
		e.Seq = seq
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *Queries) MarkEventsDelivered(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx, `UPDATE outbox_events SET delivered_at = NOW() WHERE seq = ANY($1)`, seqs)
	return err
}

func scanQuotation(row pgx.Row) (*Quotation, error) {
	var quo Quotation
	var status string
	err := row.Scan(
		&quo.ID, &quo.BookingID, &quo.TransportID, &quo.Breakdown, &quo.TotalPrice, &quo.CurrentPrice,
		&quo.Currency, &status, &quo.Version, &quo.CreatedAt, &quo.ExpiresAt, &quo.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if quo.Status, err = ParseQuotationStatus(status); err != nil {
		return nil, fmt.Errorf("quotation %s: %w", quo.ID, err)
	}
	return &quo, nil
}

func collectQuotations(rows pgx.Rows) ([]Quotation, error) {
	defer rows.Close()
	var out []Quotation
	for rows.Next() {
		quo, err := scanQuotation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *quo)
	}
	return out, rows.Err()
}

func scanCounterOffer(row pgx.Row) (*CounterOffer, error) {
	var c CounterOffer
	var respType, respID *string
	var status string
	err := row.Scan(
		&c.ID, &c.QuotationID, &c.BookingID, &c.OriginalPrice, &c.OfferedPrice,
		&c.Reason, &c.Message, &c.ResponseMessage,
		&c.ProposedBy.Type, &c.ProposedBy.ID, &respType, &respID,
		&status, &c.Version, &c.CreatedAt, &c.ExpiresAt, &c.RespondedAt,
	)
	if err != nil {
		return nil, err
	}
	if c.Status, err = ParseCounterOfferStatus(status); err != nil {
		return nil, fmt.Errorf("counter-offer %s: %w", c.ID, err)
	}
	if respType != nil {
		a := Actor{Type: ActorType(*respType)}
		if respID != nil {
			a.ID = types.ID(*respID)
		}
		c.RespondedBy = &a
	}
	return &c, nil
}

func collectCounterOffers(rows pgx.Rows) ([]CounterOffer, error) {
	defer rows.Close()
	var out []CounterOffer
	for rows.Next() {
		c, err := scanCounterOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// mapUnique turns partial-unique-index violations into domain conflicts.
func mapUnique(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case "quotations_one_pending_per_transport":
		return ErrDuplicateActiveQuotation
	case "counter_offers_one_pending_per_quotation":
		return ErrAlreadyResolved
	case "booking_bindings_pkey":
		return ErrAlreadyBound
	}
	return err
}
