package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConstructOps/internal/security/query"
	"github.com/turtacn/ConstructOps/internal/storage"
	"github.com/turtacn/ConstructOps/pkg/errors"
)

// Executor runs query instructions against PostgreSQL.
type Executor struct {
	db      *sql.DB
	timeout time.Duration
	logger  logging.Logger
}

var _ storage.Executor = (*Executor)(nil)

// NewExecutor returns an Executor. A zero timeout leaves the caller's
// deadline in charge.
func NewExecutor(db *sql.DB, timeout time.Duration, log logging.Logger) *Executor {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Executor{db: db, timeout: timeout, logger: log}
}

// Execute renders and runs in. Mutations that touch no rows report
// STORE_001.
func (e *Executor) Execute(ctx context.Context, in query.Instructions) (storage.Result, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	stmt, err := renderStatement(in)
	if err != nil {
		return storage.Result{}, e.fail(in, errors.ErrCodeStorageFailure, err)
	}

	rows, err := e.db.QueryContext(ctx, stmt.sql, stmt.args...)
	if err != nil {
		return storage.Result{}, e.translate(in, err)
	}
	out, err := scanRows(rows)
	if err != nil {
		return storage.Result{}, e.translate(in, err)
	}

	res := storage.Result{Rows: out, Count: int64(len(out))}
	switch in.Kind {
	case query.KindUpdate, query.KindDelete:
		if len(out) == 0 {
			return storage.Result{}, e.fail(in, errors.ErrCodeStorageNotFound, sql.ErrNoRows)
		}
	case query.KindSelect, "":
		if in.CountTotal {
			count := renderCount(in)
			if err := e.db.QueryRowContext(ctx, count.sql, count.args...).Scan(&res.Count); err != nil {
				return storage.Result{}, e.translate(in, err)
			}
		}
	}
	return res, nil
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, nestRow(cols, vals))
	}
	return out, rows.Err()
}

// nestRow turns "relation.column" aliases into nested maps.
func nestRow(cols []string, vals []any) map[string]any {
	row := make(map[string]any, len(cols))
	for i, c := range cols {
		v := vals[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		rel, col, nested := strings.Cut(c, ".")
		if !nested {
			row[c] = v
			continue
		}
		sub, _ := row[rel].(map[string]any)
		if sub == nil {
			sub = make(map[string]any)
			row[rel] = sub
		}
		sub[col] = v
	}
	return row
}

// translate maps driver errors to the four storage codes. Data exceptions
// (SQLSTATE class 22) come from malformed client values and are a bad request.
func (e *Executor) translate(in query.Instructions, err error) error {
	if stderrors.Is(err, sql.ErrNoRows) {
		return e.fail(in, errors.ErrCodeStorageNotFound, err)
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "42501":
			return e.fail(in, errors.ErrCodeStorageAccessDenied, err)
		case pgErr.Code == "P0002":
			return e.fail(in, errors.ErrCodeStorageNotFound, err)
		case strings.HasPrefix(pgErr.Code, "23"), pgErr.Code == "40001":
			return e.fail(in, errors.ErrCodeStorageConflict, err)
		case strings.HasPrefix(pgErr.Code, "22"):
			return e.fail(in, errors.ErrCodeBadRequest, err)
		}
	}
	return e.fail(in, errors.ErrCodeStorageFailure, err)
}

func (e *Executor) fail(in query.Instructions, code errors.ErrorCode, cause error) error {
	fields := []logging.Field{
		logging.String("entity", in.Entity),
		logging.String("kind", string(in.Kind)),
		logging.String("code", code.String()),
		logging.Err(cause),
	}
	var pgErr *pgconn.PgError
	if stderrors.As(cause, &pgErr) {
		fields = append(fields, logging.String("sqlstate", pgErr.Code))
	}
	switch code {
	case errors.ErrCodeStorageNotFound:
		e.logger.Debug("storage: no rows", fields...)
	case errors.ErrCodeBadRequest:
		e.logger.Warn("storage: rejected value", fields...)
	default:
		e.logger.Error("storage: operation failed", fields...)
	}
	return errors.New(code, errors.DefaultMessageForCode(code)).WithCause(cause)
}
