package obs

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type queryStartKey struct{}

type queryStart struct {
	span  trace.Span
	sql   string
	began time.Time
}

// PGXTracer implements pgx.QueryTracer. Every statement gets a client span; statements
// slower than SlowQuery are also logged when Logger is set.
type PGXTracer struct {
	SlowQuery time.Duration
	Logger    *zerolog.Logger
}

// TraceQueryStart implements pgx.QueryTracer.
func (t PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	sql := statementText(data.SQL)
	ctx, span := otel.Tracer("revshare/pgx").Start(ctx, "pgx "+statementVerb(sql),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.statement", sql),
		))
	return context.WithValue(ctx, queryStartKey{}, queryStart{span: span, sql: sql, began: time.Now()})
}

// TraceQueryEnd implements pgx.QueryTracer.
func (t PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qs, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	defer qs.span.End()
	if data.Err != nil {
		qs.span.RecordError(data.Err)
		qs.span.SetStatus(codes.Error, "query failed")
	} else {
		qs.span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
	}
	if t.Logger != nil && t.SlowQuery > 0 {
		if elapsed := time.Since(qs.began); elapsed >= t.SlowQuery {
			logger := Log(ctx, *t.Logger)
			logger.Warn().
				Str("statement", qs.sql).
				Int64("duration_ms", elapsed.Milliseconds()).
				Msg("pgx_slow_query")
		}
	}
}

func statementVerb(sql string) string {
	if fields := strings.Fields(sql); len(fields) > 0 {
		return strings.ToUpper(fields[0])
	}
	return "QUERY"
}

func statementText(sql string) string {
	sql = strings.Join(strings.Fields(sql), " ")
	if len(sql) > 300 {
		return sql[:300] + "..."
	}
	return sql
}
