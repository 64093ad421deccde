package storage

// sqlite.go: persistencia del agente.
//
// Estrategia:
//   - `snapshot`: siempre 1 fila con el AgentSnapshot completo en JSON.
//   - `signals`: histórico de scores. Solo se escribe un score si cambió
//     respecto al último guardado del ticker (> 5% en sentimiento o confianza,
//     o distinto número de menciones). Cache en memoria precargada al abrir.
//   - `transitions` y `usage`: log de auditoría append-only.
//   - Prune automático al arrancar: señales > 14d, auditoría > 90d.
//
// Los instantes se guardan como milisegundos Unix (INTEGER).

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	json "github.com/bytedance/sonic"

	"github.com/alejandrodnm/sentibot/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshot (
    id       INTEGER PRIMARY KEY CHECK (id = 1),
    version  INTEGER NOT NULL,
    saved_ms INTEGER NOT NULL,
    body     TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS signals (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    ticker      TEXT    NOT NULL,
    sentiment   REAL    NOT NULL,
    confidence  REAL    NOT NULL,
    mentions    INTEGER NOT NULL DEFAULT 0,
    weight      REAL    NOT NULL DEFAULT 0,
    computed_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS transitions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    position_id TEXT    NOT NULL,
    ticker      TEXT    NOT NULL,
    from_state  TEXT    NOT NULL,
    to_state    TEXT    NOT NULL,
    reason      TEXT,
    gain_pct    REAL    NOT NULL DEFAULT 0,
    at_ms       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS usage (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    ticker      TEXT    NOT NULL,
    position_id TEXT,
    mode        TEXT    NOT NULL,
    model       TEXT,
    verdict     TEXT,
    confidence  REAL    NOT NULL DEFAULT 0,
    usd         REAL    NOT NULL DEFAULT 0,
    tokens_in   INTEGER NOT NULL DEFAULT 0,
    tokens_out  INTEGER NOT NULL DEFAULT 0,
    at_ms       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signals_ticker ON signals(ticker, computed_ms DESC);
CREATE INDEX IF NOT EXISTS idx_trans_pos      ON transitions(position_id, at_ms);
CREATE INDEX IF NOT EXISTS idx_usage_at       ON usage(at_ms DESC);
`

const (
	retentionSignals = 14 * 24 * time.Hour
	retentionAudit   = 90 * 24 * time.Hour
	scoreChangePct   = 0.05 // 5% de cambio → reescribir
)

// cachedScore es el último score guardado de un ticker.
type cachedScore struct {
	sentiment  float64
	confidence float64
	mentions   int
}

// SQLiteStorage implementa ports.StateStore usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db    *sql.DB
	now   func() time.Time
	cache map[string]cachedScore // ticker → último score guardado
	mu    sync.Mutex
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
// Aplica el schema, limpia datos antiguos y precarga la cache.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{
		db:    db,
		now:   time.Now,
		cache: make(map[string]cachedScore),
	}
	s.pruneOld(context.Background())
	s.warmCache(context.Background())
	return s, nil
}

// SaveSnapshot reemplaza el snapshot guardado.
func (s *SQLiteStorage) SaveSnapshot(ctx context.Context, snap domain.AgentSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("storage.SaveSnapshot: encode: %w", err)
	}
	saved := snap.SavedAt
	if saved.IsZero() {
		saved = s.now()
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshot (id, version, saved_ms, body) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version  = excluded.version,
			saved_ms = excluded.saved_ms,
			body     = excluded.body
	`, snap.Version, saved.UnixMilli(), string(body)); err != nil {
		return fmt.Errorf("storage.SaveSnapshot: upsert: %w", err)
	}
	return nil
}

// LoadSnapshot devuelve el snapshot guardado. Un cuerpo ilegible es
// domain.ErrStateCorrupt; la validación semántica la hace quien restaura.
func (s *SQLiteStorage) LoadSnapshot(ctx context.Context) (domain.AgentSnapshot, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM snapshot WHERE id = 1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AgentSnapshot{}, false, nil
	}
	if err != nil {
		return domain.AgentSnapshot{}, false, fmt.Errorf("storage.LoadSnapshot: query: %w", err)
	}

	var snap domain.AgentSnapshot
	if err := json.UnmarshalString(body, &snap); err != nil {
		return domain.AgentSnapshot{}, false, fmt.Errorf("storage.LoadSnapshot: decode: %w: %v", domain.ErrStateCorrupt, err)
	}
	return snap, true, nil
}

// SaveSignals guarda los scores que cambiaron respecto al último guardado.
func (s *SQLiteStorage) SaveSignals(ctx context.Context, scores []domain.SignalScore) error {
	toWrite := s.filterChanged(scores)
	if len(toWrite) == 0 {
		return nil // nada nuevo
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveSignals: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO signals (ticker, sentiment, confidence, mentions, weight, computed_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("storage.SaveSignals: prepare: %w", err)
	}
	defer stmt.Close()

	for _, sc := range toWrite {
		if _, err := stmt.ExecContext(ctx,
			sc.Ticker, sc.Sentiment, sc.Confidence, sc.MentionCount, sc.TotalWeight, sc.ComputedAt.UnixMilli(),
		); err != nil {
			s.forget(toWrite)
			return fmt.Errorf("storage.SaveSignals: insert %s: %w", sc.Ticker, err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.forget(toWrite)
		return fmt.Errorf("storage.SaveSignals: commit: %w", err)
	}
	return nil
}

// RecordTransition guarda un cambio de estado de una posición.
func (s *SQLiteStorage) RecordTransition(ctx context.Context, tr domain.Transition) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO transitions (position_id, ticker, from_state, to_state, reason, gain_pct, at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, tr.PositionID, tr.Ticker, string(tr.From), string(tr.To), tr.Reason, finite(tr.GainPct), tr.At.UnixMilli()); err != nil {
		return fmt.Errorf("storage.RecordTransition: insert %s: %w", tr.Ticker, err)
	}
	return nil
}

// RecordUsage guarda una llamada LLM medida.
func (s *SQLiteStorage) RecordUsage(ctx context.Context, res domain.ResearchResult) error {
	at := res.CompletedAt
	if at.IsZero() {
		at = s.now()
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO usage (ticker, position_id, mode, model, verdict, confidence, usd, tokens_in, tokens_out, at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, res.Ticker, res.PositionID, string(res.Mode), res.Model, string(res.Recommendation),
		res.Confidence, res.Usage.USD, res.Usage.TokensIn, res.Usage.TokensOut, at.UnixMilli(),
	); err != nil {
		return fmt.Errorf("storage.RecordUsage: insert %s: %w", res.Ticker, err)
	}
	return nil
}

// SignalHistory devuelve los scores guardados de ticker en [from, to],
// más recientes primero.
func (s *SQLiteStorage) SignalHistory(ctx context.Context, ticker string, from, to time.Time) ([]domain.SignalScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticker, sentiment, confidence, mentions, weight, computed_ms
		FROM signals
		WHERE ticker = ? AND computed_ms BETWEEN ? AND ?
		ORDER BY computed_ms DESC
	`, domain.NormalizeTicker(ticker), from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("storage.SignalHistory: query: %w", err)
	}
	defer rows.Close()

	var out []domain.SignalScore
	for rows.Next() {
		var sc domain.SignalScore
		var computed int64
		if err := rows.Scan(&sc.Ticker, &sc.Sentiment, &sc.Confidence, &sc.MentionCount, &sc.TotalWeight, &computed); err != nil {
			return nil, fmt.Errorf("storage.SignalHistory: scan row: %w", err)
		}
		sc.ComputedAt = time.UnixMilli(computed).UTC()
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Transitions devuelve el historial de una posición en orden cronológico.
func (s *SQLiteStorage) Transitions(ctx context.Context, positionID string) ([]domain.Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position_id, ticker, from_state, to_state, COALESCE(reason, ''), gain_pct, at_ms
		FROM transitions
		WHERE position_id = ?
		ORDER BY at_ms, id
	`, positionID)
	if err != nil {
		return nil, fmt.Errorf("storage.Transitions: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Transition
	for rows.Next() {
		var tr domain.Transition
		var from, to string
		var at int64
		if err := rows.Scan(&tr.PositionID, &tr.Ticker, &from, &to, &tr.Reason, &tr.GainPct, &at); err != nil {
			return nil, fmt.Errorf("storage.Transitions: scan row: %w", err)
		}
		tr.From = domain.PositionState(from)
		tr.To = domain.PositionState(to)
		tr.At = time.UnixMilli(at).UTC()
		out = append(out, tr)
	}
	return out, rows.Err()
}

// UsageSince suma el gasto LLM registrado desde since.
func (s *SQLiteStorage) UsageSince(ctx context.Context, since time.Time) (domain.CostTracker, error) {
	var c domain.CostTracker
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(usd), 0), COALESCE(SUM(tokens_in), 0), COALESCE(SUM(tokens_out), 0)
		FROM usage WHERE at_ms >= ?
	`, since.UnixMilli()).Scan(&c.Calls, &c.TotalUSD, &c.TokensIn, &c.TokensOut)
	if err != nil {
		return domain.CostTracker{}, fmt.Errorf("storage.UsageSince: query: %w", err)
	}
	return c, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

// filterChanged devuelve los scores que cambiaron respecto al estado en caché,
// y actualiza la caché con el nuevo estado.
func (s *SQLiteStorage) filterChanged(scores []domain.SignalScore) []domain.SignalScore {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toWrite []domain.SignalScore
	for _, sc := range scores {
		if sc.Ticker == "" || !finiteAll(sc.Sentiment, sc.Confidence, sc.TotalWeight) {
			continue
		}
		sc.Ticker = domain.NormalizeTicker(sc.Ticker)

		if prev, ok := s.cache[sc.Ticker]; ok {
			unchanged := prev.mentions == sc.MentionCount &&
				relChange(prev.sentiment, sc.Sentiment) < scoreChangePct &&
				relChange(prev.confidence, sc.Confidence) < scoreChangePct
			if unchanged {
				continue
			}
		}

		toWrite = append(toWrite, sc)
		s.cache[sc.Ticker] = cachedScore{
			sentiment:  sc.Sentiment,
			confidence: sc.Confidence,
			mentions:   sc.MentionCount,
		}
	}
	return toWrite
}

// forget borra de la caché los tickers de una escritura fallida.
func (s *SQLiteStorage) forget(scores []domain.SignalScore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range scores {
		delete(s.cache, sc.Ticker)
	}
}

// pruneOld elimina datos antiguos para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	now := s.now()
	s.db.ExecContext(ctx, `DELETE FROM signals WHERE computed_ms < ?`, now.Add(-retentionSignals).UnixMilli())
	s.db.ExecContext(ctx, `DELETE FROM transitions WHERE at_ms < ?`, now.Add(-retentionAudit).UnixMilli())
	s.db.ExecContext(ctx, `DELETE FROM usage WHERE at_ms < ?`, now.Add(-retentionAudit).UnixMilli())
}

// warmCache precarga el último score de cada ticker, evitando escrituras
// redundantes en el primer ciclo tras un reinicio.
func (s *SQLiteStorage) warmCache(ctx context.Context) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.ticker, s.sentiment, s.confidence, s.mentions
		FROM signals s
		JOIN (SELECT ticker, MAX(id) AS id FROM signals GROUP BY ticker) last ON last.id = s.id
	`)
	if err != nil {
		return
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var ticker string
		var c cachedScore
		if rows.Scan(&ticker, &c.sentiment, &c.confidence, &c.mentions) == nil {
			s.cache[ticker] = c
		}
	}
}

// relChange devuelve el cambio relativo entre dos valores (0.0 – ∞).
func relChange(old, new float64) float64 {
	if old == 0 {
		if new == 0 {
			return 0
		}
		return 1.0 // forzar escritura si antes era 0
	}
	return math.Abs(new-old) / math.Abs(old)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func finiteAll(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
