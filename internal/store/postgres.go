package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/propwatch/ingest-cli/internal/db"
	"github.com/propwatch/ingest-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	nowFunc func() time.Time

	fallbackOnce sync.Once
	fallback     fallbackIDs
	fallbackErr  error
}

// fallbackIDs holds the unclassified sentinel row ids, resolved once per
// store lifetime. Listing upserts that trip a dimension FK retry with these.
type fallbackIDs struct {
	propertyType int64
	tradeType    int64
	region       int64
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest per-listing operations.
var preparedStatements = map[string]string{
	"select_listing": `SELECT id, property_type_id, trade_type_id, region_id, name, description, active FROM listings WHERE external_id = $1 FOR UPDATE`,
	"current_prices": `SELECT kind, amount FROM price_records WHERE listing_id = $1 AND valid_to IS NULL`,
	"close_price":    `UPDATE price_records SET valid_to = $1 WHERE listing_id = $2 AND kind = $3 AND valid_to IS NULL`,
	"insert_price":   `INSERT INTO price_records (listing_id, kind, amount, valid_from) VALUES ($1, $2, $3, $4)`,
	"insert_change":  `INSERT INTO change_history (id, listing_id, field, old_value, new_value, detected_at) VALUES ($1, $2, $3, $4, $5, $6)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, nowFunc: time.Now}, nil
}

// NewPostgresWithPool wraps an existing pool. Tests use it with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, nowFunc: time.Now}
}

// Pool returns the underlying database pool for use by subsystems that need
// direct query access (e.g., completeness metrics).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS property_types (
	id   BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	code TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trade_types (
	id   BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	code TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS regions (
	id      BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	code    TEXT NOT NULL UNIQUE,
	name    TEXT NOT NULL,
	min_lat DOUBLE PRECISION NOT NULL DEFAULT 0,
	min_lon DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_lat DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_lon DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS facilities (
	id   BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	code TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS listings (
	id               BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	external_id      TEXT NOT NULL UNIQUE,
	property_type_id BIGINT NOT NULL REFERENCES property_types(id),
	trade_type_id    BIGINT NOT NULL REFERENCES trade_types(id),
	region_id        BIGINT NOT NULL REFERENCES regions(id),
	crawl_region_id  BIGINT NOT NULL REFERENCES regions(id),
	name             TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	active           BOOLEAN NOT NULL DEFAULT TRUE,
	first_seen_at    TIMESTAMPTZ NOT NULL,
	last_seen_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_listings_region ON listings(region_id);
CREATE INDEX IF NOT EXISTS idx_listings_crawl_region ON listings(crawl_region_id);
CREATE INDEX IF NOT EXISTS idx_listings_active_seen ON listings(active, last_seen_at);

CREATE TABLE IF NOT EXISTS price_records (
	id         BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	listing_id BIGINT NOT NULL REFERENCES listings(id),
	kind       TEXT NOT NULL,
	amount     BIGINT NOT NULL,
	valid_from TIMESTAMPTZ NOT NULL,
	valid_to   TIMESTAMPTZ
);

-- At most one open interval per (listing, kind).
CREATE UNIQUE INDEX IF NOT EXISTS uq_price_current
	ON price_records(listing_id, kind) WHERE valid_to IS NULL;
CREATE INDEX IF NOT EXISTS idx_price_listing ON price_records(listing_id);

CREATE TABLE IF NOT EXISTS listing_locations (
	listing_id       BIGINT PRIMARY KEY REFERENCES listings(id),
	latitude         DOUBLE PRECISION,
	longitude        DOUBLE PRECISION,
	address          TEXT,
	road_address     TEXT,
	building_name    TEXT,
	postal_code      TEXT,
	enriched_address TEXT
);

CREATE TABLE IF NOT EXISTS listing_physical (
	listing_id     BIGINT PRIMARY KEY REFERENCES listings(id),
	area_exclusive DOUBLE PRECISION,
	area_gross     DOUBLE PRECISION,
	rooms          INTEGER,
	bathrooms      INTEGER,
	floor          INTEGER,
	total_floors   INTEGER,
	direction      TEXT,
	built_year     INTEGER,
	condition      TEXT
);

CREATE TABLE IF NOT EXISTS listing_facilities (
	listing_id  BIGINT NOT NULL REFERENCES listings(id),
	facility_id BIGINT NOT NULL REFERENCES facilities(id),
	available   BOOLEAN NOT NULL DEFAULT TRUE,
	PRIMARY KEY (listing_id, facility_id)
);

CREATE TABLE IF NOT EXISTS agents (
	id          BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	natural_key TEXT NOT NULL UNIQUE,
	business_id TEXT NOT NULL DEFAULT '',
	name        TEXT NOT NULL DEFAULT '',
	phone       TEXT NOT NULL DEFAULT '',
	email       TEXT NOT NULL DEFAULT '',
	office_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS listing_agents (
	listing_id BIGINT NOT NULL REFERENCES listings(id),
	agent_id   BIGINT NOT NULL REFERENCES agents(id),
	"primary"  BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (listing_id, agent_id)
);

-- At most one primary agent per listing.
CREATE UNIQUE INDEX IF NOT EXISTS uq_listing_primary_agent
	ON listing_agents(listing_id) WHERE "primary";

CREATE TABLE IF NOT EXISTS listing_images (
	listing_id BIGINT NOT NULL REFERENCES listings(id),
	position   INTEGER NOT NULL,
	url        TEXT NOT NULL,
	kind       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (listing_id, position)
);

CREATE TABLE IF NOT EXISTS listing_taxes (
	listing_id          BIGINT PRIMARY KEY REFERENCES listings(id),
	acquisition_tax     BIGINT,
	registration_tax    BIGINT,
	annual_property_tax BIGINT
);

CREATE TABLE IF NOT EXISTS comparable_sales (
	id             BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	listing_id     BIGINT NOT NULL REFERENCES listings(id),
	trade_date     DATE NOT NULL,
	amount         BIGINT NOT NULL,
	area_exclusive DOUBLE PRECISION,
	floor          INTEGER
);

CREATE INDEX IF NOT EXISTS idx_comparables_listing ON comparable_sales(listing_id);

CREATE TABLE IF NOT EXISTS change_history (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	listing_id  BIGINT NOT NULL REFERENCES listings(id),
	field       TEXT NOT NULL,
	old_value   TEXT NOT NULL,
	new_value   TEXT NOT NULL,
	detected_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_change_history_listing ON change_history(listing_id);

CREATE TABLE IF NOT EXISTS delisting_records (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	listing_id     BIGINT NOT NULL REFERENCES listings(id),
	final_prices   JSONB NOT NULL DEFAULT '{}',
	final_snapshot JSONB,
	delisted_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_delisting_listing ON delisting_records(listing_id);

CREATE TABLE IF NOT EXISTS crawl_cycles (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	region_code   TEXT NOT NULL,
	status        TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ NOT NULL,
	pages_fetched INTEGER NOT NULL DEFAULT 0,
	listings_seen INTEGER NOT NULL DEFAULT 0,
	succeeded     INTEGER NOT NULL DEFAULT 0,
	partial       INTEGER NOT NULL DEFAULT 0,
	failed        INTEGER NOT NULL DEFAULT 0,
	price_changes INTEGER NOT NULL DEFAULT 0,
	delisted      INTEGER NOT NULL DEFAULT 0,
	new_listings  INTEGER NOT NULL DEFAULT 0,
	errors        JSONB NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_crawl_cycles_started ON crawl_cycles(started_at DESC);

INSERT INTO property_types (code, name) VALUES ('unclassified', 'Unclassified') ON CONFLICT (code) DO NOTHING;
INSERT INTO trade_types (code, name) VALUES ('unclassified', 'Unclassified') ON CONFLICT (code) DO NOTHING;
INSERT INTO regions (code, name) VALUES ('unclassified', 'Unclassified') ON CONFLICT (code) DO NOTHING;
INSERT INTO facilities (code, name) VALUES ('unclassified', 'Unclassified') ON CONFLICT (code) DO NOTHING;
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// ensureDimension inserts a dimension row or returns the existing one. The
// no-op DO UPDATE makes ON CONFLICT still return the row id.
func (s *PostgresStore) ensureDimension(ctx context.Context, table, code, name string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+table+` (code, name) VALUES ($1, $2)
		 ON CONFLICT (code) DO UPDATE SET code = EXCLUDED.code
		 RETURNING id`,
		code, name,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: ensure %s %s", table, code)
	}
	return id, nil
}

func (s *PostgresStore) EnsurePropertyType(ctx context.Context, code, name string) (int64, error) {
	return s.ensureDimension(ctx, "property_types", code, name)
}

func (s *PostgresStore) EnsureTradeType(ctx context.Context, code, name string) (int64, error) {
	return s.ensureDimension(ctx, "trade_types", code, name)
}

func (s *PostgresStore) EnsureRegion(ctx context.Context, code, name string) (int64, error) {
	return s.ensureDimension(ctx, "regions", code, name)
}

func (s *PostgresStore) EnsureFacility(ctx context.Context, code, name string) (int64, error) {
	return s.ensureDimension(ctx, "facilities", code, name)
}

func (s *PostgresStore) ListRegions(ctx context.Context) ([]model.Region, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, code, name, min_lat, min_lon, max_lat, max_lon FROM regions ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list regions")
	}
	defer rows.Close()

	var regions []model.Region
	for rows.Next() {
		var r model.Region
		if err := rows.Scan(&r.ID, &r.Code, &r.Name, &r.MinLat, &r.MinLon, &r.MaxLat, &r.MaxLon); err != nil {
			return nil, eris.Wrap(err, "postgres: scan region")
		}
		regions = append(regions, r)
	}
	return regions, eris.Wrap(rows.Err(), "postgres: list regions iterate")
}

// UpsertRegionBoxes bulk-creates or updates regions with their bounding
// boxes. The boundary loader calls this with boxes derived from shapefiles;
// a national release carries thousands of rows, so this goes through the
// COPY-based bulk path.
func (s *PostgresStore) UpsertRegionBoxes(ctx context.Context, regions []model.Region) (int64, error) {
	rows := make([][]any, 0, len(regions))
	for _, r := range regions {
		rows = append(rows, []any{r.Code, r.Name, r.MinLat, r.MinLon, r.MaxLat, r.MaxLon})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "regions",
		Columns:      []string{"code", "name", "min_lat", "min_lon", "max_lat", "max_lon"},
		ConflictKeys: []string{"code"},
	}, rows)
	return n, eris.Wrap(err, "postgres: bulk upsert regions")
}

// SetEnrichedAddress stores a reverse-geocoded address on the listing's
// location row. Best-effort enrichment: a missing location row is not an
// error.
func (s *PostgresStore) SetEnrichedAddress(ctx context.Context, listingID int64, address string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE listing_locations SET enriched_address = $1 WHERE listing_id = $2`,
		address, listingID,
	)
	return eris.Wrapf(err, "postgres: set enriched address for listing %d", listingID)
}

func (s *PostgresStore) SaveCycleReport(ctx context.Context, report *model.CycleReport) error {
	errorsJSON, err := json.Marshal(report.Errors)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal cycle errors")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO crawl_cycles
		 (id, region_code, status, started_at, finished_at, pages_fetched, listings_seen,
		  succeeded, partial, failed, price_changes, delisted, new_listings, errors)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		report.ID, report.RegionCode, string(report.Status), report.StartedAt, report.FinishedAt,
		report.PagesFetched, report.ListingsSeen, report.Succeeded, report.Partial, report.Failed,
		report.PriceChanges, report.Delisted, report.NewListings, errorsJSON,
	)
	return eris.Wrap(err, "postgres: save cycle report")
}

func (s *PostgresStore) ListCycleReports(ctx context.Context, limit int) ([]model.CycleReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, region_code, status, started_at, finished_at, pages_fetched, listings_seen,
		        succeeded, partial, failed, price_changes, delisted, new_listings, errors
		 FROM crawl_cycles ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list cycle reports")
	}
	defer rows.Close()

	var reports []model.CycleReport
	for rows.Next() {
		var r model.CycleReport
		var errorsJSON []byte
		if err := rows.Scan(&r.ID, &r.RegionCode, &r.Status, &r.StartedAt, &r.FinishedAt,
			&r.PagesFetched, &r.ListingsSeen, &r.Succeeded, &r.Partial, &r.Failed,
			&r.PriceChanges, &r.Delisted, &r.NewListings, &errorsJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cycle report")
		}
		if len(errorsJSON) > 0 {
			if err := json.Unmarshal(errorsJSON, &r.Errors); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal cycle errors")
			}
		}
		reports = append(reports, r)
	}
	return reports, eris.Wrap(rows.Err(), "postgres: list cycle reports iterate")
}

// fallbackDimensions resolves the unclassified sentinel ids once.
func (s *PostgresStore) fallbackDimensions(ctx context.Context) (fallbackIDs, error) {
	s.fallbackOnce.Do(func() {
		var ids fallbackIDs
		var err error
		if ids.propertyType, err = s.EnsurePropertyType(ctx, model.UnclassifiedCode, "Unclassified"); err != nil {
			s.fallbackErr = err
			return
		}
		if ids.tradeType, err = s.EnsureTradeType(ctx, model.UnclassifiedCode, "Unclassified"); err != nil {
			s.fallbackErr = err
			return
		}
		if ids.region, err = s.EnsureRegion(ctx, model.UnclassifiedCode, "Unclassified"); err != nil {
			s.fallbackErr = err
			return
		}
		s.fallback = ids
	})
	return s.fallback, s.fallbackErr
}

// queryer is the statement surface shared by pgx.Tx and the pool.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// isConstraintViolation reports whether the error is a Postgres integrity
// constraint violation (SQLSTATE class 23).
func isConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && len(pgErr.Code) == 5 && pgErr.Code[:2] == "23"
}
