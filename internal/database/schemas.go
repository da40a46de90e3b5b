package database

// CoreSchema is the DDL for core.db: the single transactional home for cash,
// positions, the append-only transaction ledger, and cycle logs. Keeping all
// four in one database is what makes the per-cycle atomic commit
// (one transaction + updated portfolio + one cycle log) a single sql.Tx.
const CoreSchema = `
CREATE TABLE IF NOT EXISTS cash_balance (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    balance REAL NOT NULL CHECK (balance >= 0),
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    symbol TEXT PRIMARY KEY,
    quantity REAL NOT NULL CHECK (quantity >= 0),
    avg_buy_price REAL NOT NULL CHECK (avg_buy_price >= 0),
    last_price REAL NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    symbol TEXT,
    quantity REAL,
    price REAL,
    amount REAL NOT NULL,
    realized_pl REAL,
    balance_after REAL NOT NULL,
    note TEXT,
    executed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_executed_at ON transactions(executed_at);
CREATE INDEX IF NOT EXISTS idx_transactions_symbol ON transactions(symbol);

CREATE TABLE IF NOT EXISTS cycle_logs (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    snapshot TEXT,
    signal TEXT,
    plan TEXT,
    tx TEXT,
    reward TEXT,
    error TEXT,
    started_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cycle_logs_started_at ON cycle_logs(started_at);
`

// HistorySchema is the DDL for history.db: price time series plus the
// msgpack-encoded warm-start cache for the market model.
const HistorySchema = `
CREATE TABLE IF NOT EXISTS prices (
    symbol TEXT NOT NULL,
    ts INTEGER NOT NULL,
    price REAL NOT NULL CHECK (price > 0),
    PRIMARY KEY (symbol, ts)
);

CREATE INDEX IF NOT EXISTS idx_prices_symbol_ts ON prices(symbol, ts DESC);

CREATE TABLE IF NOT EXISTS market_cache (
    symbol TEXT PRIMARY KEY,
    history BLOB NOT NULL,
    updated_at INTEGER NOT NULL
);
`
