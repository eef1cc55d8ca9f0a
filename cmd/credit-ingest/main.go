// Command credit-ingest bulk-loads store credit codes from gzip'd CSV
// exports produced by the gift card vendor. Each line is "CODE,AMOUNT".
// Exports overlap between drops, so codes are deduplicated with bloom
// filters before touching the database: a code already seen in an
// earlier file within the same run is skipped without a DB round trip.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/serendib/storefront/internal/repository"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	minCodeLen    = 8
	maxCodeLen    = 24
	insertWorkers = 4
)

type creditLine struct {
	code   string
	amount decimal.Decimal
}

func main() {
	var (
		dataDir     string
		databaseURL string
		minTotal    float64
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.csv.gz credit exports")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Float64Var(&minTotal, "min-order-total", 0, "minimum order total applied to every imported credit (0 = none)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, minTotal); err != nil {
		slog.Error("credit ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("credit ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string, minTotal float64) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.csv.gz"))
	if err != nil {
		return errors.Wrap(err, "glob data dir")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.csv.gz files in %s", dataDir)
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	var minOrderTotal *decimal.Decimal
	if minTotal > 0 {
		v := decimal.NewFromFloat(minTotal)
		minOrderTotal = &v
	}

	// Producer streams files and dedupes through the shared filter;
	// workers write the surviving lines.
	seen := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	var seenMu sync.Mutex

	lines := make(chan creditLine, 10_000)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(lines)
		for _, f := range files {
			if err := streamFile(ctx, f, seen, &seenMu, lines); err != nil {
				return errors.Wrapf(err, "stream %s", f)
			}
		}
		return nil
	})
	for i := 0; i < insertWorkers; i++ {
		g.Go(func() error {
			return insertCredits(ctx, pool, lines, minOrderTotal)
		})
	}

	return g.Wait()
}

// streamFile reads one gzip'd CSV export, parses and validates each
// line, and forwards unseen codes.
func streamFile(ctx context.Context, path string, seen *bloom.BloomFilter, mu *sync.Mutex, out chan<- creditLine) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	slog.Info("streaming file", slog.String("path", path))

	var total, forwarded uint64
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		total++
		if total%progressEvery == 0 {
			slog.Info("ingest progress",
				slog.String("file", filepath.Base(path)),
				slog.Uint64("lines", total),
			)
		}

		line, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}

		mu.Lock()
		dup := seen.TestString(line.code)
		if !dup {
			seen.AddString(line.code)
		}
		mu.Unlock()
		if dup {
			continue
		}

		select {
		case out <- line:
			forwarded++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "scan")
	}

	slog.Info("file complete",
		slog.String("file", filepath.Base(path)),
		slog.Uint64("lines", total),
		slog.Uint64("forwarded", forwarded),
	)
	return nil
}

// parseLine validates a "CODE,AMOUNT" line. Codes are uppercased;
// malformed lines and non-positive amounts are dropped.
func parseLine(raw string) (creditLine, bool) {
	code, amountStr, ok := strings.Cut(strings.TrimSpace(raw), ",")
	if !ok {
		return creditLine{}, false
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) < minCodeLen || len(code) > maxCodeLen {
		return creditLine{}, false
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(amountStr))
	if err != nil || !amount.IsPositive() {
		return creditLine{}, false
	}
	return creditLine{code: code, amount: amount}, true
}

const insertCreditSQL = `INSERT INTO store_credits (code, amount, enabled, min_order_total)
	VALUES ($1, $2, TRUE, $3)
	ON CONFLICT (code) DO NOTHING`

func insertCredits(ctx context.Context, pool *pgxpool.Pool, lines <-chan creditLine, minOrderTotal *decimal.Decimal) error {
	for line := range lines {
		if _, err := pool.Exec(ctx, insertCreditSQL, line.code, line.amount, minOrderTotal); err != nil {
			return errors.Wrapf(err, "insert credit %s", line.code)
		}
	}
	return nil
}
