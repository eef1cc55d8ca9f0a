package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/serendib/storefront/internal/repository"
)

type productJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Slug     string          `json:"slug"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"`
	Stock    int             `json:"stock"`
	Featured bool            `json:"featured"`
	Image    struct {
		Thumbnail string `json:"thumbnail"`
		Mobile    string `json:"mobile"`
		Tablet    string `json:"tablet"`
		Desktop   string `json:"desktop"`
	} `json:"image"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or STORE_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or STORE_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("STORE_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or STORE_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("STORE_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return errors.Wrap(seedProducts(ctx, pool, productsFile), "seed products")
	})
	g.Go(func() error {
		return errors.Wrap(seedPromotions(ctx, pool), "seed promotions")
	})
	g.Go(func() error {
		return errors.Wrap(seedCredits(ctx, pool), "seed store credits")
	})
	g.Go(func() error {
		return errors.Wrap(seedAPIKey(ctx, pool, apiKey, pepper), "seed api key")
	})
	return g.Wait()
}

const upsertProductSQL = `INSERT INTO products
	(id, name, slug, price, category, stock, featured,
	 image_thumbnail, image_mobile, image_tablet, image_desktop)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		slug = EXCLUDED.slug,
		price = EXCLUDED.price,
		category = EXCLUDED.category,
		stock = EXCLUDED.stock,
		featured = EXCLUDED.featured,
		image_thumbnail = EXCLUDED.image_thumbnail,
		image_mobile = EXCLUDED.image_mobile,
		image_tablet = EXCLUDED.image_tablet,
		image_desktop = EXCLUDED.image_desktop`

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	for _, p := range products {
		_, err := pool.Exec(ctx, upsertProductSQL,
			p.ID, p.Name, p.Slug, p.Price, p.Category, p.Stock, p.Featured,
			p.Image.Thumbnail, p.Image.Mobile, p.Image.Tablet, p.Image.Desktop,
		)
		if err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
	}

	slog.Info("products seeded", slog.Int("count", len(products)))
	return nil
}

const upsertPromotionSQL = `INSERT INTO promotions (code, type, value, enabled)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (code) DO UPDATE SET
		type = EXCLUDED.type,
		value = EXCLUDED.value,
		enabled = EXCLUDED.enabled`

// seedPromotions installs a starter set of promotion rules so a fresh
// deployment has working codes out of the box.
func seedPromotions(ctx context.Context, pool *pgxpool.Pool) error {
	promotions := []struct {
		code  string
		typ   string
		value string
	}{
		{"WELCOME10", "percent", "10"},
		{"AVURUDU25", "percent", "25"},
		{"SAVE500", "fixed", "500"},
		{"FREESHIP", "freeShipping", "0"},
	}

	for _, p := range promotions {
		value, err := decimal.NewFromString(p.value)
		if err != nil {
			return errors.Wrapf(err, "parse value for %s", p.code)
		}
		if _, err := pool.Exec(ctx, upsertPromotionSQL, p.code, p.typ, value, true); err != nil {
			return errors.Wrapf(err, "upsert promotion %s", p.code)
		}
	}

	slog.Info("promotions seeded", slog.Int("count", len(promotions)))
	return nil
}

const seedCreditSQL = `INSERT INTO store_credits (code, amount, enabled, min_order_total)
	VALUES ($1, $2, TRUE, $3)
	ON CONFLICT (code) DO NOTHING`

// seedCredits installs demo store credits. Conflicts are skipped so a
// reseed never resets a consumed credit.
func seedCredits(ctx context.Context, pool *pgxpool.Pool) error {
	minTotal := decimal.NewFromInt(5000)
	credits := []struct {
		code     string
		amount   decimal.Decimal
		minTotal *decimal.Decimal
	}{
		{"GIFT-500", decimal.NewFromInt(500), nil},
		{"GIFT-1000", decimal.NewFromInt(1000), &minTotal},
	}

	for _, c := range credits {
		if _, err := pool.Exec(ctx, seedCreditSQL, c.code, c.amount, c.minTotal); err != nil {
			return errors.Wrapf(err, "insert credit %s", c.code)
		}
	}

	slog.Info("store credits seeded", slog.Int("count", len(credits)))
	return nil
}

const upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, scopes, active)
	VALUES (gen_random_uuid()::text, $1, $2, $3, TRUE)
	ON CONFLICT (key_hash) DO UPDATE SET active = TRUE`

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(apiKey))
	hash := hex.EncodeToString(mac.Sum(nil))

	_, err := pool.Exec(ctx, upsertAPIKeySQL, hash, "seed-admin", []string{"admin"})
	if err != nil {
		return errors.Wrap(err, "upsert api key")
	}

	slog.Info("api key seeded", slog.String("name", "seed-admin"))
	return nil
}
