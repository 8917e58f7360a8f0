package main

import (
	"bufio"
	"context"
	"flag"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/giftshop/internal/domain/discount"
	"github.com/xenking/giftshop/internal/domain/pricing"
	"github.com/xenking/giftshop/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	maxFiles      = 64
	progressEvery = 1_000_000
	minCodeLen    = 4
	maxCodeLen    = 64
	batchSize     = 5_000
)

type config struct {
	dataDir     string
	databaseURL string
	minFiles    int
	rule        discount.Code
}

// fileResult holds candidate codes found in a single file during pass 2.
type fileResult struct {
	candidates map[string]uint64
}

func main() {
	var (
		cfg         config
		ruleType    string
		ruleValue   string
		minOrder    string
		maxUses     int
		description string
	)

	flag.StringVar(&cfg.dataDir, "data-dir", "data", "directory containing *.gz discount code lists")
	flag.StringVar(&cfg.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&cfg.minFiles, "min-files", 2, "number of lists a code must appear in to be valid")
	flag.StringVar(&ruleType, "type", string(pricing.DiscountPercentage), "discount type: percentage or fixed")
	flag.StringVar(&ruleValue, "value", "10", "discount value")
	flag.StringVar(&minOrder, "min-order", "0", "minimum order subtotal")
	flag.IntVar(&maxUses, "max-uses", 0, "redemption limit per code (0 means unlimited)")
	flag.StringVar(&description, "description", "Promo code: 10% off", "description shown to shoppers")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if cfg.databaseURL == "" {
		cfg.databaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	rule, err := parseRule(ruleType, ruleValue, minOrder, maxUses, description)
	if err != nil {
		lg.Fatal("Invalid discount rule", zap.Error(err))
	}
	cfg.rule = rule

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, cfg); err != nil {
		lg.Fatal("Discount ingest failed", zap.Error(err))
	}

	lg.Info("Discount ingest completed")
}

func parseRule(typ, value, minOrder string, maxUses int, description string) (discount.Code, error) {
	t := pricing.DiscountType(typ)
	if t != pricing.DiscountPercentage && t != pricing.DiscountFixed {
		return discount.Code{}, errors.Errorf("unknown type %q", typ)
	}
	v, err := decimal.NewFromString(value)
	if err != nil {
		return discount.Code{}, errors.Wrap(err, "parse value")
	}
	if !v.IsPositive() {
		return discount.Code{}, errors.New("value must be positive")
	}
	if t == pricing.DiscountPercentage && v.GreaterThan(decimal.NewFromInt(100)) {
		return discount.Code{}, errors.New("percentage must not exceed 100")
	}
	m, err := decimal.NewFromString(minOrder)
	if err != nil {
		return discount.Code{}, errors.Wrap(err, "parse min order")
	}
	if maxUses < 0 {
		return discount.Code{}, errors.New("max uses must not be negative")
	}
	return discount.Code{
		Type:           t,
		Value:          v,
		MinOrderAmount: m,
		MaxUses:        maxUses,
		Description:    description,
		IsActive:       true,
	}, nil
}

func run(ctx context.Context, lg *zap.Logger, cfg config) error {
	files, err := filepath.Glob(filepath.Join(cfg.dataDir, "*.gz"))
	if err != nil {
		return errors.Wrap(err, "list data files")
	}
	sort.Strings(files)
	switch {
	case len(files) == 0:
		return errors.Errorf("no *.gz files in %s", cfg.dataDir)
	case len(files) > maxFiles:
		return errors.Errorf("too many files: %d (max %d)", len(files), maxFiles)
	case cfg.minFiles < 1 || cfg.minFiles > len(files):
		return errors.Errorf("min-files must be between 1 and %d", len(files))
	}

	// Pass 1: one bloom filter per file.
	lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))

	filters, err := buildBloomFilters(ctx, lg, files)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: exact membership for codes the filters place in enough files.
	lg.Info("Pass 2: finding candidate codes")

	codes, err := findValidCodes(ctx, lg, files, filters, cfg.minFiles)
	if err != nil {
		return errors.Wrap(err, "find valid codes")
	}

	lg.Info("Valid codes found", zap.Int("count", len(codes)))

	if len(codes) == 0 {
		return nil
	}

	lg.Info("Connecting to database")

	pool, err := postgres.NewPool(ctx, cfg.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	return writeCodes(ctx, lg, postgres.NewDiscountRepository(pool), codes, cfg.rule)
}

func buildBloomFilters(ctx context.Context, lg *zap.Logger, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			var count uint64

			if err := streamGzFile(ctx, f, func(code string) {
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					lg.Info("Pass 1 progress", zap.String("file", f), zap.Uint64("codes", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for %s", f)
			}

			lg.Info("Pass 1 complete", zap.String("file", f), zap.Uint64("total_codes", count))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findValidCodes re-streams each file and keeps codes that the other files'
// filters report often enough to reach minFiles. The per-file bitmasks are
// then merged so a bloom false positive alone cannot validate a code.
func findValidCodes(ctx context.Context, lg *zap.Logger, files []string, filters []*bloom.BloomFilter, minFiles int) ([]string, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			candidates := make(map[string]uint64)
			fileBit := uint64(1) << uint(i)

			if err := streamGzFile(ctx, f, func(code string) {
				hits := 1
				for j, other := range filters {
					if j != i && other.TestString(code) {
						hits++
					}
				}
				if hits >= minFiles {
					candidates[code] |= fileBit
				}
			}); err != nil {
				return errors.Wrapf(err, "scan %s for candidates", f)
			}

			lg.Info("Pass 2 complete", zap.String("file", f), zap.Int("candidates", len(candidates)))
			results[i] = fileResult{candidates: candidates}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint64)
	for _, r := range results {
		for code, mask := range r.candidates {
			merged[code] |= mask
		}
	}

	var valid []string
	for code, mask := range merged {
		if bits.OnesCount64(mask) >= minFiles {
			valid = append(valid, code)
		}
	}
	sort.Strings(valid)
	return valid, nil
}

// streamGzFile calls fn for each normalized code in a gzip-compressed list.
// Lines outside the accepted code length are skipped.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		code := strings.ToUpper(strings.TrimSpace(scanner.Text()))
		if len(code) < minCodeLen || len(code) > maxCodeLen {
			continue
		}
		fn(code)
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

func writeCodes(ctx context.Context, lg *zap.Logger, repo *postgres.DiscountRepository, codes []string, rule discount.Code) error {
	lg.Info("Writing discount codes", zap.Int("count", len(codes)))

	var inserted int64
	batch := make([]discount.Code, 0, batchSize)
	for start := 0; start < len(codes); start += batchSize {
		end := min(start+batchSize, len(codes))

		batch = batch[:0]
		for _, code := range codes[start:end] {
			c := rule
			c.Code = code
			batch = append(batch, c)
		}

		n, err := repo.BulkInsert(ctx, batch)
		if err != nil {
			return errors.Wrapf(err, "insert batch at %d", start)
		}
		inserted += n

		lg.Info("Write progress",
			zap.Int("written", end),
			zap.Int("total", len(codes)),
			zap.Int64("inserted", inserted),
		)
	}

	lg.Info("Discount codes written",
		zap.Int64("inserted", inserted),
		zap.Int64("skipped", int64(len(codes))-inserted),
	)
	return nil
}
