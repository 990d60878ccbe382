package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wildlife-challenge-system/metrics"
	"wildlife-challenge-system/models"
	"wildlife-challenge-system/services"
	"wildlife-challenge-system/utils"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// core is the service graph shared by the server and the admin subcommands.
type core struct {
	db          *gorm.DB
	metrics     *metrics.Manager
	keyer       *services.RegionKeyer
	catalog     *services.CatalogService
	manifests   *services.ManifestStore
	sampler     *services.ChallengeSampler
	challenges  *services.UserChallengeStore
	badges      *services.BadgeService
	progression *services.ProgressionService
}

func openDatabase() (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DatabaseDriver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DatabaseURL)
	default:
		dialector = postgres.Open(cfg.DatabaseURL)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.DatabaseDriver == "sqlite" {
		// sqlite serialises writers; one connection avoids SQLITE_BUSY.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// unconfiguredGenerator stands in when no AI key is set. Stored manifests
// still serve, new regions fail with a generation error.
type unconfiguredGenerator struct{}

func (unconfiguredGenerator) SuggestProbabilities(context.Context, string, []string) ([]models.ManifestEntry, error) {
	return nil, errors.New("AI_API_KEY is not configured")
}

func buildCore(ctx context.Context) (*core, error) {
	db, err := openDatabase()
	if err != nil {
		return nil, err
	}
	m := metrics.NewManager()

	var geocoder services.Geocoder
	if cfg.GeocoderBaseURL != "" {
		geocoder = services.NewNominatimGeocoder(cfg.GeocoderBaseURL, cfg.GeocoderUserAgent, cfg.GeocoderCacheTTL, nil)
	}
	keyer := services.NewRegionKeyer(cfg.RegionCellDegrees, geocoder, log)

	var generator services.ManifestGenerator = unconfiguredGenerator{}
	if ai, err := services.NewAIManifestClient(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel, cfg.AITimeout); err != nil {
		log.Warn("⚠️ manifest generation disabled", "error", err)
	} else {
		generator = ai
	}

	manifestOpts := []services.ManifestStoreOption{
		services.WithGenerationTimeout(cfg.AITimeout),
		services.WithManifestMetrics(m),
		services.WithManifestLogger(log),
	}
	r2 := utils.R2Settings{
		AccountID:       cfg.CloudflareAccountID,
		AccessKeyID:     cfg.R2AccessKeyID,
		AccessKeySecret: cfg.R2AccessKeySecret,
		Bucket:          cfg.R2BucketName,
	}
	if r2.Configured() {
		archiver, err := utils.NewR2Archiver(ctx, r2)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize R2 client: %w", err)
		}
		manifestOpts = append(manifestOpts, services.WithArchiver(archiver))
	}

	catalog := services.NewCatalogService(db)
	manifests := services.NewManifestStore(db, catalog, generator, manifestOpts...)

	sampler := services.NewChallengeSampler(services.SamplerPolicy{
		DailyCount:       cfg.DailyCount,
		WeeklyCount:      cfg.WeeklyCount,
		MaxRequiredCount: cfg.MaxRequiredCount,
		RarityFloor:      cfg.RarityFloor,
		RareThreshold:    cfg.RareThreshold,
		RareBoost:        cfg.RareBoost,
		ExcludeMastered:  cfg.ExcludeMastered,
	})
	challenges := services.NewUserChallengeStore(db, manifests, sampler,
		services.WithXPWeights(float64(cfg.DailyXPWeight), float64(cfg.WeeklyXPWeight)),
		services.WithChallengeMetrics(m),
		services.WithChallengeLogger(log),
	)

	badges := services.NewBadgeService(db, log)
	progression := services.NewProgressionService(db, badges, m, log)

	return &core{
		db:          db,
		metrics:     m,
		keyer:       keyer,
		catalog:     catalog,
		manifests:   manifests,
		sampler:     sampler,
		challenges:  challenges,
		badges:      badges,
		progression: progression,
	}, nil
}

func (c *core) close() {
	if sqlDB, err := c.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
