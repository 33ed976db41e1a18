package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kairosdex/launchpad/internal/storage"
	"github.com/kairosdex/launchpad/internal/storage/models"
)

// gormLogger adapts zap to gorm's logger.Interface.
type gormLogger struct {
	zapLogger *zap.Logger
	logLevel  logger.LogLevel
}

func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{
		zapLogger: zapLogger,
		logLevel:  logger.Warn,
	}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		l.zapLogger.Error("trace", append(fields, zap.Error(err))...)
		return
	}

	if l.logLevel >= logger.Info {
		l.zapLogger.Info("trace", fields...)
	}
}

type postgresStorage struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStorage connects to Postgres and returns a storage.Storage.
func NewStorage(dsn string, zapLogger *zap.Logger) (storage.Storage, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &postgresStorage{
		db:     db,
		logger: zapLogger,
	}, nil
}

func (p *postgresStorage) RunMigrations() error {
	var lockObtained bool
	err := p.db.Raw("SELECT pg_try_advisory_lock(4217)").Scan(&lockObtained).Error
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !lockObtained {
		return fmt.Errorf("another migration is in progress")
	}
	defer p.db.Exec("SELECT pg_advisory_unlock(4217)")

	err = p.db.AutoMigrate(
		&models.Instrument{},
		&models.Trade{},
		&models.ReferralRecord{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (p *postgresStorage) SaveInstrument(ctx context.Context, inst *models.Instrument) error {
	err := p.db.WithContext(ctx).Create(inst).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrDuplicateInstrument
	}
	return err
}

func (p *postgresStorage) GetInstrument(ctx context.Context, mint string) (*models.Instrument, error) {
	var inst models.Instrument
	err := p.db.WithContext(ctx).Where("mint = ?", mint).First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (p *postgresStorage) ListInstruments(ctx context.Context) ([]*models.Instrument, error) {
	var insts []*models.Instrument
	err := p.db.WithContext(ctx).Order("created_at asc").Find(&insts).Error
	return insts, err
}

func (p *postgresStorage) UpdateInstrumentState(ctx context.Context, mint string, tokensRemaining, tokensSold, amountCollected uint64) error {
	return p.db.WithContext(ctx).Model(&models.Instrument{}).
		Where("mint = ?", mint).
		Updates(map[string]interface{}{
			"tokens_remaining": tokensRemaining,
			"tokens_sold":      tokensSold,
			"amount_collected": amountCollected,
		}).Error
}

func (p *postgresStorage) UpdateInstrumentKey(ctx context.Context, mint string, reserveKey []byte) error {
	return p.db.WithContext(ctx).Model(&models.Instrument{}).
		Where("mint = ?", mint).
		Update("reserve_key", reserveKey).Error
}

func (p *postgresStorage) MarkGraduated(ctx context.Context, mint string) error {
	return p.db.WithContext(ctx).Model(&models.Instrument{}).
		Where("mint = ?", mint).
		Update("graduated", true).Error
}

func (p *postgresStorage) AppendTrade(ctx context.Context, trade *models.Trade) error {
	return p.db.WithContext(ctx).Create(trade).Error
}

func (p *postgresStorage) ListTrades(ctx context.Context, mint string, limit, offset int) ([]*models.Trade, error) {
	var trades []*models.Trade
	err := p.db.WithContext(ctx).
		Where("mint = ?", mint).
		Order("executed_at desc").
		Limit(limit).
		Offset(offset).
		Find(&trades).Error
	return trades, err
}

func (p *postgresStorage) GetReferral(ctx context.Context, wallet string) (*models.ReferralRecord, error) {
	var rec models.ReferralRecord
	err := p.db.WithContext(ctx).Where("wallet = ?", wallet).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *postgresStorage) GetOrCreateReferral(ctx context.Context, wallet string) (*models.ReferralRecord, error) {
	rec := models.ReferralRecord{Wallet: wallet}
	err := p.db.WithContext(ctx).
		Where("wallet = ?", wallet).
		FirstOrCreate(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SetReferrer links a wallet to its referrer. The guard clause makes
// the link write-once: a second attempt matches no rows.
func (p *postgresStorage) SetReferrer(ctx context.Context, wallet, referrer string) error {
	if _, err := p.GetOrCreateReferral(ctx, wallet); err != nil {
		return err
	}
	res := p.db.WithContext(ctx).Model(&models.ReferralRecord{}).
		Where("wallet = ? AND (referrer IS NULL OR referrer = '')", wallet).
		Update("referrer", referrer)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrReferrerAlreadySet
	}
	return nil
}

func (p *postgresStorage) CreditReferral(ctx context.Context, wallet string, level int, amount uint64) error {
	if level < 1 || level > 3 {
		return fmt.Errorf("invalid referral level %d", level)
	}
	if _, err := p.GetOrCreateReferral(ctx, wallet); err != nil {
		return err
	}
	column := fmt.Sprintf("level%d_earned", level)
	return p.db.WithContext(ctx).Model(&models.ReferralRecord{}).
		Where("wallet = ?", wallet).
		Updates(map[string]interface{}{
			column:           gorm.Expr(column+" + ?", amount),
			"lifetime_total": gorm.Expr("lifetime_total + ?", amount),
		}).Error
}
