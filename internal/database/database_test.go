package database

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/irfndi/SimpleFund/internal/config"
	"github.com/irfndi/SimpleFund/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestOpenInMemory_CreatesSchema(t *testing.T) {
	db, err := OpenInMemory(uuid.NewString())
	require.NoError(t, err)

	for _, table := range []string{"funds", "orders", "pools", "pool_transactions", "outbox_events", "investors"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestOpenInMemory_IsolatedByName(t *testing.T) {
	first, err := OpenInMemory(uuid.NewString())
	require.NoError(t, err)
	second, err := OpenInMemory(uuid.NewString())
	require.NoError(t, err)

	require.NoError(t, first.Create(&models.Fund{Name: "Alpha", MaxIssuance: 10, QuotaPrice: decimal.NewFromInt(1)}).Error)

	var count int64
	require.NoError(t, second.Model(&models.Fund{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestOpen_SQLiteFile(t *testing.T) {
	db, err := Open(config.DatabaseConfig{
		Driver:      "sqlite",
		SQLitePath:  t.TempDir() + "/fund.db",
		AutoMigrate: true,
	})
	require.NoError(t, err)
	assert.True(t, db.Migrator().HasTable(&models.Order{}))
}

func TestPoolTransactionReferenceIsUnique(t *testing.T) {
	db, err := OpenInMemory(uuid.NewString())
	require.NoError(t, err)

	fund := &models.Fund{Name: "Alpha", MaxIssuance: 10, QuotaPrice: decimal.NewFromInt(1)}
	require.NoError(t, db.Create(fund).Error)
	pool := &models.Pool{FundID: fund.ID}
	require.NoError(t, db.Create(pool).Error)

	entry := models.PoolTransaction{PoolID: pool.ID, Kind: models.PoolTxCredit, Reference: "ref-1", Amount: decimal.NewFromInt(5)}
	require.NoError(t, db.Create(&entry).Error)

	dup := models.PoolTransaction{PoolID: pool.ID, Kind: models.PoolTxCredit, Reference: "ref-1", Amount: decimal.NewFromInt(5)}
	assert.Error(t, db.Create(&dup).Error)
}

func TestOrderPaymentReferenceIsUniqueWhenSet(t *testing.T) {
	db, err := OpenInMemory(uuid.NewString())
	require.NoError(t, err)

	fund := &models.Fund{Name: "Alpha", MaxIssuance: 10, QuotaPrice: decimal.NewFromInt(1)}
	require.NoError(t, db.Create(fund).Error)

	newOrder := func(reference string) *models.Order {
		return &models.Order{
			OrderID:          uuid.NewString(),
			FundID:           fund.ID,
			InvestorID:       "inv-1",
			Quantity:         1,
			UnitPrice:        decimal.NewFromInt(1),
			TotalAmount:      decimal.NewFromInt(1),
			PaymentStatus:    models.PaymentStatusPending,
			PaymentReference: reference,
		}
	}

	// orders without a reference are exempt from the index
	require.NoError(t, db.Create(newOrder("")).Error)
	require.NoError(t, db.Create(newOrder("")).Error)

	require.NoError(t, db.Create(newOrder("0xabc")).Error)
	err = db.Create(newOrder("0xabc")).Error
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err), err.Error())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(gorm.ErrDuplicatedKey))
	assert.True(t, IsUniqueViolation(fmt.Errorf("update order: %w", gorm.ErrDuplicatedKey)))
	assert.False(t, IsUniqueViolation(gorm.ErrRecordNotFound))
	assert.False(t, IsUniqueViolation(nil))
}
