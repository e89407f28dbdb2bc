package app

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/irfndi/SimpleFund/internal/auth"
	"github.com/irfndi/SimpleFund/internal/config"
	"github.com/irfndi/SimpleFund/internal/fund"
	"github.com/irfndi/SimpleFund/internal/middleware"
	"github.com/irfndi/SimpleFund/internal/models"
	"github.com/irfndi/SimpleFund/internal/order"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

const destination = "0x00000000000000000000000000000000000000aa"

// APIIntegrationTestSuite drives the assembled router against a SQLite database
type APIIntegrationTestSuite struct {
	suite.Suite
	app    *App
	am     *auth.AuthMiddleware
	router *gin.Engine
}

func (suite *APIIntegrationTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Port:        "0",
		Environment: "test",
		Database: config.DatabaseConfig{
			Driver:      "sqlite",
			SQLitePath:  filepath.Join(suite.T().TempDir(), "simplefund.db"),
			AutoMigrate: true,
		},
		Auth:      config.AuthConfig{JWTSecret: "integration-secret", MaxSkew: time.Minute},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
	}

	a, err := New(context.Background(), cfg)
	suite.Require().NoError(err)
	suite.app = a
	suite.am = auth.NewAuthMiddleware(cfg.Auth)
	suite.router = a.Router(suite.am, middleware.NewLimiterStore(cfg.RateLimit), nil)
}

func (suite *APIIntegrationTestSuite) TearDownTest() {
	suite.NoError(suite.app.Close())
}

func (suite *APIIntegrationTestSuite) bearer(id, role string) string {
	token, err := suite.am.IssueToken(id, role, time.Hour)
	suite.Require().NoError(err)
	return "Bearer " + token
}

func (suite *APIIntegrationTestSuite) do(method, path, authHeader string, body interface{}, out interface{}) int {
	var buf bytes.Buffer
	if body != nil {
		suite.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf).WithContext(context.Background())
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)
	if out != nil && w.Code < 300 {
		suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

// walletProof signs the registration message with a fresh key
func (suite *APIIntegrationTestSuite) walletProof(investorID string) map[string]interface{} {
	key, err := crypto.GenerateKey()
	suite.Require().NoError(err)

	ts := time.Now().Unix()
	msg := auth.WalletProofMessage(investorID, ts)
	hash := crypto.Keccak256Hash([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)))
	sig, err := crypto.Sign(hash.Bytes(), key)
	suite.Require().NoError(err)
	sig[crypto.RecoveryIDOffset] += 27

	return map[string]interface{}{
		"address":   crypto.PubkeyToAddress(key.PublicKey).Hex(),
		"signature": "0x" + hex.EncodeToString(sig),
		"timestamp": ts,
	}
}

func (suite *APIIntegrationTestSuite) createFund(mgr string, maxIssuance int64) fund.FundView {
	var view fund.FundView
	code := suite.do(http.MethodPost, "/api/v1/funds", mgr, map[string]interface{}{
		"name":                   "Income Fund",
		"token_symbol":           "INC",
		"token_address":          "0x00000000000000000000000000000000000000bb",
		"max_issuance":           maxIssuance,
		"quota_price":            "10",
		"settlement_destination": destination,
		"status":                 string(models.FundStatusApproved),
	}, &view)
	suite.Require().Equal(http.StatusCreated, code)
	return view
}

func (suite *APIIntegrationTestSuite) TestHealthAndPing() {
	var health map[string]interface{}
	suite.Equal(http.StatusOK, suite.do(http.MethodGet, "/health", "", nil, &health))
	suite.Equal("ok", health["status"])

	suite.Equal(http.StatusOK, suite.do(http.MethodGet, "/api/v1/ping", "", nil, nil))
	suite.Equal(http.StatusOK, suite.do(http.MethodGet, "/metrics", "", nil, nil))
}

func (suite *APIIntegrationTestSuite) TestSubscriptionLifecycle() {
	mgr := suite.bearer("mgr-1", models.RoleManager)
	inv := suite.bearer("inv-1", models.RoleInvestor)
	admin := suite.bearer("root", models.RoleAdmin)

	f := suite.createFund(mgr, 100)

	var p models.Pool
	suite.Require().Equal(http.StatusCreated, suite.do(http.MethodPost, "/api/v1/pools", mgr,
		map[string]interface{}{"fund_id": f.ID, "apy": "0.05"}, &p))

	suite.Require().Equal(http.StatusOK, suite.do(http.MethodPut, "/api/v1/investors/me/wallet", inv,
		suite.walletProof("inv-1"), nil))

	var placement order.Placement
	suite.Require().Equal(http.StatusCreated, suite.do(http.MethodPost, "/api/v1/orders", inv,
		map[string]interface{}{"fund_id": f.ID, "quantity": 4}, &placement))
	suite.True(strings.EqualFold(destination, placement.Instruction.Destination))
	base := "/api/v1/orders/" + placement.Order.OrderID

	suite.Require().Equal(http.StatusOK, suite.do(http.MethodPost, base+"/complete", inv,
		map[string]string{"reference": fmt.Sprintf("0x%064x", 1)}, nil))

	// Completion credits the pool and refreshes the investor totals
	var credited models.Pool
	suite.Require().Equal(http.StatusOK, suite.do(http.MethodGet, fmt.Sprintf("/api/v1/pools/%d", p.ID), "", nil, &credited))
	suite.True(credited.CurrentBalance.Equal(decimal.NewFromInt(40)), credited.CurrentBalance.String())

	var profile models.Investor
	suite.Require().Equal(http.StatusOK, suite.do(http.MethodGet, "/api/v1/investors/me", inv, nil, &profile))
	suite.True(profile.TotalInvested.Equal(decimal.NewFromInt(40)))
	suite.Equal(int64(1), profile.CompletedOrders)

	var step1, step2 order.Decision
	suite.Require().Equal(http.StatusOK, suite.do(http.MethodPost, base+"/approve", mgr, nil, &step1))
	suite.Require().NotNil(step1.Instruction)
	suite.True(strings.EqualFold(profile.WalletAddress, step1.Instruction.Destination))
	suite.Require().Equal(http.StatusOK, suite.do(http.MethodPost, base+"/approve", mgr,
		map[string]string{"reference": fmt.Sprintf("0x%064x", 2)}, &step2))
	suite.Equal(models.ApprovalStatusApproved, step2.Order.ApprovalStatus)

	var after fund.FundView
	suite.Require().Equal(http.StatusOK, suite.do(http.MethodGet, fmt.Sprintf("/api/v1/funds/%d", f.ID), "", nil, &after))
	suite.Equal(int64(4), after.TotalIssued)
	suite.Equal(int64(96), after.Available)

	var pending, done []models.OutboxEvent
	suite.Require().Equal(http.StatusOK, suite.do(http.MethodGet, "/api/v1/outbox?status=PENDING", admin, nil, &pending))
	suite.Empty(pending)
	suite.Require().Equal(http.StatusOK, suite.do(http.MethodGet, "/api/v1/outbox?status=DONE", admin, nil, &done))
	suite.NotEmpty(done)
	suite.Equal(http.StatusForbidden, suite.do(http.MethodGet, "/api/v1/outbox", mgr, nil, nil))
}

func (suite *APIIntegrationTestSuite) TestConcurrentOrdersRespectCapacity() {
	mgr := suite.bearer("mgr-1", models.RoleManager)
	f := suite.createFund(mgr, 100)

	investors := []string{suite.bearer("inv-a", models.RoleInvestor), suite.bearer("inv-b", models.RoleInvestor)}
	codes := make([]int, len(investors))

	var wg sync.WaitGroup
	for i, token := range investors {
		wg.Add(1)
		go func(i int, token string) {
			defer wg.Done()
			codes[i] = suite.do(http.MethodPost, "/api/v1/orders", token,
				map[string]interface{}{"fund_id": f.ID, "quantity": 60}, nil)
		}(i, token)
	}
	wg.Wait()

	suite.ElementsMatch([]int{http.StatusCreated, http.StatusConflict}, codes)

	var after fund.FundView
	suite.Require().Equal(http.StatusOK, suite.do(http.MethodGet, fmt.Sprintf("/api/v1/funds/%d", f.ID), "", nil, &after))
	suite.Equal(int64(60), after.CommittedQuantity)
}

func TestAPIIntegrationTestSuite(t *testing.T) {
	suite.Run(t, new(APIIntegrationTestSuite))
}
