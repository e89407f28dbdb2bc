package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errWidgetMissing = New(NotFound, "WIDGET_NOT_FOUND", "widget: not found")

type quotaErr struct{ left int }

func (e *quotaErr) Error() string { return "quota exceeded" }
func (e *quotaErr) Kind() Kind    { return Conflict }
func (e *quotaErr) Code() string  { return "QUOTA" }
func (e *quotaErr) Details() map[string]interface{} {
	return map[string]interface{}{"left": e.left}
}

func serve(err error) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/x", func(c *gin.Context) { Respond(c, err) })
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/x", nil)
	router.ServeHTTP(w, req)
	return w
}

func TestRespond_Classified(t *testing.T) {
	w := serve(fmt.Errorf("lookup: %w", errWidgetMissing))
	assert.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "widget: not found", body["error"])
	assert.Equal(t, "WIDGET_NOT_FOUND", body["code"])
}

func TestRespond_Details(t *testing.T) {
	w := serve(&quotaErr{left: 3})
	assert.Equal(t, http.StatusConflict, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(3), body["left"])
}

func TestRespond_Validation(t *testing.T) {
	w := serve(NewValidation("quantity", "must be greater than 0"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"quantity":"must be greater than 0"`)
	assert.Contains(t, w.Body.String(), `"VALIDATION_FAILED"`)
}

func TestRespond_Unclassified(t *testing.T) {
	w := serve(errors.New("database exploded"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "exploded")
}

func TestFromBinding(t *testing.T) {
	gin.SetMode(gin.TestMode)
	type request struct {
		FundID   uint  `json:"fund_id" binding:"required"`
		Quantity int64 `json:"quantity" binding:"gt=0"`
	}

	router := gin.New()
	var captured *ValidationError
	router.POST("/x", func(c *gin.Context) {
		var req request
		captured = FromBinding(c.ShouldBindJSON(&req))
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"quantity":0}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.NotNil(t, captured)
	assert.Equal(t, "is required", captured.Fields["fund_id"])
	assert.Equal(t, "must be greater than 0", captured.Fields["quantity"])
}

func TestFromBinding_Malformed(t *testing.T) {
	err := FromBinding(errors.New("unexpected EOF"))
	assert.Equal(t, "unexpected EOF", err.Fields["body"])
	assert.Equal(t, "validation failed: body: unexpected EOF", err.Error())
}

func TestToSnake(t *testing.T) {
	assert.Equal(t, "fund_id", toSnake("FundID"))
	assert.Equal(t, "token_transfer_reference", toSnake("TokenTransferReference"))
	assert.Equal(t, "apy_hint", toSnake("APYHint"))
}
