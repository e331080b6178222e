package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"license-validation-service/internal/config"
	"license-validation-service/internal/database"
	"license-validation-service/internal/middleware"
	"license-validation-service/internal/model"
	"license-validation-service/internal/service"
)

var testAuthCfg = config.AuthConfig{
	AdminUsername: "admin",
	AdminPassword: "admin",
	JWTSecret:     "test-secret",
	TokenTTL:      time.Hour,
}

// newTestApp wires the routes the way cmd/main.go does, against a fresh
// in-memory database.
func newTestApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()
	db := database.OpenTest()
	t.Cleanup(func() { database.CloseTest(db) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	licenses := service.NewLicenseService(db, 5*time.Second, logger)
	usage := service.NewUsageService(db, logger)
	h := NewLicenseHandler(db, licenses, usage, nil)
	authHandler := NewAuthHandler(db, testAuthCfg)

	app := fiber.New()
	api := app.Group("/api/v1")
	api.Group("/auth").Post("/login", authHandler.HandleAdminLogin)

	lg := api.Group("/licenses")
	lg.Post("/validate", h.HandleLicenseValidate)
	lg.Post("/release", h.HandleLicenseRelease)

	adminAuth := middleware.Auth(testAuthCfg.JWTSecret)
	lg.Get("/", adminAuth, h.HandleGetAllLicenses)
	lg.Post("/", adminAuth, h.HandleLicenseCreate)
	lg.Get("/statistics", adminAuth, h.HandleLicenseStatistics)
	lg.Get("/:key", adminAuth, h.HandleGetLicense)
	lg.Delete("/:key", adminAuth, h.HandleLicenseDelete)
	lg.Post("/:key/reset", adminAuth, h.HandleBindingReset)
	lg.Get("/:key/usage", adminAuth, h.HandleLicenseUsage)

	return app, db
}

func seedAdmin(t *testing.T, db *gorm.DB) {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte(testAuthCfg.AdminPassword), bcrypt.DefaultCost)
	require.NoError(t, err)
	require.NoError(t, db.Create(&model.AdminUser{
		Username: testAuthCfg.AdminUsername,
		Password: string(hashed),
	}).Error)
}

func jsonRequest(t *testing.T, method, target string, payload interface{}) *http.Request {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req, err := http.NewRequest(method, target, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func adminToken(t *testing.T, app *fiber.App) string {
	t.Helper()
	req := jsonRequest(t, "POST", "/api/v1/auth/login", model.LoginRequest{
		Username: testAuthCfg.AdminUsername,
		Password: testAuthCfg.AdminPassword,
	})
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Token string `json:"token"`
	}
	decodeBody(t, resp, &body)
	require.NotEmpty(t, body.Token)
	return body.Token
}

func TestHandleLicenseValidate(t *testing.T) {
	app, db := newTestApp(t)

	yesterday := time.Now().Add(-24 * time.Hour).Format(time.RFC3339)
	require.NoError(t, db.Create(&model.License{LicenseKey: "K1", OwnerName: "Ann"}).Error)
	require.NoError(t, db.Create(&model.License{LicenseKey: "K2", ExpiresAt: yesterday}).Error)

	tests := []struct {
		name         string
		body         model.ValidateRequest
		wantStatus   int
		wantValid    bool
		wantError    string
		wantBound    bool
		wantUserName string
	}{
		{
			name:         "unbound_license_binds",
			body:         model.ValidateRequest{LicenseKey: "K1", MachineID: "M1", AppVersion: "1.2"},
			wantStatus:   fiber.StatusOK,
			wantValid:    true,
			wantUserName: "Ann",
		},
		{
			name:       "other_machine_conflicts",
			body:       model.ValidateRequest{LicenseKey: "K1", MachineID: "M2"},
			wantStatus: fiber.StatusOK,
			wantError:  "machine conflict",
			wantBound:  true,
		},
		{
			name:       "expired",
			body:       model.ValidateRequest{LicenseKey: "K2", MachineID: "M1"},
			wantStatus: fiber.StatusOK,
			wantError:  "expired",
		},
		{
			name:       "unknown_key",
			body:       model.ValidateRequest{LicenseKey: "nope", MachineID: "M1"},
			wantStatus: fiber.StatusOK,
			wantError:  "license not found",
		},
		{
			name:       "missing_key",
			body:       model.ValidateRequest{MachineID: "M1"},
			wantStatus: fiber.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(jsonRequest(t, "POST", "/api/v1/licenses/validate", tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var body model.ValidateResponse
			decodeBody(t, resp, &body)
			assert.Equal(t, tt.wantValid, body.Valid)
			assert.Equal(t, tt.wantBound, body.MachineBound)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body.Error)
			}
			if tt.wantUserName != "" {
				assert.Equal(t, tt.wantUserName, body.UserName)
			}
		})
	}

	var lic model.License
	require.NoError(t, db.Where("license_key = ?", "K1").First(&lic).Error)
	assert.Equal(t, "M1", lic.ActiveMachineID)
}

func TestValidateRecordsUsage(t *testing.T) {
	app, db := newTestApp(t)
	require.NoError(t, db.Create(&model.License{LicenseKey: "K1"}).Error)

	resp, err := app.Test(jsonRequest(t, "POST", "/api/v1/licenses/validate",
		model.ValidateRequest{LicenseKey: "K1", MachineID: "M1", AppVersion: "2.0"}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp.Body.Close()

	var rec model.UsageRecord
	require.NoError(t, db.Where("license_key = ?", "K1").First(&rec).Error)
	assert.Equal(t, "validate", rec.Action)
	assert.Equal(t, "valid", rec.Outcome)
	assert.Equal(t, "M1", rec.MachineID)
	assert.Equal(t, "2.0", rec.AppVersion)
}

func TestHandleLicenseRelease(t *testing.T) {
	app, db := newTestApp(t)
	require.NoError(t, db.Create(&model.License{LicenseKey: "K1", ActiveMachineID: "A"}).Error)

	// Wrong machine is refused.
	resp, err := app.Test(jsonRequest(t, "POST", "/api/v1/licenses/release",
		model.ReleaseRequest{LicenseKey: "K1", MachineID: "B"}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body model.ReleaseResponse
	decodeBody(t, resp, &body)
	assert.False(t, body.Success)
	assert.Equal(t, "bound to another machine", body.Message)

	// The holder releases.
	resp, err = app.Test(jsonRequest(t, "POST", "/api/v1/licenses/release",
		model.ReleaseRequest{LicenseKey: "K1", MachineID: "A"}))
	require.NoError(t, err)
	decodeBody(t, resp, &body)
	assert.True(t, body.Success)
	assert.Equal(t, "license released", body.Message)

	var lic model.License
	require.NoError(t, db.Where("license_key = ?", "K1").First(&lic).Error)
	assert.Empty(t, lic.ActiveMachineID)
}

func TestAdminRoutesRequireAuth(t *testing.T) {
	app, _ := newTestApp(t)

	req, err := http.NewRequest("GET", "/api/v1/licenses", nil)
	require.NoError(t, err)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req.Header.Set("Authorization", "Token abc")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestAdminProvisioningFlow(t *testing.T) {
	app, db := newTestApp(t)
	seedAdmin(t, db)
	token := adminToken(t, app)

	authorized := func(method, target string, payload interface{}) *http.Request {
		req := jsonRequest(t, method, target, payload)
		req.Header.Set("Authorization", "Bearer "+token)
		return req
	}

	// Create with an explicit key.
	resp, err := app.Test(authorized("POST", "/api/v1/licenses",
		model.CreateLicenseRequest{LicenseKey: "K1", OwnerName: "Ann", ExpiresAt: "2030-01-01"}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// Duplicate key is rejected.
	resp, err = app.Test(authorized("POST", "/api/v1/licenses",
		model.CreateLicenseRequest{LicenseKey: "K1"}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// Bad expiration text is rejected before anything is written.
	resp, err = app.Test(authorized("POST", "/api/v1/licenses",
		model.CreateLicenseRequest{LicenseKey: "K9", ExpiresAt: "whenever"}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Key is generated when absent.
	resp, err = app.Test(authorized("POST", "/api/v1/licenses",
		model.CreateLicenseRequest{OwnerName: "Bob"}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var created model.License
	decodeBody(t, resp, &created)
	assert.NotEmpty(t, created.LicenseKey)

	resp, err = app.Test(authorized("GET", "/api/v1/licenses/K1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	var fetched model.License
	decodeBody(t, resp, &fetched)
	assert.Equal(t, "Ann", fetched.OwnerName)

	resp, err = app.Test(authorized("GET", "/api/v1/licenses/absent", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp, err = app.Test(authorized("DELETE", "/api/v1/licenses/"+created.LicenseKey, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestBindingResetClearsMachine(t *testing.T) {
	app, db := newTestApp(t)
	seedAdmin(t, db)
	token := adminToken(t, app)

	require.NoError(t, db.Create(&model.License{LicenseKey: "K1", ActiveMachineID: "A"}).Error)

	req := jsonRequest(t, "POST", "/api/v1/licenses/K1/reset", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp.Body.Close()

	var lic model.License
	require.NoError(t, db.Where("license_key = ?", "K1").First(&lic).Error)
	assert.Empty(t, lic.ActiveMachineID)
}

func TestLicenseStatistics(t *testing.T) {
	app, db := newTestApp(t)
	seedAdmin(t, db)
	token := adminToken(t, app)

	yesterday := time.Now().Add(-24 * time.Hour).Format(time.RFC3339)
	tomorrow := time.Now().Add(24 * time.Hour).Format(time.RFC3339)
	require.NoError(t, db.Create(&model.License{LicenseKey: "K1"}).Error)
	require.NoError(t, db.Create(&model.License{LicenseKey: "K2", ExpiresAt: yesterday, ActiveMachineID: "A"}).Error)
	require.NoError(t, db.Create(&model.License{LicenseKey: "K3", ExpiresAt: tomorrow}).Error)
	require.NoError(t, db.Create(&model.License{LicenseKey: "K4", ExpiresAt: "garbage"}).Error)

	req := jsonRequest(t, "GET", "/api/v1/licenses/statistics", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var stats licenseStatistics
	decodeBody(t, resp, &stats)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(1), stats.Bound)
	assert.Equal(t, int64(1), stats.Perpetual)
	assert.Equal(t, int64(1), stats.Expired)
	assert.Equal(t, int64(1), stats.Corrupt)
}

func TestLicenseUsageEndpoint(t *testing.T) {
	app, db := newTestApp(t)
	seedAdmin(t, db)
	token := adminToken(t, app)

	require.NoError(t, db.Create(&model.License{LicenseKey: "K1"}).Error)
	resp, err := app.Test(jsonRequest(t, "POST", "/api/v1/licenses/validate",
		model.ValidateRequest{LicenseKey: "K1", MachineID: "M1"}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp.Body.Close()

	req := jsonRequest(t, "GET", "/api/v1/licenses/K1/usage", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Usages []model.UsageRecord `json:"usages"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Usages, 1)
	assert.Equal(t, "validate", body.Usages[0].Action)
}

func TestAdminLoginRejectsBadPassword(t *testing.T) {
	app, db := newTestApp(t)
	seedAdmin(t, db)

	resp, err := app.Test(jsonRequest(t, "POST", "/api/v1/auth/login",
		model.LoginRequest{Username: "admin", Password: "wrong"}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}
