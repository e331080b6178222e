package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"license-validation-service/internal/config"
	"license-validation-service/internal/database"
	"license-validation-service/internal/handler"
	"license-validation-service/internal/middleware"
	"license-validation-service/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("loading configuration: ", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatal("opening database: ", err)
	}

	sheetSync, err := service.NewSheetSyncService(cfg.SheetSync, logger)
	if err != nil {
		log.Fatal("initializing sheet sync: ", err)
	}

	licenses := service.NewLicenseService(db, cfg.Database.QueryTimeout, logger)
	usage := service.NewUsageService(db, logger)

	licenseHandler := handler.NewLicenseHandler(db, licenses, usage, sheetSync)
	authHandler := handler.NewAuthHandler(db, cfg.Auth)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(fiberlogger.New())
	app.Use(cors.New())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")

	auth := api.Group("/auth")
	auth.Post("/login", authHandler.HandleAdminLogin)

	licensesGrp := api.Group("/licenses")
	licensesGrp.Post("/validate", licenseHandler.HandleLicenseValidate)
	licensesGrp.Post("/release", licenseHandler.HandleLicenseRelease)

	// Administrative surface: provisioning and binding reset live here, not
	// in the decision core.
	adminAuth := middleware.Auth(cfg.Auth.JWTSecret)
	licensesGrp.Get("/", adminAuth, licenseHandler.HandleGetAllLicenses)
	licensesGrp.Post("/", adminAuth, licenseHandler.HandleLicenseCreate)
	licensesGrp.Get("/statistics", adminAuth, licenseHandler.HandleLicenseStatistics)
	licensesGrp.Get("/:key", adminAuth, licenseHandler.HandleGetLicense)
	licensesGrp.Delete("/:key", adminAuth, licenseHandler.HandleLicenseDelete)
	licensesGrp.Post("/:key/reset", adminAuth, licenseHandler.HandleBindingReset)
	licensesGrp.Get("/:key/usage", adminAuth, licenseHandler.HandleLicenseUsage)

	log.Fatal(app.Listen(cfg.Server.ListenAddr))
}
