package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"license-validation-service/internal/config"
	"license-validation-service/internal/model"
	"license-validation-service/internal/util"
)

type AuthHandler struct {
	db   *gorm.DB
	auth config.AuthConfig
}

func NewAuthHandler(db *gorm.DB, auth config.AuthConfig) *AuthHandler {
	return &AuthHandler{db: db, auth: auth}
}

// HandleAdminLogin checks the seeded admin credentials and issues the JWT
// the administrative routes require.
func (h *AuthHandler) HandleAdminLogin(c *fiber.Ctx) error {
	input := new(model.LoginRequest)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if err := validate.Struct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "username and password are required",
		})
	}

	var admin model.AdminUser
	if err := h.db.Where("username = ?", input.Username).First(&admin).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid username or password",
		})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(admin.Password), []byte(input.Password)); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid username or password",
		})
	}

	admin.LastLogin = time.Now()
	h.db.Save(&admin)

	token, err := util.GenerateToken(admin.Username, h.auth.JWTSecret, h.auth.TokenTTL)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate token",
		})
	}

	return c.JSON(fiber.Map{
		"token": token,
		"user": fiber.Map{
			"username":   admin.Username,
			"last_login": admin.LastLogin,
		},
	})
}
