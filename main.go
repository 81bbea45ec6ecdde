package main

import (
	"study_sync_service/internal/session/router"

	"github.com/gofiber/fiber/v2"
)

// swag init output ./docs
func main() {
	app := fiber.New()

	router.RegisterRoutes(app, nil, nil)
}
