// cmd/seed/main.go
//
// seed loads the development catalog and prints a bearer token per user.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/javajoker/marketstock/internal/config"
	"github.com/javajoker/marketstock/internal/database"
	"github.com/javajoker/marketstock/internal/repository"
	"github.com/javajoker/marketstock/internal/services"
	"github.com/javajoker/marketstock/internal/utils"
)

func main() {
	cfg, err := config.Load()
	log := utils.NewLogger(cfg.Environment, cfg.LogLevel, os.Stderr)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if cfg.Environment == "production" {
		log.Fatal("Refusing to seed a production database")
	}

	catalog, err := database.LoadCatalog(cfg.Seed.FilePath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load catalog")
	}

	db, err := database.Initialize(cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close(db, log)

	if err := database.RunMigrations(db, log); err != nil {
		log.WithError(err).Fatal("Failed to run migrations")
	}

	repo := repository.NewPostgresRepository(db)
	inventory := services.NewInventoryService(repo, log)
	products := services.NewProductService(repo, inventory, log)
	if err := database.Seed(context.Background(), db, catalog, products, log); err != nil {
		log.WithError(err).Fatal("Failed to seed catalog")
	}

	utils.SetJWTSecret(cfg.JWT.SecretKey)
	utils.SetJWTIssuer(cfg.JWT.Issuer)
	for _, u := range catalog.Users {
		token, err := utils.GenerateJWT(u.ID, u.Username, u.Role, cfg.JWT.AccessTokenTTL)
		if err != nil {
			log.WithError(err).WithField("user", u.Username).Fatal("Failed to mint token")
		}
		fmt.Printf("%-8s %-7s %s\n", u.Username, u.Role, token)
	}
}
