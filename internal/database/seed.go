// internal/database/seed.go
package database

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/javajoker/marketstock/internal/models"
	"github.com/javajoker/marketstock/internal/policy"
	"github.com/javajoker/marketstock/internal/services"
)

// Catalog is the development data set loaded by the seed command.
type Catalog struct {
	Users    []SeedUser    `yaml:"users"`
	Products []SeedProduct `yaml:"products"`
}

type SeedUser struct {
	ID       uuid.UUID `yaml:"id"`
	Username string    `yaml:"username"`
	Email    string    `yaml:"email"`
	Role     string    `yaml:"role"`
}

type SeedProduct struct {
	Seller        string   `yaml:"seller"`
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	Category      string   `yaml:"category"`
	Tags          []string `yaml:"tags"`
	Price         string   `yaml:"price"`
	Cost          string   `yaml:"cost"`
	Stock         int      `yaml:"stock"`
	MinStockLevel int      `yaml:"min_stock_level"`
}

func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return &catalog, nil
}

func (c *Catalog) Validate() error {
	var errs []error
	roles := make(map[string]models.UserRole, len(c.Users))
	for _, u := range c.Users {
		role := models.UserRole(u.Role)
		if u.ID == uuid.Nil || u.Username == "" {
			errs = append(errs, fmt.Errorf("user %q needs an id and a username", u.Username))
		}
		if !role.Valid() {
			errs = append(errs, fmt.Errorf("user %s has unknown role %q", u.Username, u.Role))
		}
		roles[u.Username] = role
	}

	for _, p := range c.Products {
		if roles[p.Seller] != models.UserRoleSeller {
			errs = append(errs, fmt.Errorf("product %q: %q is not a seller in this catalog", p.Name, p.Seller))
		}
		if _, err := decimal.NewFromString(p.Price); err != nil {
			errs = append(errs, fmt.Errorf("product %q: bad price %q", p.Name, p.Price))
		}
		if p.Cost != "" {
			if _, err := decimal.NewFromString(p.Cost); err != nil {
				errs = append(errs, fmt.Errorf("product %q: bad cost %q", p.Name, p.Cost))
			}
		}
	}
	return errors.Join(errs...)
}

// User returns the catalog user with the given username.
func (c *Catalog) User(username string) (SeedUser, bool) {
	for _, u := range c.Users {
		if u.Username == username {
			return u, true
		}
	}
	return SeedUser{}, false
}

// Seed writes the catalog's users and products. Products are created through
// the product service so their opening stock lands in the ledger. Existing
// rows are left alone, so the command can be rerun.
func Seed(ctx context.Context, db *gorm.DB, catalog *Catalog, products *services.ProductService, log *logrus.Logger) error {
	log.Info("Seeding catalog...")

	for _, u := range catalog.Users {
		user := models.User{
			BaseModel: models.BaseModel{ID: u.ID},
			Username:  u.Username,
			Email:     u.Email,
			Role:      models.UserRole(u.Role),
		}
		if err := db.WithContext(ctx).Where(models.User{Username: u.Username}).FirstOrCreate(&user).Error; err != nil {
			return fmt.Errorf("failed to seed user %s: %w", u.Username, err)
		}
	}

	for _, p := range catalog.Products {
		seller, _ := catalog.User(p.Seller)

		var count int64
		err := db.WithContext(ctx).Model(&models.Product{}).
			Where("seller_id = ? AND name = ?", seller.ID, p.Name).
			Count(&count).Error
		if err != nil {
			return fmt.Errorf("failed to look up product %q: %w", p.Name, err)
		}
		if count > 0 {
			continue
		}

		req := &services.CreateProductRequest{
			Name:          p.Name,
			Description:   p.Description,
			Category:      p.Category,
			Tags:          p.Tags,
			Price:         decimal.RequireFromString(p.Price),
			InitialStock:  p.Stock,
			MinStockLevel: p.MinStockLevel,
		}
		if p.Cost != "" {
			req.Cost = decimal.RequireFromString(p.Cost)
		}

		caller := policy.Caller{ID: seller.ID, Role: models.UserRoleSeller}
		if _, err := products.CreateProduct(ctx, caller, req); err != nil {
			// Continue with other products instead of failing completely
			log.WithError(err).WithField("product", p.Name).Warn("Failed to seed product")
		}
	}

	log.WithFields(logrus.Fields{
		"users":    len(catalog.Users),
		"products": len(catalog.Products),
	}).Info("Catalog seeding completed")
	return nil
}
