package services

import (
	"context"
	"fmt"

	"wildlife-challenge-system/models"

	"gorm.io/gorm"
)

// AnimalCatalog lists every animal name the app knows about.
type AnimalCatalog interface {
	ListAllAnimalNames(ctx context.Context) ([]string, error)
}

// CatalogService reads the local animal mirror maintained by the catalog sync worker.
type CatalogService struct {
	DB *gorm.DB
}

func NewCatalogService(db *gorm.DB) *CatalogService {
	return &CatalogService{DB: db}
}

func (s *CatalogService) ListAllAnimalNames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.DB.WithContext(ctx).
		Model(&models.Animal{}).
		Where("active = ?", true).
		Order("name ASC").
		Pluck("name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("listing animal names: %w", err)
	}
	return names, nil
}
