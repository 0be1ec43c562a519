package repo

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/tbourn/go-calshare-backend/internal/domain"
)

// Migrate applies every pending schema and reference-data migration.
// Applied IDs are tracked in the "migrations" table, so calling it on every
// start is safe.
func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, migrations())
	return m.Migrate()
}

func migrations() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		{
			ID:      "202410290001_initial_schema",
			Migrate: AutoMigrate,
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(
					&domain.Idempotency{},
					&domain.Friendship{},
					&domain.QueryUser{},
					&domain.Query{},
					&domain.QueryType{},
					&domain.Calendar{},
					&domain.User{},
					&domain.Role{},
				)
			},
		},
		{
			ID: "202410290002_reference_data",
			Migrate: func(tx *gorm.DB) error {
				for _, name := range []string{domain.RoleAdmin, domain.RoleUser} {
					if err := tx.Where(domain.Role{Name: name}).FirstOrCreate(&domain.Role{}).Error; err != nil {
						return err
					}
				}
				for _, name := range []string{domain.QueryTypePrompt, domain.QueryTypeAnswer} {
					if err := tx.Where(domain.QueryType{Name: name}).FirstOrCreate(&domain.QueryType{}).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				if err := tx.Where("name IN ?", []string{domain.QueryTypePrompt, domain.QueryTypeAnswer}).
					Delete(&domain.QueryType{}).Error; err != nil {
					return err
				}
				return tx.Where("name IN ?", []string{domain.RoleAdmin, domain.RoleUser}).
					Delete(&domain.Role{}).Error
			},
		},
	}
}
