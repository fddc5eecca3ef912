package storage

import (
	"errors"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bluelink-kr/bluelinkd/api"
	"github.com/bluelink-kr/bluelinkd/util"
)

// ErrNotFound indicates a missing record
var ErrNotFound = errors.New("not found")

// Credential is the persisted OAuth credential set. A single row per
// database; removing the integration deletes it.
type Credential struct {
	ID            uint `gorm:"primaryKey"`
	ClientID      string
	ClientSecret  string
	RedirectURI   string
	AccessToken   string
	RefreshToken  string
	TokenType     string
	AccessExpiry  time.Time
	RefreshExpiry time.Time
	UserID        string
	TermsUserID   string
	UpdatedAt     time.Time
}

// Vehicle is a persisted vehicle descriptor keyed by the vendor car id
type Vehicle struct {
	CarID     string `gorm:"primaryKey"`
	Nickname  string
	VIN       string
	Type      string
	Disabled  bool
	Selected  bool
	UpdatedAt time.Time
}

// Database is the sqlite-backed settings store
type Database struct {
	db *gorm.DB
}

// Open opens the database, migrating the schema
func Open(path string, log *util.Logger) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: &adapter{log: log},
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Credential{}, &Vehicle{}); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

// Credentials returns the stored credential set or ErrNotFound
func (d *Database) Credentials() (api.Credentials, error) {
	var rec Credential
	if err := d.db.First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrNotFound
		}
		return api.Credentials{}, err
	}

	return api.Credentials{
		ClientID:      rec.ClientID,
		ClientSecret:  rec.ClientSecret,
		RedirectURI:   rec.RedirectURI,
		AccessToken:   rec.AccessToken,
		RefreshToken:  rec.RefreshToken,
		TokenType:     rec.TokenType,
		AccessExpiry:  rec.AccessExpiry,
		RefreshExpiry: rec.RefreshExpiry,
		UserID:        rec.UserID,
		TermsUserID:   rec.TermsUserID,
	}, nil
}

// SaveCredentials upserts the credential set
func (d *Database) SaveCredentials(creds api.Credentials) error {
	rec := Credential{
		ID:            1,
		ClientID:      creds.ClientID,
		ClientSecret:  creds.ClientSecret,
		RedirectURI:   creds.RedirectURI,
		AccessToken:   creds.AccessToken,
		RefreshToken:  creds.RefreshToken,
		TokenType:     creds.TokenType,
		AccessExpiry:  creds.AccessExpiry,
		RefreshExpiry: creds.RefreshExpiry,
		UserID:        creds.UserID,
		TermsUserID:   creds.TermsUserID,
	}

	return d.db.Save(&rec).Error
}

// DeleteCredentials removes the credential set
func (d *Database) DeleteCredentials() error {
	return d.db.Where("1 = 1").Delete(&Credential{}).Error
}

// Vehicles returns all stored vehicle descriptors
func (d *Database) Vehicles() ([]api.Vehicle, error) {
	var recs []Vehicle
	if err := d.db.Find(&recs).Error; err != nil {
		return nil, err
	}

	res := make([]api.Vehicle, 0, len(recs))
	for _, rec := range recs {
		res = append(res, rec.descriptor())
	}

	return res, nil
}

// SaveVehicles upserts the vehicle descriptors, preserving the selection
func (d *Database) SaveVehicles(vehicles []api.Vehicle) error {
	selected, err := d.selectedID()
	if err != nil {
		return err
	}

	return d.db.Transaction(func(tx *gorm.DB) error {
		for _, v := range vehicles {
			rec := Vehicle{
				CarID:    v.CarID,
				Nickname: v.Nickname,
				VIN:      v.VIN,
				Type:     string(v.Type),
				Disabled: v.Disabled,
				Selected: v.CarID == selected,
			}
			if err := tx.Save(&rec).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// SelectVehicle marks a single vehicle as selected
func (d *Database) SelectVehicle(carID string) error {
	var rec Vehicle
	if err := d.db.First(&rec, "car_id = ?", carID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrNotFound
		}
		return err
	}

	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Vehicle{}).Where("selected = ?", true).Update("selected", false).Error; err != nil {
			return err
		}
		return tx.Model(&Vehicle{}).Where("car_id = ?", carID).Update("selected", true).Error
	})
}

// SelectedVehicle returns the selected vehicle descriptor or ErrNotFound
func (d *Database) SelectedVehicle() (api.Vehicle, error) {
	var rec Vehicle
	if err := d.db.First(&rec, "selected = ?", true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrNotFound
		}
		return api.Vehicle{}, err
	}

	return rec.descriptor(), nil
}

func (d *Database) selectedID() (string, error) {
	var rec Vehicle
	err := d.db.First(&rec, "selected = ?", true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	return rec.CarID, err
}

func (rec Vehicle) descriptor() api.Vehicle {
	return api.Vehicle{
		CarID:    rec.CarID,
		Nickname: rec.Nickname,
		VIN:      rec.VIN,
		Type:     api.CarType(rec.Type),
		Disabled: rec.Disabled,
	}
}
