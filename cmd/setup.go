package cmd

import (
	"errors"

	"github.com/spf13/viper"

	"github.com/bluelink-kr/bluelinkd/api"
	"github.com/bluelink-kr/bluelinkd/core/storage"
	"github.com/bluelink-kr/bluelinkd/util"
	"github.com/bluelink-kr/bluelinkd/vehicle/bluelink"
)

func openDatabase() (*storage.Database, error) {
	return storage.Open(viper.GetString("database"), util.NewLogger("sqlite"))
}

// identityConfig reads the OAuth client configuration
func identityConfig() (bluelink.Config, error) {
	conf := bluelink.Config{
		ClientID:     viper.GetString("client_id"),
		ClientSecret: viper.GetString("client_secret"),
		RedirectURI:  viper.GetString("redirect_uri"),
	}

	if conf.ClientID == "" || conf.ClientSecret == "" || conf.RedirectURI == "" {
		return conf, errors.New("missing client_id, client_secret or redirect_uri")
	}

	return conf, nil
}

// persistCredentials stores every credential mutation
func persistCredentials(db *storage.Database) func(api.Credentials) {
	return func(creds api.Credentials) {
		if creds.AccessToken == "" && creds.RefreshToken == "" {
			if err := db.DeleteCredentials(); err != nil {
				log.ERROR.Printf("delete credentials: %v", err)
			}
			return
		}

		if err := db.SaveCredentials(creds); err != nil {
			log.ERROR.Printf("persist credentials: %v", err)
		}
	}
}

// restoreIdentity rebuilds the identity from the stored credential set
func restoreIdentity(db *storage.Database) (*bluelink.Identity, error) {
	creds, err := db.Credentials()
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errors.New("not logged in - run bluelinkd login first")
		}
		return nil, err
	}

	identity := bluelink.NewIdentity(util.NewLogger("auth"), bluelink.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURI:  creds.RedirectURI,
	})
	identity.OnUpdate(persistCredentials(db))

	if err := identity.Restore(creds); err != nil {
		return nil, err
	}

	return identity, nil
}

// vehicleList adapts the vendor car list to vehicle descriptors
func vehicleList(client *bluelink.API) func() ([]api.Vehicle, error) {
	return func() ([]api.Vehicle, error) {
		cars, err := client.Vehicles()
		if err != nil {
			return nil, err
		}

		res := make([]api.Vehicle, 0, len(cars))
		for _, car := range cars {
			res = append(res, car.Descriptor())
		}

		return res, nil
	}
}
