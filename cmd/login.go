package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bluelink-kr/bluelinkd/core"
	"github.com/bluelink-kr/bluelinkd/server"
	"github.com/bluelink-kr/bluelinkd/util"
	"github.com/bluelink-kr/bluelinkd/vehicle/bluelink"
)

// loginCmd runs the interactive authorization handshake
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize the daemon against the Bluelink account",
	Run:   runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.PersistentFlags().StringP(
		"uri", "u",
		"0.0.0.0:7070",
		"Callback listen address - must match the registered redirect uri",
	)
	bind(loginCmd, "uri")

	loginCmd.PersistentFlags().String(
		"car",
		"",
		"Car id to select after login",
	)
	bind(loginCmd, "car")
}

func runLogin(cmd *cobra.Command, args []string) {
	util.LogLevel(viper.GetString("log"), viper.GetStringMapString("levels"))

	conf, err := identityConfig()
	if err != nil {
		log.FATAL.Fatal(err)
	}

	db, err := openDatabase()
	if err != nil {
		log.FATAL.Fatal(err)
	}

	identity := bluelink.NewIdentity(util.NewLogger("auth"), conf)
	identity.OnUpdate(persistCredentials(db))

	flow := bluelink.NewAuthFlow(util.NewLogger("auth"), identity)

	// temporary server receiving the vendor redirects
	srv := &http.Server{
		Addr:    viper.GetString("uri"),
		Handler: server.CallbackRouter(flow),
	}
	defer srv.Close()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.FATAL.Fatal(err)
		}
	}()

	fmt.Println("Open the following URL in your browser and log in:")
	fmt.Println()
	fmt.Println(flow.AuthorizeURL())
	fmt.Println()

	if err := flow.Login(); err != nil {
		log.FATAL.Fatal(err)
	}
	fmt.Println("Authorization complete.")

	client := bluelink.NewAPI(util.NewLogger("bluelink"), identity)

	if profile, err := client.Profile(); err != nil {
		log.WARN.Printf("cannot get profile: %v", err)
	} else {
		identity.SetUser(profile.ID)
	}

	termsURL, err := flow.TermsURL()
	if err != nil {
		log.FATAL.Fatal(err)
	}

	fmt.Println("Open the following URL to grant data sharing consent:")
	fmt.Println()
	fmt.Println(termsURL)
	fmt.Println()

	userID, err := flow.Consent()
	if err != nil {
		log.FATAL.Fatal(err)
	}
	fmt.Println("Consent received for user", userID)

	registry := core.NewRegistry(util.NewLogger("registry"), db, vehicleList(client))

	vehicles, err := registry.Resync()
	if err != nil {
		log.FATAL.Fatal(err)
	}

	vehicle, err := core.EnsureSelected(log, vehicles, viper.GetString("car"))
	if err != nil {
		fmt.Println("Login stored. Select a vehicle with: bluelinkd vehicles --select <carId>")
		for _, v := range vehicles {
			fmt.Printf("  %s  %s (%s)\n", v.CarID, v.Nickname, v.Type)
		}
		return
	}

	if err := db.SelectVehicle(vehicle.CarID); err != nil {
		log.FATAL.Fatal(err)
	}

	fmt.Printf("Selected vehicle %s (%s)\n", vehicle.Nickname, vehicle.CarID)
}
