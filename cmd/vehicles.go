package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bluelink-kr/bluelinkd/core"
	"github.com/bluelink-kr/bluelinkd/util"
	"github.com/bluelink-kr/bluelinkd/vehicle/bluelink"
)

// vehiclesCmd lists the account's vehicles and manages the selection
var vehiclesCmd = &cobra.Command{
	Use:   "vehicles",
	Short: "List vehicles and select the one to poll",
	Run:   runVehicles,
}

func init() {
	rootCmd.AddCommand(vehiclesCmd)

	vehiclesCmd.PersistentFlags().String(
		"select",
		"",
		"Car id to select for polling",
	)
	bind(vehiclesCmd, "select")
}

func runVehicles(cmd *cobra.Command, args []string) {
	util.LogLevel(viper.GetString("log"), viper.GetStringMapString("levels"))

	db, err := openDatabase()
	if err != nil {
		log.FATAL.Fatal(err)
	}

	identity, err := restoreIdentity(db)
	if err != nil {
		log.FATAL.Fatal(err)
	}

	client := bluelink.NewAPI(util.NewLogger("bluelink"), identity)
	registry := core.NewRegistry(util.NewLogger("registry"), db, vehicleList(client))

	vehicles, err := registry.Resync()
	if err != nil {
		log.WARN.Printf("vehicle sync failed, using stored vehicles: %v", err)
		if vehicles, err = db.Vehicles(); err != nil {
			log.FATAL.Fatal(err)
		}
	}

	if carID := viper.GetString("select"); carID != "" {
		if _, err := core.EnsureSelected(log, vehicles, carID); err != nil {
			log.FATAL.Fatal(err)
		}
		if err := db.SelectVehicle(carID); err != nil {
			log.FATAL.Fatal(err)
		}
	}

	selected, err := db.SelectedVehicle()
	if err != nil {
		selected.CarID = ""
	}

	for _, v := range vehicles {
		marker := " "
		if v.CarID == selected.CarID {
			marker = "*"
		}

		state := ""
		if v.Disabled {
			state = " (disabled)"
		}

		fmt.Printf("%s %s  %s (%s)%s\n", marker, v.CarID, v.Nickname, v.Type, state)
	}
}
