package cmd

import (
	"errors"
	"net/http"
	_ "net/http/pprof" // pprof handler
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bluelink-kr/bluelinkd/api"
	"github.com/bluelink-kr/bluelinkd/core"
	"github.com/bluelink-kr/bluelinkd/server"
	"github.com/bluelink-kr/bluelinkd/util"
	"github.com/bluelink-kr/bluelinkd/vehicle/bluelink"
)

// runCmd starts the polling daemon
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the polling daemon",
	Run:   runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.PersistentFlags().StringP(
		"uri", "u",
		"0.0.0.0:7070",
		"Listen address",
	)
	bind(runCmd, "uri")

	runCmd.PersistentFlags().Bool(
		"metrics",
		false,
		"Expose metrics",
	)
	bind(runCmd, "metrics")

	runCmd.PersistentFlags().Bool(
		"profile",
		false,
		"Expose pprof profiles",
	)
	bind(runCmd, "profile")
}

func runRun(cmd *cobra.Command, args []string) {
	util.LogLevel(viper.GetString("log"), viper.GetStringMapString("levels"))
	log.INFO.Printf("bluelinkd %s (%s)", server.Version, server.Commit)

	db, err := openDatabase()
	if err != nil {
		log.FATAL.Fatal(err)
	}

	identity, err := restoreIdentity(db)
	if err != nil {
		if errors.Is(err, api.ErrReauthRequired) {
			log.FATAL.Fatal("refresh token expires soon - run bluelinkd login again")
		}
		log.FATAL.Fatal(err)
	}

	client := bluelink.NewAPI(util.NewLogger("bluelink"), identity)

	// reconcile the account's vehicle list; a failed sync falls back to the
	// stored descriptors so a vendor outage does not block startup
	registry := core.NewRegistry(util.NewLogger("registry"), db, vehicleList(client))

	vehicles, err := registry.Resync()
	if err != nil {
		log.WARN.Printf("vehicle sync failed, using stored vehicles: %v", err)
		if vehicles, err = db.Vehicles(); err != nil {
			log.FATAL.Fatal(err)
		}
	}

	selected, err := db.SelectedVehicle()
	if err != nil {
		log.FATAL.Fatal("no vehicle selected - run bluelinkd vehicles --select <carId>")
	}

	vehicle, err := core.EnsureSelected(log, vehicles, selected.CarID)
	if err != nil {
		log.FATAL.Fatal(err)
	}
	log.INFO.Printf("polling vehicle %s (%s)", vehicle.Nickname, vehicle.CarID)

	bus := EventBus.New()
	snapshot := core.NewSnapshot(clock.New(), bus)

	if viper.GetBool("metrics") {
		if _, err := core.NewMetrics(bus, prometheus.DefaultRegisterer); err != nil {
			log.FATAL.Fatal(err)
		}
	}

	coordinator := core.NewCoordinator(util.NewLogger("coord"), client, vehicle, snapshot)

	flow := bluelink.NewAuthFlow(util.NewLogger("auth"), identity)

	uri := viper.GetString("uri")
	log.INFO.Println("listening at", uri)

	httpd := server.NewHTTPd(uri, coordinator, snapshot, flow)

	// metrics
	if viper.GetBool("metrics") {
		httpd.Router().Handle("/metrics", promhttp.Handler())
	}

	// pprof
	if viper.GetBool("profile") {
		httpd.Router().PathPrefix("/debug/").Handler(http.DefaultServeMux)
	}

	stopC := make(chan struct{})
	exitC := make(chan struct{})

	go func() {
		coordinator.Run(stopC)
		close(exitC)
	}()

	// catch signals
	go func() {
		signalC := make(chan os.Signal, 1)
		signal.Notify(signalC, os.Interrupt, syscall.SIGTERM)

		<-signalC    // wait for signal
		close(stopC) // signal loops to end

		select {
		case <-exitC: // wait for loops to end
		case <-time.NewTimer(time.Minute).C: // wait max 1 fast period
		}

		os.Exit(1)
	}()

	log.FATAL.Println(httpd.ListenAndServe())
}
