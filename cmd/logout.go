package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bluelink-kr/bluelinkd/util"
)

// logoutCmd invalidates the token server-side and clears stored credentials
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Invalidate the token and remove stored credentials",
	Run:   runLogout,
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}

func runLogout(cmd *cobra.Command, args []string) {
	util.LogLevel(viper.GetString("log"), viper.GetStringMapString("levels"))

	db, err := openDatabase()
	if err != nil {
		log.FATAL.Fatal(err)
	}

	identity, err := restoreIdentity(db)
	if err != nil {
		// expiring or rejected credentials still get removed locally
		log.WARN.Printf("restore: %v", err)
		if err := db.DeleteCredentials(); err != nil {
			log.FATAL.Fatal(err)
		}
		fmt.Println("Credentials removed.")
		return
	}

	if err := identity.Logout(); err != nil {
		log.FATAL.Fatal(err)
	}

	fmt.Println("Logged out.")
}
