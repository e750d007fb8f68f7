package main

import (
	"os"
)

func main() {
	if errExecute := rootCmd().Execute(); errExecute != nil {
		os.Exit(1)
	}
}
