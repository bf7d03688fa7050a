// Command aimolel trains and serves a small self-learning chat model.
package main

import (
	"log"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "aimolel",
	Short: "self-learning chat language model",
	Long:  "aimolel trains a small transformer language model from scratch and serves it as a chat assistant that keeps learning from conversations and web content.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalln(err)
	}
}
