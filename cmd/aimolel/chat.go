package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Abd196-bit/aimolel/aimolel"
	"github.com/Abd196-bit/aimolel/tensor"
	"github.com/Abd196-bit/aimolel/tokenizer"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "chat with a trained model",
	Run: func(cmd *cobra.Command, args []string) {
		checkpointPath, err := cmd.Flags().GetString("checkpoint")
		if err != nil {
			log.Fatalln(err)
		}
		vocabPath, err := cmd.Flags().GetString("vocab")
		if err != nil {
			log.Fatalln(err)
		}
		temperature, err := cmd.Flags().GetFloat64("temperature")
		if err != nil {
			log.Fatalln(err)
		}
		topK, err := cmd.Flags().GetInt("top-k")
		if err != nil {
			log.Fatalln(err)
		}
		topP, err := cmd.Flags().GetFloat64("top-p")
		if err != nil {
			log.Fatalln(err)
		}
		maxLength, err := cmd.Flags().GetInt("max-length")
		if err != nil {
			log.Fatalln(err)
		}
		learn, err := cmd.Flags().GetBool("learn")
		if err != nil {
			log.Fatalln(err)
		}

		params, err := aimolel.NewGenerationParams(
			aimolel.WithTemperature(temperature),
			aimolel.WithTopK(topK),
			aimolel.WithTopP(topP),
			aimolel.WithMaxLength(maxLength),
		)
		if err != nil {
			log.Fatalln(err)
		}
		engineCfg, err := aimolel.NewEngineConfig(aimolel.WithParams(params))
		if err != nil {
			log.Fatalln(err)
		}
		engine := aimolel.NewInferenceEngine(engineCfg, nil, nil)

		ck, err := tensor.LoadCheckpoint(checkpointPath)
		if err != nil {
			log.Printf("no checkpoint loaded (%v), answering from fallback rules", err)
		} else {
			model, err := ck.Restore()
			if err != nil {
				log.Fatalln(err)
			}
			tok, err := tokenizer.Load(vocabPath)
			if err != nil {
				log.Fatalln(err)
			}
			engine.Publish(model, tok)
			info := engine.Info()
			log.Printf("model loaded: %d parameters, %d layers, vocab %d",
				info.Parameters, info.Layers, info.VocabSize)
		}

		var service *aimolel.LearningService
		if learn {
			cfg := aimolel.DefaultLearningConfig()
			cfg.CheckpointPath = checkpointPath
			cfg.VocabPath = vocabPath
			service = aimolel.NewLearningService(cfg, aimolel.DefaultTrainerConfig(),
				aimolel.NewMemoryDatabase(), nil, engine, nil)
			service.Start()
			defer service.Stop()
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		fmt.Println("Type a message, or /quit, /clear, /info, /stats.")
		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("> ")
			if !scanner.Scan() {
				break
			}
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "":
				continue
			case line == "/quit":
				return
			case line == "/clear":
				engine.ClearHistory()
				fmt.Println("history cleared")
				continue
			case line == "/info":
				info := engine.Info()
				if !info.Loaded {
					fmt.Println("no model loaded")
					continue
				}
				fmt.Printf("parameters: %d, layers: %d, d_model: %d, vocab: %d\n",
					info.Parameters, info.Layers, info.DModel, info.VocabSize)
				continue
			case line == "/stats":
				if service == nil {
					fmt.Println("learning disabled")
					continue
				}
				st := service.Stats()
				fmt.Printf("cycles: %d, examples trained: %d, training now: %v\n",
					st.CyclesRun, st.ExamplesTrained, st.IsTraining)
				continue
			}

			resp := engine.GenerateResponse(ctx, line, false, "")
			fmt.Println(resp)
			if service != nil {
				if err := service.CollectConversation(line, resp, "cli", ""); err != nil {
					log.Printf("collect: %v", err)
				}
			}
		}
	},
}

func init() {
	chatCmd.Flags().StringP("checkpoint", "c", "model.ckpt", "checkpoint path")
	chatCmd.Flags().String("vocab", "vocab.json", "vocabulary path")
	chatCmd.Flags().Float64P("temperature", "T", 0.8, "sampling temperature")
	chatCmd.Flags().Int("top-k", 50, "top-k filter, 0 disables")
	chatCmd.Flags().Float64("top-p", 0.95, "nucleus filter")
	chatCmd.Flags().Int("max-length", 512, "max generated tokens per reply")
	chatCmd.Flags().Bool("learn", false, "collect conversations and fine-tune in the background")
	rootCmd.AddCommand(chatCmd)
}
