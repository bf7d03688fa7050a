package main

import (
	"bufio"
	"context"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Abd196-bit/aimolel/aimolel"
	"github.com/Abd196-bit/aimolel/tensor"
	"github.com/Abd196-bit/aimolel/tokenizer"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "train a model from a text corpus",
	Run: func(cmd *cobra.Command, args []string) {
		dataPath, err := cmd.Flags().GetString("data")
		if err != nil {
			log.Fatalln(err)
		}
		checkpointPath, err := cmd.Flags().GetString("checkpoint")
		if err != nil {
			log.Fatalln(err)
		}
		vocabPath, err := cmd.Flags().GetString("vocab")
		if err != nil {
			log.Fatalln(err)
		}
		vocabSize, err := cmd.Flags().GetInt("vocab-size")
		if err != nil {
			log.Fatalln(err)
		}
		dModel, err := cmd.Flags().GetInt("d-model")
		if err != nil {
			log.Fatalln(err)
		}
		nHeads, err := cmd.Flags().GetInt("heads")
		if err != nil {
			log.Fatalln(err)
		}
		nLayers, err := cmd.Flags().GetInt("layers")
		if err != nil {
			log.Fatalln(err)
		}
		epochs, err := cmd.Flags().GetInt("epochs")
		if err != nil {
			log.Fatalln(err)
		}
		lr, err := cmd.Flags().GetFloat64("lr")
		if err != nil {
			log.Fatalln(err)
		}
		valSplit, err := cmd.Flags().GetFloat64("val-split")
		if err != nil {
			log.Fatalln(err)
		}
		seed, err := cmd.Flags().GetInt64("seed")
		if err != nil {
			log.Fatalln(err)
		}

		texts, err := readCorpus(dataPath)
		if err != nil {
			log.Fatalln(err)
		}
		if len(texts) == 0 {
			log.Fatalln("corpus is empty")
		}

		tok := tokenizer.New(vocabSize)
		tok.BuildVocab(texts)
		if err := tok.Save(vocabPath); err != nil {
			log.Fatalln(err)
		}
		log.Printf("vocabulary: %d tokens", tok.VocabSize())

		config := tensor.NewConfig(tok.VocabSize(),
			tensor.WithDModel(dModel),
			tensor.WithNHeads(nHeads),
			tensor.WithNLayers(nLayers),
			tensor.WithDFF(4*dModel),
		)
		rng := rand.New(rand.NewSource(seed))
		model, err := tensor.NewModel(config, rng)
		if err != nil {
			log.Fatalln(err)
		}

		nVal := int(float64(len(texts)) * valSplit)
		train, val := texts[:len(texts)-nVal], texts[len(texts)-nVal:]

		cfg := aimolel.DefaultTrainerConfig()
		cfg.Epochs = epochs
		cfg.LearningRate = lr
		cfg.CheckpointPath = checkpointPath
		cfg.Seed = seed
		trainer, err := aimolel.NewTrainer(model, tok, cfg, nil)
		if err != nil {
			log.Fatalln(err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := trainer.Train(ctx, train, val); err != nil {
			log.Fatalln(err)
		}
		log.Printf("saved checkpoint to %s", checkpointPath)
	},
}

func init() {
	trainCmd.Flags().StringP("data", "d", "corpus.txt", "training corpus, one sample per line")
	trainCmd.Flags().StringP("checkpoint", "c", "model.ckpt", "checkpoint output path")
	trainCmd.Flags().String("vocab", "vocab.json", "vocabulary output path")
	trainCmd.Flags().Int("vocab-size", 10000, "maximum vocabulary size")
	trainCmd.Flags().Int("d-model", 256, "embedding dimension")
	trainCmd.Flags().Int("heads", 8, "attention heads")
	trainCmd.Flags().Int("layers", 4, "transformer layers")
	trainCmd.Flags().IntP("epochs", "e", 10, "training epochs")
	trainCmd.Flags().Float64("lr", 3e-4, "peak learning rate")
	trainCmd.Flags().Float64("val-split", 0.1, "fraction of the corpus held out for validation")
	trainCmd.Flags().Int64("seed", 42, "random seed")
	rootCmd.AddCommand(trainCmd)
}

// readCorpus loads one training sample per non-empty line.
func readCorpus(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var texts []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			texts = append(texts, line)
		}
	}
	return texts, scanner.Err()
}
