package main

import (
	"context"
	"flag"
	"os"

	"github.com/arhyth/atmxgo"
	"github.com/rs/zerolog"
)

// seeder writes the sample accounts to the configured storage, replacing
// whatever is there.
func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfp := flag.String("config", "config.yml", "path to configuration file")
	flag.Parse()

	if err := run(*cfp, &logger); err != nil {
		logger.Fatal().Err(err).Msg("error seeding accounts")
	}
}

func run(cfgPath string, logger *zerolog.Logger) error {
	cfg, err := atmxgo.LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	repo, closeRepo, err := atmxgo.OpenRepository(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	accts := atmxgo.SampleAccounts()
	if err = repo.SaveAccounts(ctx, accts); err != nil {
		return err
	}
	logger.Info().Int("accounts", len(accts)).Str("storage", cfg.Storage.Driver).Msg("seeded")
	return nil
}
