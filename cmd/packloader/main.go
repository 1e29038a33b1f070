// Command packloader validates framework packs and loads them into the catalog.
//
//	packloader [-config path] [-dry-run] [-sync] pack.yaml [pack.json ...]
//
// With -dry-run no database writes happen; packs are parsed, validated and
// counted only. With no arguments the built-in packs are processed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"formaos-compliance/internal/config"
	"formaos-compliance/internal/domain/models"
	"formaos-compliance/internal/domain/services"
	"formaos-compliance/internal/frameworks"
	"formaos-compliance/internal/infrastructure/database"
	"formaos-compliance/internal/infrastructure/database/repository"
	"formaos-compliance/internal/infrastructure/graph"
	"formaos-compliance/pkg/logger"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	flags := flag.NewFlagSet("packloader", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to config file")
	dryRun := flags.Bool("dry-run", false, "validate and count without writing")
	sync := flags.Bool("sync", false, "sync organization-facing frameworks after loading")
	verbose := flags.Bool("v", false, "debug logging")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	log := logger.New(logger.Config{Level: "info", Format: "console", Output: os.Stderr})
	if *verbose {
		log = logger.New(logger.Config{Level: "debug", Format: "console", Output: os.Stderr})
	}

	sources, err := packSources(flags.Args())
	if err != nil {
		log.Error().Err(err).Msg("failed to read packs")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var loader *services.CatalogLoader
	var installer *services.PackInstaller
	if *dryRun {
		loader = services.NewCatalogLoader(nil, nil, nil, log)
	} else {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Error().Err(err).Msg("failed to load config")
			return 1
		}

		db, err := database.NewPostgres(ctx, cfg.Database, log)
		if err != nil {
			log.Error().Err(err).Msg("failed to connect to PostgreSQL")
			return 1
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			log.Error().Err(err).Msg("failed to migrate database")
			return 1
		}

		var mappingGraph services.MappingGraph
		if cfg.Neo4j.Enabled {
			client, err := graph.NewNeo4jClient(ctx, cfg.Neo4j, log)
			if err != nil {
				log.Warn().Err(err).Msg("failed to connect to Neo4j, skipping graph projection")
			} else {
				defer client.Close(context.Background())
				mappingGraph = graph.NewGraphRepository(client, log)
			}
		}

		repos := repository.NewRepositories(db.Pool(), log)
		loader = services.NewCatalogLoader(repos.Catalog, mappingGraph, nil, log)
		installer = services.NewPackInstaller(loader, repos.Catalog, repos.Compliance,
			services.NewSchemaDetector(repos.Compliance), nil, "", log)
	}

	failed := 0
	results := make([]*models.LoadResult, 0, len(sources))
	for _, src := range sources {
		result := loader.Load(ctx, src.source, services.LoadOptions{DryRun: *dryRun})
		results = append(results, result)

		if !result.OK {
			failed++
			log.Error().Str("pack", src.name).Str("error", result.Error).Msg("pack rejected")
			continue
		}
		for _, w := range result.Warnings {
			log.Warn().Str("pack", src.name).Msg(w)
		}

		if *sync && installer != nil {
			if err := installer.SyncComplianceFramework(ctx, result.FrameworkSlug); err != nil {
				failed++
				log.Error().Err(err).Str("framework", result.FrameworkSlug).Msg("framework sync failed")
			}
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		log.Error().Err(err).Msg("failed to write results")
		return 1
	}

	if failed > 0 {
		return 1
	}
	return 0
}

type namedSource struct {
	name   string
	source services.PackSource
}

// packSources reads the named files, or every built-in pack when paths is empty
func packSources(paths []string) ([]namedSource, error) {
	if len(paths) > 0 {
		out := make([]namedSource, 0, len(paths))
		for _, p := range paths {
			out = append(out, namedSource{name: p, source: services.PackFromPath(p)})
		}
		return out, nil
	}

	builtin := frameworks.Packs()
	entries, err := fs.ReadDir(builtin, ".")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]namedSource, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(builtin, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read built-in pack %s: %w", name, err)
		}
		out = append(out, namedSource{name: name, source: services.PackFromBytes(name, data)})
	}
	return out, nil
}
