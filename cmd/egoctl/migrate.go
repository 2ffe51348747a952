package main

import (
	"context"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/banshee-data/egomotion/internal/db"
)

func migrateCommand() *cli.Command {
	dbFlag := &cli.StringFlag{Name: "db", Value: "egomotion.db", Usage: "Database file"}
	return &cli.Command{
		Name:  "migrate",
		Usage: "Manage the database schema",
		Flags: []cli.Flag{dbFlag},
		Commands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "Apply all pending migrations",
				Action: withMigrations(func(cmd *cli.Command, d *db.DB, migFS fs.FS) error { return d.MigrateUp(migFS) }),
			},
			{
				Name:   "down",
				Usage:  "Roll back one migration",
				Action: withMigrations(func(cmd *cli.Command, d *db.DB, migFS fs.FS) error { return d.MigrateDown(migFS) }),
			},
			{
				Name:   "version",
				Usage:  "Print the current schema version",
				Action: withMigrations(printVersion),
			},
			{
				Name:      "to",
				Usage:     "Migrate up or down to a specific version",
				ArgsUsage: "<version>",
				Action: withMigrations(func(cmd *cli.Command, d *db.DB, migFS fs.FS) error {
					v, err := versionArg(cmd)
					if err != nil {
						return err
					}
					if v < 0 {
						return fmt.Errorf("version must not be negative")
					}
					return d.MigrateTo(migFS, uint(v))
				}),
			},
			{
				Name:      "force",
				Usage:     "Set the schema version without running migrations (clears the dirty flag)",
				ArgsUsage: "<version>",
				Action: withMigrations(func(cmd *cli.Command, d *db.DB, migFS fs.FS) error {
					v, err := versionArg(cmd)
					if err != nil {
						return err
					}
					return d.MigrateForce(migFS, v)
				}),
			},
		},
	}
}

func versionArg(cmd *cli.Command) (int, error) {
	if cmd.Args().Len() != 1 {
		return 0, fmt.Errorf("%s takes exactly one version argument", cmd.Name)
	}
	v, err := strconv.Atoi(cmd.Args().First())
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", cmd.Args().First(), err)
	}
	return v, nil
}

// withMigrations opens the database without applying migrations, runs fn
// and reports the resulting version.
func withMigrations(fn func(*cli.Command, *db.DB, fs.FS) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		migFS, err := db.MigrationsFS()
		if err != nil {
			return err
		}
		d, err := db.OpenDB(cmd.String("db"))
		if err != nil {
			return err
		}
		defer d.Close()
		if err := fn(cmd, d, migFS); err != nil {
			return err
		}
		if cmd.Name == "version" {
			return nil
		}
		return printVersion(cmd, d, migFS)
	}
}

func printVersion(cmd *cli.Command, d *db.DB, migFS fs.FS) error {
	v, dirty, err := d.MigrateVersion(migFS)
	if err != nil {
		return err
	}
	latest, err := db.LatestMigrationVersion(migFS)
	if err != nil {
		return err
	}
	state := ""
	if dirty {
		state = " (dirty)"
	}
	fmt.Fprintf(out(cmd), "schema version %d of %d%s\n", v, latest, state)
	return nil
}
