package db

import (
	"fmt"
	"io"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand: up, down, status and
// force <version>. Output is written to out.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return fmt.Errorf("missing migrate action")
	}

	migrations, err := getMigrationsFS()
	if err != nil {
		return err
	}

	// Open without migrating; the action manages the schema.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action := args[0]; action {
	case "up":
		if err := database.MigrateUp(migrations); err != nil {
			return err
		}
	case "down":
		if err := database.MigrateDown(migrations); err != nil {
			return err
		}
	case "status":
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: scanner migrate force <version>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version number %q", args[1])
		}
		if err := database.MigrateForce(migrations, version); err != nil {
			return err
		}
	case "help":
		PrintMigrateHelp(out)
		return nil
	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action %q", action)
	}

	version, dirty, err := database.MigrateVersion(migrations)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	fmt.Fprintf(out, "Current version: %d (dirty: %v)\n", version, dirty)
	if dirty {
		fmt.Fprintln(out, "WARNING: a migration failed mid-execution; inspect the database and run: scanner migrate force <version>")
	}
	return nil
}

// PrintMigrateHelp prints usage for the migrate subcommand.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: scanner migrate <action> [args]

Actions:
  up                 apply all pending migrations
  down               roll back the most recent migration
  status             show the current migration version
  force <version>    set the migration version without running migrations
  help               show this help
`)
}
