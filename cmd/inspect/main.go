package main

import (
	"chat-hub/internal"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", os.Getenv("BADGER_FILEPATH"), "Path to badger DB")
	prefix := flag.String("prefix", internal.DefaultInspectPrefix, "Prefix to scan (conv:, msg:, user:, uconv:, pair:, msgid:)")
	flag.Parse()

	if *dbPath == "" {
		log.Fatal("Missing -db or BADGER_FILEPATH")
	}
	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	rows, err := internal.Scan(db, *prefix, internal.RecordMapper)
	if err != nil {
		log.Fatal("Error while scanning: ", err)
	}

	fmt.Println(color.New(color.BgBlack, color.FgGreen).Render(fmt.Sprintf(" %s (%d entries) ", *prefix, len(rows))))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Kind", "Time", "Entity ID", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	for _, row := range rows {
		table.Append([]string{row.Key, row.Kind, row.Timestamp, row.EntityID, row.Detail})
	}
	table.Render()
}

// openDB opens the store read-only so it can run next to a live server.
func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)
	return badger.Open(opts)
}
